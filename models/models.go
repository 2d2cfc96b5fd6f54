package models

import (
	"time"

	"gorm.io/gorm"
)

// DBSession represents a saved trading session in the database. Both
// simulated (historical replay) and live paper sessions persist here;
// Kind distinguishes them. Positions and trades live in their own
// tables keyed by SessionID.
type DBSession struct {
	gorm.Model
	Name                  string `gorm:"uniqueIndex"`
	Kind                  string `gorm:"index"` // "sim" or "live"
	Symbol                string
	CurrentTime           time.Time
	StartedAt             time.Time
	InitialCash           float64
	Cash                  float64
	FillModel             string
	CommissionPerContract float64
	RiskFreeRate          float64
	Started               bool
	RealizedPnL           float64
	TotalCommissions      float64
}

// DBSessionPosition represents one open position within a session.
type DBSessionPosition struct {
	gorm.Model
	SessionID    uint   `gorm:"index:idx_session_contract"`
	Contract     string `gorm:"index:idx_session_contract"`
	Quantity     int
	AvgCost      float64
	CurrentPrice float64
	Underlying   string
	Strike       float64
	Expiry       string
	OptionType   string
	Delta        float64
	Gamma        float64
	Theta        float64
	Vega         float64
}

// DBSessionTrade represents one executed fill within a session.
type DBSessionTrade struct {
	gorm.Model
	SessionID       uint   `gorm:"index;uniqueIndex:idx_session_trade"`
	TradeID         string `gorm:"uniqueIndex:idx_session_trade"`
	Timestamp       time.Time
	Contract        string `gorm:"index"`
	Side            string
	Quantity        int
	Price           float64
	Commission      float64
	UnderlyingPrice float64
}

// TableName overrides for cleaner table names
func (DBSession) TableName() string {
	return "sessions"
}

func (DBSessionPosition) TableName() string {
	return "session_positions"
}

func (DBSessionTrade) TableName() string {
	return "session_trades"
}
