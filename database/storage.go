package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"options-sim/models"
	"options-sim/services"
)

// ErrSessionNotFound is returned when no saved session exists under
// the requested name.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists trading sessions in SQLite. The engines only
// exchange state records; all filesystem and database concerns live
// here.
type SessionStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewSessionStore opens (or creates) the session database at dbPath.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.DBSession{},
		&models.DBSessionPosition{},
		&models.DBSessionTrade{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &SessionStore{
		db:     db,
		logger: log,
	}, nil
}

// SaveSession persists a simulation session under name, replacing any
// previous save with the same name.
func (s *SessionStore) SaveSession(name string, state services.SessionState) error {
	s.logger.WithFields(logrus.Fields{
		"session": name,
		"symbol":  state.Symbol,
	}).Info("Saving session")

	return s.db.Transaction(func(tx *gorm.DB) error {
		row := models.DBSession{
			Name:                  name,
			Kind:                  "sim",
			Symbol:                state.Symbol,
			CurrentTime:           state.CurrentTime,
			InitialCash:           state.InitialCash,
			Cash:                  state.Cash,
			FillModel:             state.FillModel,
			CommissionPerContract: state.CommissionPerContract,
			RiskFreeRate:          state.RiskFreeRate,
			Started:               state.Started,
			RealizedPnL:           state.Portfolio.RealizedPnL,
			TotalCommissions:      state.Portfolio.TotalCommissions,
		}
		if err := s.upsertSession(tx, &row); err != nil {
			return err
		}
		return s.saveLedger(tx, row.ID, state.Portfolio, state.TradeHistory)
	})
}

// LoadSession restores a simulation session saved under name.
func (s *SessionStore) LoadSession(name string) (services.SessionState, error) {
	var row models.DBSession
	if err := s.db.Where("name = ? AND kind = ?", name, "sim").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return services.SessionState{}, ErrSessionNotFound
		}
		return services.SessionState{}, fmt.Errorf("failed to load session: %w", err)
	}

	portfolio, trades, err := s.loadLedger(row.ID)
	if err != nil {
		return services.SessionState{}, err
	}
	portfolio.RealizedPnL = row.RealizedPnL
	portfolio.TotalCommissions = row.TotalCommissions

	return services.SessionState{
		Symbol:                row.Symbol,
		CurrentTime:           row.CurrentTime,
		InitialCash:           row.InitialCash,
		Cash:                  row.Cash,
		FillModel:             row.FillModel,
		CommissionPerContract: row.CommissionPerContract,
		RiskFreeRate:          row.RiskFreeRate,
		Started:               row.Started,
		Portfolio:             portfolio,
		TradeHistory:          trades,
	}, nil
}

// SaveLiveSession persists a live paper session under name.
func (s *SessionStore) SaveLiveSession(name string, state services.LiveSessionState) error {
	s.logger.WithField("session", name).Info("Saving live session")

	return s.db.Transaction(func(tx *gorm.DB) error {
		row := models.DBSession{
			Name:                  name,
			Kind:                  "live",
			StartedAt:             state.StartedAt,
			InitialCash:           state.InitialCash,
			Cash:                  state.Cash,
			CommissionPerContract: state.CommissionPerContract,
			Started:               true,
			RealizedPnL:           state.Portfolio.RealizedPnL,
			TotalCommissions:      state.Portfolio.TotalCommissions,
		}
		if err := s.upsertSession(tx, &row); err != nil {
			return err
		}
		return s.saveLedger(tx, row.ID, state.Portfolio, state.TradeHistory)
	})
}

// LoadLiveSession restores a live paper session saved under name.
func (s *SessionStore) LoadLiveSession(name string) (services.LiveSessionState, error) {
	var row models.DBSession
	if err := s.db.Where("name = ? AND kind = ?", name, "live").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return services.LiveSessionState{}, ErrSessionNotFound
		}
		return services.LiveSessionState{}, fmt.Errorf("failed to load session: %w", err)
	}

	portfolio, trades, err := s.loadLedger(row.ID)
	if err != nil {
		return services.LiveSessionState{}, err
	}
	portfolio.RealizedPnL = row.RealizedPnL
	portfolio.TotalCommissions = row.TotalCommissions

	return services.LiveSessionState{
		StartedAt:             row.StartedAt,
		InitialCash:           row.InitialCash,
		Cash:                  row.Cash,
		CommissionPerContract: row.CommissionPerContract,
		Portfolio:             portfolio,
		TradeHistory:          trades,
	}, nil
}

// ListSessions returns all saved sessions, newest first.
func (s *SessionStore) ListSessions() ([]*models.DBSession, error) {
	var rows []*models.DBSession
	if err := s.db.Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return rows, nil
}

// DeleteSession removes a saved session and its ledger rows.
func (s *SessionStore) DeleteSession(name string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row models.DBSession
		if err := tx.Where("name = ?", name).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to find session: %w", err)
		}
		if err := s.clearLedger(tx, row.ID); err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&row).Error; err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

func (s *SessionStore) upsertSession(tx *gorm.DB, row *models.DBSession) error {
	var existing models.DBSession
	err := tx.Where("name = ?", row.Name).First(&existing).Error
	switch {
	case err == nil:
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if err := tx.Save(row).Error; err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return s.clearLedger(tx, row.ID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("failed to look up session: %w", err)
	}
}

func (s *SessionStore) clearLedger(tx *gorm.DB, sessionID uint) error {
	if err := tx.Unscoped().Where("session_id = ?", sessionID).Delete(&models.DBSessionPosition{}).Error; err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}
	if err := tx.Unscoped().Where("session_id = ?", sessionID).Delete(&models.DBSessionTrade{}).Error; err != nil {
		return fmt.Errorf("failed to clear trades: %w", err)
	}
	return nil
}

func (s *SessionStore) saveLedger(tx *gorm.DB, sessionID uint, portfolio services.PortfolioState, trades []services.Trade) error {
	for _, pos := range portfolio.Positions {
		row := models.DBSessionPosition{
			SessionID:    sessionID,
			Contract:     pos.Contract,
			Quantity:     pos.Quantity,
			AvgCost:      pos.AvgCost,
			CurrentPrice: pos.CurrentPrice,
			Underlying:   pos.Underlying,
			Strike:       pos.Strike,
			Expiry:       pos.Expiry,
			OptionType:   pos.OptionType,
			Delta:        pos.Delta,
			Gamma:        pos.Gamma,
			Theta:        pos.Theta,
			Vega:         pos.Vega,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save position %s: %w", pos.Contract, err)
		}
	}

	for _, trade := range trades {
		row := models.DBSessionTrade{
			SessionID:       sessionID,
			TradeID:         trade.ID,
			Timestamp:       trade.Timestamp,
			Contract:        trade.Contract,
			Side:            trade.Side,
			Quantity:        trade.Quantity,
			Price:           trade.Price,
			Commission:      trade.Commission,
			UnderlyingPrice: trade.UnderlyingPrice,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save trade %s: %w", trade.ID, err)
		}
	}

	return nil
}

func (s *SessionStore) loadLedger(sessionID uint) (services.PortfolioState, []services.Trade, error) {
	var posRows []models.DBSessionPosition
	if err := s.db.Where("session_id = ?", sessionID).Find(&posRows).Error; err != nil {
		return services.PortfolioState{}, nil, fmt.Errorf("failed to load positions: %w", err)
	}

	portfolio := services.PortfolioState{
		Positions: make(map[string]services.Position, len(posRows)),
	}
	for _, row := range posRows {
		portfolio.Positions[row.Contract] = services.Position{
			Contract:     row.Contract,
			Quantity:     row.Quantity,
			AvgCost:      row.AvgCost,
			CurrentPrice: row.CurrentPrice,
			Underlying:   row.Underlying,
			Strike:       row.Strike,
			Expiry:       row.Expiry,
			OptionType:   row.OptionType,
			Delta:        row.Delta,
			Gamma:        row.Gamma,
			Theta:        row.Theta,
			Vega:         row.Vega,
		}
	}

	var tradeRows []models.DBSessionTrade
	if err := s.db.Where("session_id = ?", sessionID).Order("timestamp ASC, id ASC").Find(&tradeRows).Error; err != nil {
		return services.PortfolioState{}, nil, fmt.Errorf("failed to load trades: %w", err)
	}

	trades := make([]services.Trade, len(tradeRows))
	for i, row := range tradeRows {
		trades[i] = services.Trade{
			ID:              row.TradeID,
			Timestamp:       row.Timestamp,
			Contract:        row.Contract,
			Side:            row.Side,
			Quantity:        row.Quantity,
			Price:           row.Price,
			Commission:      row.Commission,
			UnderlyingPrice: row.UnderlyingPrice,
		}
	}

	return portfolio, trades, nil
}

// Close closes the database connection.
func (s *SessionStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
