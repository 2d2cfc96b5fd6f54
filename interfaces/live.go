package interfaces

import "time"

// LiveDataClient is the on-demand market data surface used by the live
// paper-trading engine. Unlike DataProvider there is no timestamp
// parameter: every call means "now".
type LiveDataClient interface {
	GetStockQuote(symbol string) (*StockQuote, error)
	GetOptionQuote(contract string) (*OptionQuote, error)
	GetOptionChain(symbol, expiry string, strikesAroundATM int) ([]*OptionQuote, error)
	GetUnderlyingPrice(symbol string) (float64, error)
}

// StockQuote is a live underlying quote.
type StockQuote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	Volume    int64     `json:"volume"`
	PrevClose float64   `json:"prev_close"`
	Timestamp time.Time `json:"timestamp"`
}
