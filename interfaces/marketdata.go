package interfaces

import (
	"sort"
	"time"
)

// DataProvider defines the interface for options market data sources.
// Implementations include CSV file loaders and live API clients; the
// simulation engine only ever talks to this interface.
type DataProvider interface {
	// GetSnapshot returns the full market state for an underlying at a
	// point in time. Returns an error when no data exists at or before
	// the requested timestamp.
	GetSnapshot(symbol string, ts time.Time) (*MarketSnapshot, error)

	// GetQuote looks up a single contract by OCC symbol. The bool
	// reports whether the contract was found; err is reserved for
	// transport or data failures, so "not found" and "broken" stay
	// distinguishable at the call site.
	GetQuote(contract string, ts time.Time) (*OptionQuote, bool, error)

	// GetChain returns all quotes for one expiry at a point in time.
	GetChain(underlying, expiry string, ts time.Time) ([]*OptionQuote, error)

	// GetUnderlyingPrice returns the underlying asset price at a point in time.
	GetUnderlyingPrice(symbol string, ts time.Time) (float64, error)

	// AvailableDates lists trading dates with data for an underlying.
	AvailableDates(symbol string) ([]string, error)

	// AvailableExpiries lists expiration dates quoted at a point in time.
	AvailableExpiries(symbol string, ts time.Time) ([]string, error)
}

// OptionQuote is a single contract observation at one instant. Quotes
// are immutable once constructed; a fresher quote supersedes the prior
// one rather than mutating it.
type OptionQuote struct {
	Timestamp    time.Time `json:"timestamp"`
	Symbol       string    `json:"symbol"`     // OCC symbol, e.g. SPY240119C00470000
	Underlying   string    `json:"underlying"` // e.g. SPY
	Strike       float64   `json:"strike"`
	Expiry       string    `json:"expiry"`      // YYYY-MM-DD
	OptionType   string    `json:"option_type"` // "call" or "put"
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Last         float64   `json:"last"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
	IV           float64   `json:"iv"` // 0-1 scale
	Delta        float64   `json:"delta"`
	Gamma        float64   `json:"gamma"`
	Theta        float64   `json:"theta"` // per day
	Vega         float64   `json:"vega"`  // per 1% IV move
}

// Mid returns the bid/ask midpoint.
func (q *OptionQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2.0
}

// MarketSnapshot is the complete market state for one underlying at one
// timestamp: the underlying price plus every option quote valid then.
type MarketSnapshot struct {
	Timestamp       time.Time      `json:"timestamp"`
	Underlying      string         `json:"underlying"`
	UnderlyingPrice float64        `json:"underlying_price"`
	Chain           []*OptionQuote `json:"chain"`
}

// GetQuote looks up a contract in the snapshot by OCC symbol.
func (s *MarketSnapshot) GetQuote(symbol string) (*OptionQuote, bool) {
	for _, q := range s.Chain {
		if q.Symbol == symbol {
			return q, true
		}
	}
	return nil, false
}

// ChainForExpiry filters the chain to a single expiration date.
func (s *MarketSnapshot) ChainForExpiry(expiry string) []*OptionQuote {
	var out []*OptionQuote
	for _, q := range s.Chain {
		if q.Expiry == expiry {
			out = append(out, q)
		}
	}
	return out
}

// AvailableExpiries lists the distinct expiration dates in the chain.
func (s *MarketSnapshot) AvailableExpiries() []string {
	seen := make(map[string]bool)
	var expiries []string
	for _, q := range s.Chain {
		if !seen[q.Expiry] {
			seen[q.Expiry] = true
			expiries = append(expiries, q.Expiry)
		}
	}
	sort.Strings(expiries)
	return expiries
}
