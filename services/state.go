package services

import (
	"fmt"
	"time"
)

// Session state serialization. The engine never touches the
// filesystem; it exchanges these state records with the caller, and
// the database package persists them.

// PortfolioState is the serializable ledger snapshot.
type PortfolioState struct {
	Positions        map[string]Position `json:"positions"`
	RealizedPnL      float64             `json:"realized_pnl"`
	TotalCommissions float64             `json:"total_commissions"`
}

// SessionState is the full serializable simulation state. Reloading it
// reproduces bit-identical behavior to the pre-save session, including
// a fresh snapshot load at the restored time.
type SessionState struct {
	Symbol                string         `json:"symbol"`
	CurrentTime           time.Time      `json:"current_time"`
	InitialCash           float64        `json:"initial_cash"`
	Cash                  float64        `json:"cash"`
	FillModel             string         `json:"fill_model"`
	CommissionPerContract float64        `json:"commission_per_contract"`
	RiskFreeRate          float64        `json:"risk_free_rate"`
	Started               bool           `json:"started"`
	Portfolio             PortfolioState `json:"portfolio"`
	TradeHistory          []Trade        `json:"trade_history"`
}

func (pf *Portfolio) toState() PortfolioState {
	state := PortfolioState{
		Positions:        make(map[string]Position, len(pf.Positions)),
		RealizedPnL:      pf.RealizedPnL,
		TotalCommissions: pf.TotalCommissions,
	}
	for contract, pos := range pf.Positions {
		state.Positions[contract] = *pos
	}
	return state
}

func portfolioFromState(state PortfolioState) *Portfolio {
	pf := NewPortfolio()
	pf.RealizedPnL = state.RealizedPnL
	pf.TotalCommissions = state.TotalCommissions
	for contract, pos := range state.Positions {
		p := pos
		pf.Positions[contract] = &p
	}
	return pf
}

// ToState serializes the full simulation state.
func (s *Simulator) ToState() SessionState {
	return SessionState{
		Symbol:                s.symbol,
		CurrentTime:           s.currentTime,
		InitialCash:           s.initialCash,
		Cash:                  s.cash,
		FillModel:             string(s.fillModel),
		CommissionPerContract: s.commissionPerContract,
		RiskFreeRate:          s.riskFreeRate,
		Started:               s.started,
		Portfolio:             s.portfolio.toState(),
		TradeHistory:          append([]Trade(nil), s.tradeHistory...),
	}
}

// LoadState restores a session. A started session reissues a snapshot
// load at the restored time; a missing snapshot is tolerated the same
// way Step tolerates it.
func (s *Simulator) LoadState(state SessionState) error {
	fillModel := FillMidpoint
	if state.FillModel != "" {
		parsed, err := ParseFillModel(state.FillModel)
		if err != nil {
			return fmt.Errorf("restore session: %w", err)
		}
		fillModel = parsed
	}

	s.symbol = state.Symbol
	s.currentTime = state.CurrentTime
	s.initialCash = state.InitialCash
	s.cash = state.Cash
	s.fillModel = fillModel
	s.commissionPerContract = state.CommissionPerContract
	s.riskFreeRate = state.RiskFreeRate
	s.started = state.Started
	s.portfolio = portfolioFromState(state.Portfolio)
	s.tradeHistory = append([]Trade(nil), state.TradeHistory...)
	s.lastSnapshot = nil

	if s.started && !s.currentTime.IsZero() {
		if snapshot, err := s.data.GetSnapshot(s.symbol, s.currentTime); err == nil {
			s.lastSnapshot = snapshot
		}
	}

	return nil
}
