package services

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"options-sim/interfaces"
)

// ErrLiveNotStarted is returned by live-engine operations invoked
// before Start or Resume.
var ErrLiveNotStarted = errors.New("live session not started")

// LiveSessionState is the serializable live-session record.
type LiveSessionState struct {
	StartedAt             time.Time      `json:"started_at"`
	InitialCash           float64        `json:"initial_cash"`
	Cash                  float64        `json:"cash"`
	CommissionPerContract float64        `json:"commission_per_contract"`
	Portfolio             PortfolioState `json:"portfolio"`
	TradeHistory          []Trade        `json:"trade_history"`
}

// LiveEngine paper-trades against current market quotes instead of a
// replay clock. Orders fill aggressively at the live bid/ask; the
// portfolio ledger and P&L accounting are shared with the replay
// simulator.
type LiveEngine struct {
	api interfaces.LiveDataClient

	initialCash           float64
	cash                  float64
	commissionPerContract float64
	portfolio             *Portfolio
	tradeHistory          []Trade
	startedAt             time.Time
	started               bool

	logger *logrus.Logger
}

// NewLiveEngine creates a live paper-trading engine.
func NewLiveEngine(api interfaces.LiveDataClient, initialCash, commissionPerContract float64) *LiveEngine {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LiveEngine{
		api:                   api,
		initialCash:           initialCash,
		cash:                  initialCash,
		commissionPerContract: commissionPerContract,
		portfolio:             NewPortfolio(),
		logger:                logger,
	}
}

// LiveStatus is the externally visible live-session state.
type LiveStatus struct {
	Mode            string          `json:"mode"`
	StartedAt       time.Time       `json:"started_at"`
	Timestamp       time.Time       `json:"timestamp"`
	Account         AccountSummary  `json:"account"`
	Positions       []*Position     `json:"positions"`
	PositionCount   int             `json:"position_count"`
	PortfolioGreeks PortfolioGreeks `json:"portfolio_greeks"`
	TradeCount      int             `json:"trade_count"`
}

// Start begins a fresh live session.
func (e *LiveEngine) Start() (*LiveStatus, error) {
	e.startedAt = time.Now()
	e.started = true
	e.cash = e.initialCash
	e.portfolio = NewPortfolio()
	e.tradeHistory = nil

	e.logger.WithField("cash", e.initialCash).Info("Live session started")
	return e.GetStatus()
}

// GetStockQuote fetches a live underlying quote.
func (e *LiveEngine) GetStockQuote(symbol string) (*interfaces.StockQuote, error) {
	return e.api.GetStockQuote(strings.ToUpper(symbol))
}

// GetChain fetches the live option chain.
func (e *LiveEngine) GetChain(symbol, expiry string, strikes int) (*ChainResult, error) {
	symbol = strings.ToUpper(symbol)

	underlyingPrice, err := e.api.GetUnderlyingPrice(symbol)
	if err != nil {
		return nil, fmt.Errorf("underlying price for %s: %w", symbol, err)
	}

	chain, err := e.api.GetOptionChain(symbol, expiry, strikes)
	if err != nil {
		return nil, fmt.Errorf("option chain for %s: %w", symbol, err)
	}

	seen := make(map[string]bool)
	var expiries []string
	for _, q := range chain {
		if q.Expiry != "" && !seen[q.Expiry] {
			seen[q.Expiry] = true
			expiries = append(expiries, q.Expiry)
		}
	}

	return &ChainResult{
		Timestamp:       time.Now(),
		Underlying:      symbol,
		UnderlyingPrice: underlyingPrice,
		Expiries:        expiries,
		Chain:           chain,
		Count:           len(chain),
	}, nil
}

// SubmitOrder executes at current live prices: buys at the ask, sells
// at the bid, with the same limit, commission, and cash rules as the
// replay engine.
func (e *LiveEngine) SubmitOrder(contract, side string, quantity int, limitPrice *float64) (*OrderResult, error) {
	if !e.started {
		return nil, ErrLiveNotStarted
	}

	side = strings.ToLower(side)
	if side != "buy" && side != "sell" {
		return &OrderResult{Filled: false, Reason: fmt.Sprintf("Invalid side: %s", side)}, nil
	}
	if quantity <= 0 {
		return &OrderResult{Filled: false, Reason: "Quantity must be positive"}, nil
	}

	quote, err := e.api.GetOptionQuote(contract)
	if err != nil {
		return &OrderResult{Filled: false, Reason: fmt.Sprintf("Could not get quote for %s: %v", contract, err)}, nil
	}

	if quote.Bid <= 0 && quote.Ask <= 0 {
		return &OrderResult{Filled: false, Reason: fmt.Sprintf("No market for %s (bid=%.2f, ask=%.2f)", contract, quote.Bid, quote.Ask)}, nil
	}

	var fillPrice float64
	if side == "buy" {
		fillPrice = quote.Ask
		if fillPrice <= 0 {
			fillPrice = quote.Bid
		}
	} else {
		fillPrice = quote.Bid
		if fillPrice <= 0 {
			fillPrice = quote.Ask
		}
	}
	fillPrice = round2(fillPrice)

	if limitPrice != nil {
		if side == "buy" && fillPrice > *limitPrice {
			return &OrderResult{Filled: false, Reason: fmt.Sprintf("Ask %.2f exceeds limit %.2f", fillPrice, *limitPrice)}, nil
		}
		if side == "sell" && fillPrice < *limitPrice {
			return &OrderResult{Filled: false, Reason: fmt.Sprintf("Bid %.2f below limit %.2f", fillPrice, *limitPrice)}, nil
		}
	}

	commission := e.commissionPerContract * float64(quantity)
	notional := fillPrice * float64(quantity) * ContractMultiplier

	var signedQty int
	var totalCost float64
	if side == "buy" {
		totalCost = notional + commission
		if totalCost > e.cash {
			return &OrderResult{
				Filled: false,
				Reason: fmt.Sprintf("Insufficient funds. Need $%.2f, have $%.2f", totalCost, e.cash),
			}, nil
		}
		e.cash -= totalCost
		signedQty = quantity
	} else {
		totalCost = -(notional - commission)
		e.cash += notional - commission
		signedQty = -quantity
	}

	meta := PositionMeta{
		Underlying: quote.Underlying,
		Strike:     quote.Strike,
		Expiry:     quote.Expiry,
		OptionType: quote.OptionType,
	}
	if parsed, err := ParseOCCSymbol(contract); err == nil {
		meta.Underlying = parsed.Underlying
		meta.Strike = parsed.Strike
		meta.Expiry = parsed.Expiry
		meta.OptionType = parsed.OptionType
	}

	e.portfolio.AddPosition(contract, signedQty, fillPrice, commission, meta)

	underlyingPrice := 0.0
	if meta.Underlying != "" {
		if p, err := e.api.GetUnderlyingPrice(meta.Underlying); err == nil {
			underlyingPrice = p
		}
	}

	trade := NewTrade(time.Now(), contract, side, quantity, fillPrice, commission, underlyingPrice)
	e.tradeHistory = append(e.tradeHistory, trade)

	e.logger.WithFields(logrus.Fields{
		"contract":   contract,
		"side":       side,
		"quantity":   quantity,
		"fill_price": fillPrice,
	}).Info("Live order filled")

	return &OrderResult{
		Filled:        true,
		Contract:      contract,
		Side:          side,
		Quantity:      quantity,
		FillPrice:     fillPrice,
		Commission:    round2(commission),
		TotalCost:     round2(totalCost),
		CashRemaining: round2(e.cash),
	}, nil
}

// GetPositions returns open positions after refreshing marks from live
// quotes.
func (e *LiveEngine) GetPositions() ([]*Position, error) {
	if !e.started {
		return nil, ErrLiveNotStarted
	}
	e.refreshPositions()

	positions := make([]*Position, 0, len(e.portfolio.Positions))
	for _, p := range e.portfolio.Positions {
		positions = append(positions, p)
	}
	return positions, nil
}

// GetAccount returns the account summary with live marks.
func (e *LiveEngine) GetAccount() (*AccountSummary, error) {
	if !e.started {
		return nil, ErrLiveNotStarted
	}
	e.refreshPositions()
	summary := e.accountSummary()
	return &summary, nil
}

// GetStatus returns the full session view.
func (e *LiveEngine) GetStatus() (*LiveStatus, error) {
	if !e.started {
		return nil, ErrLiveNotStarted
	}

	if len(e.portfolio.Positions) > 0 {
		e.refreshPositions()
	}

	positions := make([]*Position, 0, len(e.portfolio.Positions))
	for _, p := range e.portfolio.Positions {
		positions = append(positions, p)
	}

	return &LiveStatus{
		Mode:            "live",
		StartedAt:       e.startedAt,
		Timestamp:       time.Now(),
		Account:         e.accountSummary(),
		Positions:       positions,
		PositionCount:   len(positions),
		PortfolioGreeks: e.portfolio.AggregateGreeks(),
		TradeCount:      len(e.tradeHistory),
	}, nil
}

// GetHistory returns the ordered trade audit trail.
func (e *LiveEngine) GetHistory() ([]Trade, error) {
	if !e.started {
		return nil, ErrLiveNotStarted
	}
	return append([]Trade(nil), e.tradeHistory...), nil
}

// ToState serializes the live session.
func (e *LiveEngine) ToState() LiveSessionState {
	return LiveSessionState{
		StartedAt:             e.startedAt,
		InitialCash:           e.initialCash,
		Cash:                  e.cash,
		CommissionPerContract: e.commissionPerContract,
		Portfolio:             e.portfolio.toState(),
		TradeHistory:          append([]Trade(nil), e.tradeHistory...),
	}
}

// LoadState restores a live session from a saved record.
func (e *LiveEngine) LoadState(state LiveSessionState) {
	e.startedAt = state.StartedAt
	e.initialCash = state.InitialCash
	e.cash = state.Cash
	e.commissionPerContract = state.CommissionPerContract
	e.portfolio = portfolioFromState(state.Portfolio)
	e.tradeHistory = append([]Trade(nil), state.TradeHistory...)
	e.started = true
}

func (e *LiveEngine) accountSummary() AccountSummary {
	portfolioValue := e.portfolio.TotalMarketValue()
	totalValue := e.cash + portfolioValue

	returnPct := 0.0
	if e.initialCash != 0 {
		returnPct = (totalValue - e.initialCash) / e.initialCash * 100
	}

	return AccountSummary{
		Cash:             round2(e.cash),
		PortfolioValue:   round2(portfolioValue),
		TotalValue:       round2(totalValue),
		InitialCash:      e.initialCash,
		TotalReturnPct:   round4(returnPct),
		RealizedPnL:      round2(e.portfolio.RealizedPnL),
		UnrealizedPnL:    round2(e.portfolio.TotalUnrealizedPnL()),
		TotalCommissions: round2(e.portfolio.TotalCommissions),
	}
}

// refreshPositions fetches fresh quotes for every held contract and
// updates marks. A failed quote keeps the last known price.
func (e *LiveEngine) refreshPositions() {
	for contract := range e.portfolio.Positions {
		quote, err := e.api.GetOptionQuote(contract)
		if err != nil {
			e.logger.WithError(err).WithField("contract", contract).Debug("Quote refresh failed, keeping last mark")
			continue
		}

		mid := quote.Mid()
		if mid <= 0 && quote.Bid > 0 && quote.Ask > 0 {
			mid = (quote.Bid + quote.Ask) / 2.0
		}
		if mid <= 0 {
			mid = math.Max(quote.Last, 0)
		}

		e.portfolio.MarkToMarket(contract, mid, quote.Delta, quote.Gamma, quote.Theta, quote.Vega)
	}
}
