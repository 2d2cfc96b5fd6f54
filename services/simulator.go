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

// ErrNotStarted is returned by every operation invoked before Start.
var ErrNotStarted = errors.New("simulation not started: call start first")

// theoreticalVol is the volatility assumed when a held contract has no
// live quote and positions must be marked from a Black-Scholes
// recompute instead.
const theoreticalVol = 0.25

// marketCloseHour is the simulated hour at which expiry-day positions
// are force-expired.
const marketCloseHour = 16

// SimulatorConfig holds the tunables for a replay session.
type SimulatorConfig struct {
	InitialCash           float64
	FillModel             FillModel
	CommissionPerContract float64
	RiskFreeRate          float64
}

// DefaultSimulatorConfig returns the standard session settings.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		InitialCash:           100000.0,
		FillModel:             FillMidpoint,
		CommissionPerContract: 0.65,
		RiskFreeRate:          0.05,
	}
}

// Simulator replays an options market with a discrete clock, executes
// orders through the fill model, and tracks positions and P&L in the
// portfolio ledger. One Simulator owns exactly one simulated account;
// it has no shared globals, so independent accounts are independent
// Simulator values. All operations are sequential.
type Simulator struct {
	data interfaces.DataProvider

	initialCash           float64
	cash                  float64
	fillModel             FillModel
	commissionPerContract float64
	riskFreeRate          float64

	currentTime  time.Time
	symbol       string
	portfolio    *Portfolio
	tradeHistory []Trade
	started      bool
	lastSnapshot *interfaces.MarketSnapshot

	logger *logrus.Logger
}

// NewSimulator creates a simulation engine on top of a data provider.
func NewSimulator(data interfaces.DataProvider, cfg SimulatorConfig) *Simulator {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if cfg.FillModel == "" {
		cfg.FillModel = FillMidpoint
	}

	return &Simulator{
		data:                  data,
		initialCash:           cfg.InitialCash,
		cash:                  cfg.InitialCash,
		fillModel:             cfg.FillModel,
		commissionPerContract: cfg.CommissionPerContract,
		riskFreeRate:          cfg.RiskFreeRate,
		portfolio:             NewPortfolio(),
		logger:                logger,
	}
}

// Configure applies per-session overrides. Zero values leave the
// current setting unchanged. Takes effect on the next Start.
func (s *Simulator) Configure(cash float64, model FillModel, commissionPerContract float64) {
	if cash > 0 {
		s.initialCash = cash
	}
	if model != "" {
		s.fillModel = model
	}
	if commissionPerContract > 0 {
		s.commissionPerContract = commissionPerContract
	}
}

// AccountSummary is the derived account view.
type AccountSummary struct {
	Cash             float64 `json:"cash"`
	PortfolioValue   float64 `json:"portfolio_value"`
	TotalValue       float64 `json:"total_value"`
	InitialCash      float64 `json:"initial_cash"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	RealizedPnL      float64 `json:"realized_pnl"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	TotalCommissions float64 `json:"total_commissions"`
}

// ExpiredPosition reports one forced close at expiration.
type ExpiredPosition struct {
	Contract       string  `json:"contract"`
	Quantity       int     `json:"quantity"`
	IntrinsicValue float64 `json:"intrinsic_value"`
	RealizedPnL    float64 `json:"realized_pnl"`
	Settlement     string  `json:"settlement"`
}

// Status is the full externally visible simulation state.
type Status struct {
	Timestamp        time.Time         `json:"timestamp"`
	Symbol           string            `json:"symbol"`
	UnderlyingPrice  float64           `json:"underlying_price"`
	Account          AccountSummary    `json:"account"`
	Positions        []*Position       `json:"positions"`
	PositionCount    int               `json:"position_count"`
	PortfolioGreeks  PortfolioGreeks   `json:"portfolio_greeks"`
	TradeCount       int               `json:"trade_count"`
	ExpiredPositions []ExpiredPosition `json:"expired_positions,omitempty"`
}

// OrderResult reports one order submission. Business rejections come
// back as data (Filled=false plus Reason) rather than errors so
// callers can branch on them.
type OrderResult struct {
	Filled        bool    `json:"filled"`
	Reason        string  `json:"reason,omitempty"`
	Contract      string  `json:"contract,omitempty"`
	Side          string  `json:"side,omitempty"`
	Quantity      int     `json:"quantity,omitempty"`
	FillPrice     float64 `json:"fill_price,omitempty"`
	Commission    float64 `json:"commission,omitempty"`
	TotalCost     float64 `json:"total_cost,omitempty"`
	Slippage      float64 `json:"slippage,omitempty"`
	CashRemaining float64 `json:"cash_remaining,omitempty"`
}

// ChainResult is an option chain view at the current simulated time.
type ChainResult struct {
	Timestamp       time.Time                 `json:"timestamp"`
	Underlying      string                    `json:"underlying"`
	UnderlyingPrice float64                   `json:"underlying_price"`
	Expiries        []string                  `json:"expiries"`
	Chain           []*interfaces.OptionQuote `json:"chain"`
	Count           int                       `json:"count"`
}

// Start initializes the session at a date/time: cash resets to the
// initial balance, the portfolio and trade history clear, and the
// first market snapshot loads. A midnight start time is normalized to
// 9:30 market open.
func (s *Simulator) Start(symbol string, start time.Time) (*Status, error) {
	if start.Hour() == 0 && start.Minute() == 0 {
		start = time.Date(start.Year(), start.Month(), start.Day(), 9, 30, 0, 0, start.Location())
	}

	s.symbol = strings.ToUpper(symbol)
	s.currentTime = start
	s.cash = s.initialCash
	s.portfolio = NewPortfolio()
	s.tradeHistory = nil
	s.started = true

	snapshot, err := s.data.GetSnapshot(s.symbol, s.currentTime)
	if err != nil {
		s.started = false
		return nil, fmt.Errorf("no data for %s at %s: %w", s.symbol, start.Format(time.RFC3339), err)
	}
	s.lastSnapshot = snapshot

	s.logger.WithFields(logrus.Fields{
		"symbol": s.symbol,
		"start":  start.Format("2006-01-02 15:04"),
		"cash":   s.initialCash,
	}).Info("Simulation started")

	return s.GetStatus()
}

// Step advances the clock, reloads the market, marks positions, and
// resolves expirations. When the provider has no data at the new
// instant the last snapshot is kept; stale data beats no data.
func (s *Simulator) Step(minutes int) (*Status, error) {
	if !s.started {
		return nil, ErrNotStarted
	}
	if minutes <= 0 {
		return nil, fmt.Errorf("minutes must be positive, got %d", minutes)
	}

	s.currentTime = s.currentTime.Add(time.Duration(minutes) * time.Minute)

	if snapshot, err := s.data.GetSnapshot(s.symbol, s.currentTime); err == nil {
		s.lastSnapshot = snapshot
	}

	s.markPositions()
	expired := s.checkExpirations()

	status, err := s.GetStatus()
	if err != nil {
		return nil, err
	}
	status.ExpiredPositions = expired
	return status, nil
}

// SubmitOrder runs one order through the fill model and, on a fill,
// settles cash, mutates the ledger, and appends the trade record.
// Buys require sufficient cash; sells may open naked shorts.
func (s *Simulator) SubmitOrder(contract, side string, quantity int, limitPrice *float64) (*OrderResult, error) {
	if !s.started {
		return nil, ErrNotStarted
	}

	side = strings.ToLower(side)
	if side != "buy" && side != "sell" {
		return &OrderResult{Filled: false, Reason: fmt.Sprintf("Invalid side: %s", side)}, nil
	}
	if quantity <= 0 {
		return &OrderResult{Filled: false, Reason: "Quantity must be positive"}, nil
	}

	quote, found, err := s.data.GetQuote(contract, s.currentTime)
	if err != nil || !found {
		if s.lastSnapshot != nil {
			quote, found = s.lastSnapshot.GetQuote(contract)
		}
		if !found {
			return &OrderResult{Filled: false, Reason: fmt.Sprintf("No quote found for %s", contract)}, nil
		}
	}

	fill := CalculateFill(side, quote.Bid, quote.Ask, quote.Volume, quantity, limitPrice, s.fillModel)
	if !fill.Filled {
		return &OrderResult{Filled: false, Reason: fill.Reason}, nil
	}

	commission := s.commissionPerContract * float64(quantity)
	notional := fill.FillPrice * float64(quantity) * ContractMultiplier

	var signedQty int
	var totalCost float64
	if side == "buy" {
		totalCost = notional + commission
		if totalCost > s.cash {
			return &OrderResult{
				Filled: false,
				Reason: fmt.Sprintf("Insufficient funds. Need $%.2f, have $%.2f", totalCost, s.cash),
			}, nil
		}
		s.cash -= totalCost
		signedQty = quantity
	} else {
		totalCost = -(notional - commission)
		s.cash += notional - commission
		signedQty = -quantity
	}

	underlyingPrice := 0.0
	if s.lastSnapshot != nil {
		underlyingPrice = s.lastSnapshot.UnderlyingPrice
	}

	s.portfolio.AddPosition(contract, signedQty, fill.FillPrice, commission, PositionMeta{
		Underlying: quote.Underlying,
		Strike:     quote.Strike,
		Expiry:     quote.Expiry,
		OptionType: quote.OptionType,
	})

	trade := NewTrade(s.currentTime, contract, side, quantity, fill.FillPrice, commission, underlyingPrice)
	s.tradeHistory = append(s.tradeHistory, trade)

	s.logger.WithFields(logrus.Fields{
		"contract":   contract,
		"side":       side,
		"quantity":   quantity,
		"fill_price": fill.FillPrice,
		"slippage":   fill.Slippage,
	}).Info("Order filled")

	return &OrderResult{
		Filled:        true,
		Contract:      contract,
		Side:          side,
		Quantity:      quantity,
		FillPrice:     fill.FillPrice,
		Commission:    round2(commission),
		TotalCost:     round2(totalCost),
		Slippage:      fill.Slippage,
		CashRemaining: round2(s.cash),
	}, nil
}

// GetChain returns the option chain at the current simulated time,
// enriching quotes with computed Greeks when the data source carries
// none.
func (s *Simulator) GetChain(symbol, expiry string) (*ChainResult, error) {
	if !s.started {
		return nil, ErrNotStarted
	}

	if symbol == "" {
		symbol = s.symbol
	}
	symbol = strings.ToUpper(symbol)

	snapshot, err := s.data.GetSnapshot(symbol, s.currentTime)
	if err != nil {
		return nil, err
	}

	quotes := snapshot.Chain
	if expiry != "" {
		quotes = snapshot.ChainForExpiry(expiry)
	}

	enriched := make([]*interfaces.OptionQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.Delta == 0 && q.Mid() > 0 {
			q = s.enrichGreeks(q, snapshot.UnderlyingPrice)
		}
		enriched = append(enriched, q)
	}

	return &ChainResult{
		Timestamp:       s.currentTime,
		Underlying:      symbol,
		UnderlyingPrice: snapshot.UnderlyingPrice,
		Expiries:        snapshot.AvailableExpiries(),
		Chain:           enriched,
		Count:           len(enriched),
	}, nil
}

// GetStatus derives the full session view from current state. No side
// effects.
func (s *Simulator) GetStatus() (*Status, error) {
	if !s.started {
		return nil, ErrNotStarted
	}

	underlyingPrice := 0.0
	if s.lastSnapshot != nil {
		underlyingPrice = s.lastSnapshot.UnderlyingPrice
	}

	return &Status{
		Timestamp:       s.currentTime,
		Symbol:          s.symbol,
		UnderlyingPrice: underlyingPrice,
		Account:         s.accountSummary(),
		Positions:       s.positionList(),
		PositionCount:   len(s.portfolio.Positions),
		PortfolioGreeks: s.portfolio.AggregateGreeks(),
		TradeCount:      len(s.tradeHistory),
	}, nil
}

// GetAccount returns the account summary.
func (s *Simulator) GetAccount() (*AccountSummary, error) {
	if !s.started {
		return nil, ErrNotStarted
	}
	summary := s.accountSummary()
	return &summary, nil
}

// GetPositions lists the open positions.
func (s *Simulator) GetPositions() ([]*Position, error) {
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.positionList(), nil
}

// GetHistory returns the ordered trade audit trail.
func (s *Simulator) GetHistory() ([]Trade, error) {
	if !s.started {
		return nil, ErrNotStarted
	}
	return append([]Trade(nil), s.tradeHistory...), nil
}

func (s *Simulator) accountSummary() AccountSummary {
	portfolioValue := s.portfolio.TotalMarketValue()
	totalValue := s.cash + portfolioValue

	returnPct := 0.0
	if s.initialCash != 0 {
		returnPct = (totalValue - s.initialCash) / s.initialCash * 100
	}

	return AccountSummary{
		Cash:             round2(s.cash),
		PortfolioValue:   round2(portfolioValue),
		TotalValue:       round2(totalValue),
		InitialCash:      s.initialCash,
		TotalReturnPct:   round4(returnPct),
		RealizedPnL:      round2(s.portfolio.RealizedPnL),
		UnrealizedPnL:    round2(s.portfolio.TotalUnrealizedPnL()),
		TotalCommissions: round2(s.portfolio.TotalCommissions),
	}
}

func (s *Simulator) positionList() []*Position {
	positions := make([]*Position, 0, len(s.portfolio.Positions))
	for _, p := range s.portfolio.Positions {
		positions = append(positions, p)
	}
	return positions
}

// markPositions refreshes every held position from the current
// snapshot, falling back to a theoretical Black-Scholes recompute when
// no live quote exists for the contract.
func (s *Simulator) markPositions() {
	if s.lastSnapshot == nil {
		return
	}

	for contract, pos := range s.portfolio.Positions {
		if quote, ok := s.lastSnapshot.GetQuote(contract); ok {
			s.portfolio.MarkToMarket(contract, quote.Mid(), quote.Delta, quote.Gamma, quote.Theta, quote.Vega)
			continue
		}

		if pos.Underlying == "" || pos.Strike == 0 || pos.Expiry == "" {
			continue
		}
		greeks, err := s.theoreticalGreeks(pos)
		if err != nil {
			s.logger.WithError(err).WithField("contract", contract).Debug("Theoretical mark failed, keeping last price")
			continue
		}
		s.portfolio.MarkToMarket(contract, greeks.Price, greeks.Delta, greeks.Gamma, greeks.Theta, greeks.Vega)
	}
}

// checkExpirations force-expires positions whose expiry date equals the
// current simulated date once the clock is at or past market close,
// cash-settling ITM contracts against the account balance.
func (s *Simulator) checkExpirations() []ExpiredPosition {
	today := s.currentTime.Format("2006-01-02")
	if s.currentTime.Hour() < marketCloseHour {
		return nil
	}

	underlyingPrice := 0.0
	if s.lastSnapshot != nil {
		underlyingPrice = s.lastSnapshot.UnderlyingPrice
	}

	var expired []ExpiredPosition
	for contract, pos := range s.portfolio.Positions {
		if pos.Expiry != today {
			continue
		}

		var intrinsic float64
		if pos.OptionType == "call" {
			intrinsic = math.Max(underlyingPrice-pos.Strike, 0)
		} else {
			intrinsic = math.Max(pos.Strike-underlyingPrice, 0)
		}

		quantity := pos.Quantity
		realized := s.portfolio.ExpirePosition(contract, intrinsic)

		settlement := "OTM — expired worthless"
		if intrinsic > 0 {
			settlement = "ITM — exercised/assigned"
			amount := intrinsic * math.Abs(float64(quantity)) * ContractMultiplier
			if quantity > 0 {
				s.cash += amount
			} else {
				s.cash -= amount
			}
		}

		s.logger.WithFields(logrus.Fields{
			"contract":  contract,
			"intrinsic": intrinsic,
			"realized":  realized,
		}).Info("Position expired")

		expired = append(expired, ExpiredPosition{
			Contract:       contract,
			Quantity:       quantity,
			IntrinsicValue: round4(intrinsic),
			RealizedPnL:    round2(realized),
			Settlement:     settlement,
		})
	}

	return expired
}

func (s *Simulator) enrichGreeks(q *interfaces.OptionQuote, underlyingPrice float64) *interfaces.OptionQuote {
	expiry, err := time.Parse("2006-01-02", q.Expiry)
	if err != nil {
		return q
	}

	t := math.Max(expiry.Sub(s.currentTime).Seconds()/(365.25*86400), 1e-10)
	iv := q.IV
	if iv <= 0 {
		iv = theoreticalVol
	}

	g := CalculateGreeks(underlyingPrice, q.Strike, t, s.riskFreeRate, iv, q.OptionType)

	enriched := *q
	enriched.Delta = g.Delta
	enriched.Gamma = g.Gamma
	enriched.Theta = g.Theta
	enriched.Vega = g.Vega
	return &enriched
}

func (s *Simulator) theoreticalGreeks(pos *Position) (Greeks, error) {
	if s.lastSnapshot == nil {
		return Greeks{}, errors.New("no snapshot available")
	}

	expiry, err := time.Parse("2006-01-02", pos.Expiry)
	if err != nil {
		return Greeks{}, fmt.Errorf("bad expiry %q: %w", pos.Expiry, err)
	}

	t := math.Max(expiry.Sub(s.currentTime).Seconds()/(365.25*86400), 1e-10)
	return CalculateGreeks(s.lastSnapshot.UnderlyingPrice, pos.Strike, t, s.riskFreeRate, theoreticalVol, pos.OptionType), nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
