package services

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ContractMultiplier is the fixed option contract size in shares. Every
// monetary conversion in the ledger uses it.
const ContractMultiplier = 100

// Position is one open holding in one contract. Quantity is signed
// (positive long, negative short) and never zero; a position that
// returns to zero is deleted from the portfolio rather than kept
// around. Greeks are per contract; aggregate views scale them by
// quantity and the contract multiplier.
type Position struct {
	Contract     string  `json:"contract"` // OCC symbol
	Quantity     int     `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price"`
	Underlying   string  `json:"underlying"`
	Strike       float64 `json:"strike"`
	Expiry       string  `json:"expiry"` // YYYY-MM-DD
	OptionType   string  `json:"option_type"`
	Delta        float64 `json:"delta"`
	Gamma        float64 `json:"gamma"`
	Theta        float64 `json:"theta"`
	Vega         float64 `json:"vega"`
}

// MarketValue is the current value at the mark price.
func (p *Position) MarketValue() float64 {
	return p.CurrentPrice * float64(p.Quantity) * ContractMultiplier
}

// CostBasis is the total entry cost.
func (p *Position) CostBasis() float64 {
	return p.AvgCost * float64(p.Quantity) * ContractMultiplier
}

// UnrealizedPnL is always derived from the current mark, never cached.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.AvgCost) * float64(p.Quantity) * ContractMultiplier
}

// PositionDelta is the quantity-scaled delta.
func (p *Position) PositionDelta() float64 {
	return p.Delta * float64(p.Quantity) * ContractMultiplier
}

// PositionGamma is the quantity-scaled gamma.
func (p *Position) PositionGamma() float64 {
	return p.Gamma * float64(p.Quantity) * ContractMultiplier
}

// PositionTheta is the quantity-scaled daily theta.
func (p *Position) PositionTheta() float64 {
	return p.Theta * float64(p.Quantity) * ContractMultiplier
}

// PositionVega is the quantity-scaled vega.
func (p *Position) PositionVega() float64 {
	return p.Vega * float64(p.Quantity) * ContractMultiplier
}

// Trade is an immutable record of one executed fill. The ordered trade
// sequence is the audit trail; the ledger can be replayed from it.
type Trade struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Contract        string    `json:"contract"`
	Side            string    `json:"side"`
	Quantity        int       `json:"quantity"`
	Price           float64   `json:"price"`
	Commission      float64   `json:"commission"`
	UnderlyingPrice float64   `json:"underlying_price"`
}

// NewTrade builds a trade record with a fresh audit ID.
func NewTrade(ts time.Time, contract, side string, quantity int, price, commission, underlyingPrice float64) Trade {
	return Trade{
		ID:              uuid.NewString(),
		Timestamp:       ts,
		Contract:        contract,
		Side:            side,
		Quantity:        quantity,
		Price:           price,
		Commission:      commission,
		UnderlyingPrice: underlyingPrice,
	}
}

// TotalCost is the signed cash impact including commission (positive =
// cash outflow).
func (t Trade) TotalCost() float64 {
	notional := t.Price * float64(t.Quantity) * ContractMultiplier
	if t.Side == "buy" {
		return notional + t.Commission
	}
	return -notional + t.Commission
}

// PositionMeta carries contract identity attached to a trade so the
// ledger can label positions it opens.
type PositionMeta struct {
	Underlying string
	Strike     float64
	Expiry     string
	OptionType string
}

// Portfolio owns every open Position, keyed by contract, plus the
// cumulative realized P&L and commissions. Nothing outside the
// portfolio holds a mutable reference to a Position.
type Portfolio struct {
	Positions        map[string]*Position `json:"positions"`
	RealizedPnL      float64              `json:"realized_pnl"`
	TotalCommissions float64              `json:"total_commissions"`
}

// NewPortfolio returns an empty ledger.
func NewPortfolio() *Portfolio {
	return &Portfolio{Positions: make(map[string]*Position)}
}

// AddPosition applies one fill to the ledger and returns the realized
// P&L it produced (commission-only for a fresh open).
//
// Rules:
//   - new contract: open at the trade price; commission is charged
//     against realized P&L immediately
//   - same direction: blend average cost across old and added quantity
//   - opposite direction: close min(|old|,|added|) at the trade price;
//     full close removes the position, partial close keeps the old
//     average cost, and an over-close that flips sign restarts the
//     position at the trade price. A flip is economically a fresh
//     position, so the old cost basis does not blend in
func (pf *Portfolio) AddPosition(contract string, quantity int, price, commission float64, meta PositionMeta) float64 {
	pf.TotalCommissions += commission
	realized := 0.0

	pos, exists := pf.Positions[contract]
	if !exists {
		pf.Positions[contract] = &Position{
			Contract:   contract,
			Quantity:   quantity,
			AvgCost:    price,
			Underlying: meta.Underlying,
			Strike:     meta.Strike,
			Expiry:     meta.Expiry,
			OptionType: meta.OptionType,
		}
		pf.RealizedPnL -= commission
		return -commission
	}

	oldQty := pos.Quantity
	newQty := oldQty + quantity

	if oldQty != 0 && ((oldQty > 0 && quantity < 0) || (oldQty < 0 && quantity > 0)) {
		closingQty := min(abs(quantity), abs(oldQty))
		if oldQty > 0 {
			realized = (price - pos.AvgCost) * float64(closingQty) * ContractMultiplier
		} else {
			realized = (pos.AvgCost - price) * float64(closingQty) * ContractMultiplier
		}

		realized -= commission
		pf.RealizedPnL += realized

		if newQty == 0 {
			delete(pf.Positions, contract)
			return realized
		}

		pos.Quantity = newQty
		if (newQty > 0) != (oldQty > 0) {
			// Flipped sides: fresh cost basis at the trade price.
			pos.AvgCost = price
		}
	} else {
		totalCost := pos.AvgCost*math.Abs(float64(oldQty)) + price*math.Abs(float64(quantity))
		pos.Quantity = newQty
		if newQty != 0 {
			pos.AvgCost = totalCost / math.Abs(float64(newQty))
		}
	}

	if meta.Underlying != "" {
		pos.Underlying = meta.Underlying
	}
	if meta.Strike != 0 {
		pos.Strike = meta.Strike
	}
	if meta.Expiry != "" {
		pos.Expiry = meta.Expiry
	}
	if meta.OptionType != "" {
		pos.OptionType = meta.OptionType
	}

	return realized
}

// MarkToMarket refreshes the mark price and Greeks on a held contract.
// No-op for contracts not held. Never touches realized P&L.
func (pf *Portfolio) MarkToMarket(contract string, price, delta, gamma, theta, vega float64) {
	pos, ok := pf.Positions[contract]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	pos.Delta = delta
	pos.Gamma = gamma
	pos.Theta = theta
	pos.Vega = vega
}

// ExpirePosition forces a close at expiration and returns the realized
// P&L. A positive intrinsic value cash-settles against the cost basis;
// a worthless expiry loses the full premium for longs and keeps it for
// shorts. The position is removed unconditionally.
func (pf *Portfolio) ExpirePosition(contract string, intrinsicValue float64) float64 {
	pos, ok := pf.Positions[contract]
	if !ok {
		return 0
	}

	absQty := math.Abs(float64(pos.Quantity))
	var realized float64
	if intrinsicValue > 0 {
		if pos.Quantity > 0 {
			realized = (intrinsicValue - pos.AvgCost) * absQty * ContractMultiplier
		} else {
			realized = (pos.AvgCost - intrinsicValue) * absQty * ContractMultiplier
		}
	} else {
		if pos.Quantity > 0 {
			realized = -pos.AvgCost * absQty * ContractMultiplier
		} else {
			realized = pos.AvgCost * absQty * ContractMultiplier
		}
	}

	pf.RealizedPnL += realized
	delete(pf.Positions, contract)
	return realized
}

// TotalUnrealizedPnL sums unrealized P&L across all positions.
func (pf *Portfolio) TotalUnrealizedPnL() float64 {
	total := 0.0
	for _, p := range pf.Positions {
		total += p.UnrealizedPnL()
	}
	return total
}

// TotalMarketValue sums market value across all positions.
func (pf *Portfolio) TotalMarketValue() float64 {
	total := 0.0
	for _, p := range pf.Positions {
		total += p.MarketValue()
	}
	return total
}

// PortfolioGreeks holds the quantity-scaled Greek aggregates.
type PortfolioGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// AggregateGreeks sums the quantity-scaled Greeks across positions,
// computed on demand from current marks.
func (pf *Portfolio) AggregateGreeks() PortfolioGreeks {
	var g PortfolioGreeks
	for _, p := range pf.Positions {
		g.Delta += p.PositionDelta()
		g.Gamma += p.PositionGamma()
		g.Theta += p.PositionTheta()
		g.Vega += p.PositionVega()
	}
	return g
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
