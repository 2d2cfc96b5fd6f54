package services

import (
	"fmt"
	"math"
	"strings"
)

// FillModel selects how orders execute against the quoted market.
type FillModel string

const (
	// FillMidpoint fills at (bid+ask)/2. Balanced default.
	FillMidpoint FillModel = "midpoint"
	// FillAggressive buys at the ask and sells at the bid. Most
	// realistic for market orders.
	FillAggressive FillModel = "aggressive"
	// FillPassive buys at the bid and sells at the ask. Best case /
	// resting limit order fill.
	FillPassive FillModel = "passive"
)

// ParseFillModel validates a fill model selector.
func ParseFillModel(s string) (FillModel, error) {
	switch FillModel(strings.ToLower(s)) {
	case FillMidpoint:
		return FillMidpoint, nil
	case FillAggressive:
		return FillAggressive, nil
	case FillPassive:
		return FillPassive, nil
	}
	return "", fmt.Errorf("unknown fill model: %s", s)
}

// FillResult is the outcome of one execution attempt. Rejections carry
// a human-readable reason so callers can branch without string parsing
// the happy path.
type FillResult struct {
	Filled    bool    `json:"filled"`
	FillPrice float64 `json:"fill_price,omitempty"`
	Quantity  int     `json:"quantity,omitempty"`
	Slippage  float64 `json:"slippage,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

func rejected(format string, args ...interface{}) FillResult {
	return FillResult{Filled: false, Reason: fmt.Sprintf(format, args...)}
}

// CalculateFill decides the execution price for an order against a
// quoted market. Pure function: quote in, fill or rejection out.
//
// Validation runs in a fixed order and the first failing check wins:
// invalid side, non-positive quantity, no market (bid and ask both
// non-positive), no liquidity (zero volume). A negative bid is clamped
// to zero and a missing ask becomes bid+0.01 so a one-sided market
// still prices.
//
// Orders above 10% of daily volume pay slippage: linear in the excess,
// capped at half the quoted spread, rounded into the final penny price.
// Limit checks run after slippage, so a limit order never fills through
// its stated price.
func CalculateFill(side string, bid, ask float64, volume int64, quantity int, limitPrice *float64, model FillModel) FillResult {
	side = strings.ToLower(side)
	if side != "buy" && side != "sell" {
		return rejected("Invalid side: %s", side)
	}
	if quantity <= 0 {
		return rejected("Quantity must be positive")
	}
	if bid <= 0 && ask <= 0 {
		return rejected("No market (bid and ask are zero)")
	}
	if volume <= 0 {
		return rejected("No liquidity (volume = 0)")
	}

	if bid < 0 {
		bid = 0
	}
	if ask <= 0 {
		ask = bid + 0.01 // minimum synthetic spread
	}

	var basePrice float64
	if side == "buy" {
		switch model {
		case FillAggressive:
			basePrice = ask
		case FillPassive:
			basePrice = bid
		default:
			basePrice = (bid + ask) / 2.0
		}
	} else {
		switch model {
		case FillAggressive:
			basePrice = bid
		case FillPassive:
			basePrice = ask
		default:
			basePrice = (bid + ask) / 2.0
		}
	}

	// Slippage kicks in past 10% of daily volume: 1% of spread per 10%
	// of volume exceeded, capped at 50% of the spread.
	slippage := 0.0
	if float64(quantity) > float64(volume)*0.1 {
		spread := ask - bid
		excessRatio := (float64(quantity)/float64(volume) - 0.1) / 0.1
		slippage = spread * math.Min(excessRatio*0.01, 0.5)

		if side == "buy" {
			basePrice += slippage
		} else {
			basePrice -= slippage
			basePrice = math.Max(basePrice, 0.01)
		}
	}

	fillPrice := math.Round(basePrice*100) / 100

	if limitPrice != nil {
		if side == "buy" && fillPrice > *limitPrice {
			return rejected("Fill price %.2f exceeds limit %.2f", fillPrice, *limitPrice)
		}
		if side == "sell" && fillPrice < *limitPrice {
			return rejected("Fill price %.2f below limit %.2f", fillPrice, *limitPrice)
		}
	}

	return FillResult{
		Filled:    true,
		FillPrice: fillPrice,
		Quantity:  quantity,
		Slippage:  math.Round(slippage*10000) / 10000,
	}
}
