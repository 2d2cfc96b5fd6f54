package services

import (
	"fmt"
	"math"
)

// Black-Scholes pricing and Greeks.
//
// Pure functions only: no state, no I/O. Theta is quoted per calendar
// day, vega per 1-percentage-point IV move, rho per 1-percentage-point
// rate move.

var (
	sqrt2   = math.Sqrt(2.0)
	sqrt2Pi = math.Sqrt(2.0 * math.Pi)
)

func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

// Greeks holds an option's theoretical price and sensitivities.
type Greeks struct {
	Price float64 `json:"price"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"` // per calendar day
	Vega  float64 `json:"vega"`  // per 1% IV move
	Rho   float64 `json:"rho"`   // per 1% rate move
}

// d1d2 computes the Black-Scholes d1/d2 terms. Degenerate inputs
// (T <= 0 or sigma <= 0) return zeros; callers hit the intrinsic-value
// boundary before these matter.
func d1d2(s, k, t, r, sigma float64) (float64, float64) {
	if t <= 0 || sigma <= 0 {
		return 0, 0
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

// BlackScholesPrice returns the closed-form option value. At T <= 0 the
// option is worth exactly its intrinsic value; that is the terminal
// boundary condition, not an approximation.
func BlackScholesPrice(s, k, t, r, sigma float64, optionType string) float64 {
	if t <= 0 {
		if optionType == "call" {
			return math.Max(s-k, 0)
		}
		return math.Max(k-s, 0)
	}

	d1, d2 := d1d2(s, k, t, r, sigma)
	discount := math.Exp(-r * t)

	if optionType == "call" {
		return s*normCDF(d1) - k*discount*normCDF(d2)
	}
	return k*discount*normCDF(-d2) - s*normCDF(-d1)
}

// CalculateGreeks returns price and the full Greek set. At or very near
// expiry (T <= 1e-10) or with vanishing volatility the Greeks
// degenerate: delta snaps to 1/0/-1 by moneyness and gamma, theta, vega
// and rho are zero. The boundary is explicit so there is no
// division-by-zero path.
func CalculateGreeks(s, k, t, r, sigma float64, optionType string) Greeks {
	price := BlackScholesPrice(s, k, t, r, sigma, optionType)

	if t <= 1e-10 || sigma <= 1e-10 {
		var delta float64
		if optionType == "call" {
			if s > k {
				delta = 1.0
			}
		} else {
			if s < k {
				delta = -1.0
			}
		}
		return Greeks{Price: price, Delta: delta}
	}

	d1, d2 := d1d2(s, k, t, r, sigma)
	sqrtT := math.Sqrt(t)
	discount := math.Exp(-r * t)
	pdfD1 := normPDF(d1)

	g := Greeks{
		Price: price,
		Gamma: pdfD1 / (s * sigma * sqrtT),
		Vega:  s * pdfD1 * sqrtT / 100.0,
	}

	if optionType == "call" {
		g.Delta = normCDF(d1)
		g.Theta = (-(s*pdfD1*sigma)/(2.0*sqrtT) - r*k*discount*normCDF(d2)) / 365.0
		g.Rho = k * t * discount * normCDF(d2) / 100.0
	} else {
		g.Delta = normCDF(d1) - 1.0
		g.Theta = (-(s*pdfD1*sigma)/(2.0*sqrtT) + r*k*discount*normCDF(-d2)) / 365.0
		g.Rho = -k * t * discount * normCDF(-d2) / 100.0
	}

	return g
}

// IVOptions control the implied-volatility solver.
type IVOptions struct {
	Tolerance float64 // convergence tolerance on price
	MaxIter   int     // Newton-Raphson iteration cap
}

// DefaultIVOptions are the standard solver settings.
func DefaultIVOptions() IVOptions {
	return IVOptions{Tolerance: 1e-6, MaxIter: 100}
}

// ImpliedVolatility solves for the volatility that reproduces a market
// price. Strategy: seed with the Brenner-Subrahmanyam approximation,
// iterate Newton-Raphson on raw (non-percent) vega, and fall back to
// bisection when Newton stalls. Deep ITM/OTM or near-expiry options
// have near-zero vega and Newton diverges there.
//
// Returns an error when T <= 0, when the market price sits below the
// discounted intrinsic bound (a no-arbitrage violation, rejected before
// any iteration), or when neither method converges. A poor estimate is
// never returned silently.
func ImpliedVolatility(marketPrice, s, k, t, r float64, optionType string, opts IVOptions) (float64, error) {
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-6
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 100
	}

	if t <= 0 {
		return 0, fmt.Errorf("cannot solve IV at expiry (T=%v)", t)
	}

	var intrinsic float64
	if optionType == "call" {
		intrinsic = math.Max(s-k*math.Exp(-r*t), 0)
	} else {
		intrinsic = math.Max(k*math.Exp(-r*t)-s, 0)
	}
	if marketPrice < intrinsic-opts.Tolerance {
		return 0, fmt.Errorf("market price %.4f below intrinsic %.4f", marketPrice, intrinsic)
	}

	// Brenner-Subrahmanyam initial guess, clamped to a sane band.
	sigma := math.Sqrt(2.0*math.Pi/t) * marketPrice / s
	sigma = math.Max(sigma, 0.01)
	sigma = math.Min(sigma, 5.0)

	for i := 0; i < opts.MaxIter; i++ {
		price := BlackScholesPrice(s, k, t, r, sigma, optionType)
		diff := price - marketPrice
		if math.Abs(diff) < opts.Tolerance {
			return sigma, nil
		}

		d1, _ := d1d2(s, k, t, r, sigma)
		vegaRaw := s * normPDF(d1) * math.Sqrt(t)
		if vegaRaw < 1e-12 {
			break
		}

		sigma -= diff / vegaRaw
		sigma = math.Max(sigma, 1e-6)
		sigma = math.Min(sigma, 10.0)
	}

	// Bisection fallback.
	lo, hi := 0.001, 5.0
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2.0
		price := BlackScholesPrice(s, k, t, r, mid, optionType)
		if math.Abs(price-marketPrice) < opts.Tolerance {
			return mid, nil
		}
		if price > marketPrice {
			hi = mid
		} else {
			lo = mid
		}
	}

	return 0, fmt.Errorf("IV did not converge for price=%.4f S=%v K=%v T=%.4f", marketPrice, s, k, t)
}
