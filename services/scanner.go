package services

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"options-sim/interfaces"
)

// ScannerService scans live option chains for trading opportunities:
// elevated implied volatility, unusual volume, near-the-money strikes,
// rapid theta decay, and near-term catalyst plays.
type ScannerService struct {
	api    interfaces.LiveDataClient
	logger *logrus.Logger
}

// ScanHit is a chain quote annotated with why the scan flagged it.
type ScanHit struct {
	*interfaces.OptionQuote
	ScanType           string  `json:"scan_type"`
	IVPercentile       float64 `json:"iv_percentile,omitempty"`
	VolumeOIRatio      float64 `json:"volume_oi_ratio,omitempty"`
	DistanceFromATMPct float64 `json:"distance_from_atm_pct,omitempty"`
	UnderlyingPrice    float64 `json:"underlying_price,omitempty"`
	AbsTheta           float64 `json:"abs_theta,omitempty"`
	DTE                int     `json:"dte,omitempty"`
}

// NewScannerService creates a scanner backed by the given data client.
func NewScannerService(api interfaces.LiveDataClient) *ScannerService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &ScannerService{
		api:    api,
		logger: logger,
	}
}

// ScanHighIV finds contracts whose implied volatility sits above a
// percentile threshold of the chain. High relative IV marks candidates
// for selling premium.
func (s *ScannerService) ScanHighIV(symbol string, thresholdPercentile float64, expiry string) ([]*ScanHit, error) {
	chain, err := s.api.GetOptionChain(symbol, expiry, 0)
	if err != nil {
		return nil, err
	}

	var ivs []float64
	for _, q := range chain {
		if q.IV > 0 {
			ivs = append(ivs, q.IV)
		}
	}
	if len(ivs) == 0 {
		return nil, nil
	}

	sort.Float64s(ivs)
	idx := int(float64(len(ivs)) * thresholdPercentile / 100.0)
	if idx > len(ivs)-1 {
		idx = len(ivs) - 1
	}
	ivThreshold := ivs[idx]

	var hits []*ScanHit
	for _, q := range chain {
		if q.IV >= ivThreshold && q.Bid > 0 {
			hits = append(hits, &ScanHit{
				OptionQuote:  q,
				ScanType:     "high_iv",
				IVPercentile: percentileRank(q.IV, ivs),
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].IV > hits[j].IV })
	s.logScan("high_iv", symbol, len(hits))
	return hits, nil
}

// ScanUnusualVolume finds contracts whose volume significantly exceeds
// open interest, which often signals institutional positioning.
func (s *ScannerService) ScanUnusualVolume(symbol string, volumeOIRatio float64, expiry string) ([]*ScanHit, error) {
	chain, err := s.api.GetOptionChain(symbol, expiry, 0)
	if err != nil {
		return nil, err
	}

	var hits []*ScanHit
	for _, q := range chain {
		if q.Volume > 0 && q.OpenInterest > 0 {
			ratio := float64(q.Volume) / float64(q.OpenInterest)
			if ratio >= volumeOIRatio {
				hits = append(hits, &ScanHit{
					OptionQuote:   q,
					ScanType:      "unusual_volume",
					VolumeOIRatio: round2(ratio),
				})
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].VolumeOIRatio > hits[j].VolumeOIRatio })
	s.logScan("unusual_volume", symbol, len(hits))
	return hits, nil
}

// ScanNearMoney finds contracts with strikes within rangePct of the
// current underlying price. These carry the highest gamma.
func (s *ScannerService) ScanNearMoney(symbol string, rangePct float64, expiry string) ([]*ScanHit, error) {
	spot, err := s.api.GetUnderlyingPrice(symbol)
	if err != nil {
		return nil, err
	}

	chain, err := s.api.GetOptionChain(symbol, expiry, 0)
	if err != nil {
		return nil, err
	}

	lower := spot * (1 - rangePct/100.0)
	upper := spot * (1 + rangePct/100.0)

	var hits []*ScanHit
	for _, q := range chain {
		if q.Strike >= lower && q.Strike <= upper && q.Bid > 0 {
			distancePct := math.Abs(q.Strike-spot) / spot * 100
			hits = append(hits, &ScanHit{
				OptionQuote:        q,
				ScanType:           "near_money",
				DistanceFromATMPct: round2(distancePct),
				UnderlyingPrice:    spot,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].DistanceFromATMPct < hits[j].DistanceFromATMPct
	})
	s.logScan("near_money", symbol, len(hits))
	return hits, nil
}

// ScanHighTheta finds contracts with rapid time decay. minTheta <= 0
// uses the chain's median absolute theta as the cutoff.
func (s *ScannerService) ScanHighTheta(symbol string, minTheta float64, expiry string) ([]*ScanHit, error) {
	chain, err := s.api.GetOptionChain(symbol, expiry, 0)
	if err != nil {
		return nil, err
	}

	var thetas []float64
	for _, q := range chain {
		if q.Theta != 0 {
			thetas = append(thetas, math.Abs(q.Theta))
		}
	}
	if len(thetas) == 0 {
		return nil, nil
	}

	if minTheta <= 0 {
		median, err := stats.Median(thetas)
		if err != nil {
			return nil, err
		}
		minTheta = median
	}

	var hits []*ScanHit
	for _, q := range chain {
		absTheta := math.Abs(q.Theta)
		if absTheta >= minTheta && q.Bid > 0 {
			hits = append(hits, &ScanHit{
				OptionQuote: q,
				ScanType:    "high_theta",
				AbsTheta:    round4(absTheta),
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].AbsTheta > hits[j].AbsTheta })
	s.logScan("high_theta", symbol, len(hits))
	return hits, nil
}

// ScanEarningsPlays finds near-term contracts with elevated IV and a
// live bid, often a tell for an upcoming earnings date or catalyst.
func (s *ScannerService) ScanEarningsPlays(symbol string, maxDTE int) ([]*ScanHit, error) {
	chain, err := s.api.GetOptionChain(symbol, "", 0)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var hits []*ScanHit
	for _, q := range chain {
		expiry, err := time.Parse("2006-01-02", q.Expiry)
		if err != nil {
			continue
		}
		dte := int(expiry.Sub(now).Hours() / 24)
		if dte > 0 && dte <= maxDTE && q.IV > 0 && q.Bid > 0 {
			hits = append(hits, &ScanHit{
				OptionQuote: q,
				ScanType:    "earnings",
				DTE:         dte,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DTE != hits[j].DTE {
			return hits[i].DTE < hits[j].DTE
		}
		return hits[i].IV > hits[j].IV
	})
	s.logScan("earnings", symbol, len(hits))
	return hits, nil
}

func (s *ScannerService) logScan(scanType, symbol string, count int) {
	s.logger.WithFields(logrus.Fields{
		"scan":   scanType,
		"symbol": symbol,
		"hits":   count,
	}).Info("Scan complete")
}

// percentileRank is the share of sorted values strictly below value,
// as a 0-100 percentage.
func percentileRank(value float64, sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	below := 0
	for _, v := range sorted {
		if v < value {
			below++
		}
	}
	return math.Round(float64(below)/float64(len(sorted))*1000) / 10
}
