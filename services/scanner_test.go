package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-sim/interfaces"
)

func scannerFixture() *mockLiveClient {
	client := newMockLiveClient()
	client.stockPrice = 100.0

	expiry := time.Now().AddDate(0, 0, 14).Format("2006-01-02")
	farExpiry := time.Now().AddDate(0, 2, 0).Format("2006-01-02")

	add := func(strike float64, expiry string, iv, theta float64, volume, oi int64) {
		symbol := FormatOCCSymbol("XYZ", expiry, "call", strike)
		client.quotes[symbol] = &interfaces.OptionQuote{
			Symbol:       symbol,
			Underlying:   "XYZ",
			Strike:       strike,
			Expiry:       expiry,
			OptionType:   "call",
			Bid:          1.00,
			Ask:          1.10,
			Volume:       volume,
			OpenInterest: oi,
			IV:           iv,
			Theta:        theta,
		}
	}

	add(90, expiry, 0.20, -0.02, 100, 1000)
	add(95, expiry, 0.30, -0.04, 500, 1000)
	add(100, expiry, 0.45, -0.08, 5000, 1000) // heavy volume, rich IV
	add(105, expiry, 0.60, -0.10, 300, 1000)
	add(120, farExpiry, 0.25, -0.01, 50, 1000)

	return client
}

func TestScanHighIV(t *testing.T) {
	scanner := NewScannerService(scannerFixture())

	hits, err := scanner.ScanHighIV("XYZ", 50, "")
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// Sorted by IV descending, all above the chain's median.
	assert.Equal(t, 0.60, hits[0].IV)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].IV, hits[i-1].IV)
	}
	for _, h := range hits {
		assert.Equal(t, "high_iv", h.ScanType)
		assert.GreaterOrEqual(t, h.IV, 0.30)
	}
}

func TestScanUnusualVolume(t *testing.T) {
	scanner := NewScannerService(scannerFixture())

	hits, err := scanner.ScanUnusualVolume("XYZ", 2.0, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 100.0, hits[0].Strike)
	assert.Equal(t, 5.0, hits[0].VolumeOIRatio)
}

func TestScanNearMoney(t *testing.T) {
	scanner := NewScannerService(scannerFixture())

	hits, err := scanner.ScanNearMoney("XYZ", 5.0, "")
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// Sorted by distance from spot.
	assert.Equal(t, 100.0, hits[0].Strike)
	assert.Equal(t, 0.0, hits[0].DistanceFromATMPct)
	assert.Equal(t, 100.0, hits[0].UnderlyingPrice)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i].DistanceFromATMPct, hits[i-1].DistanceFromATMPct)
	}
}

func TestScanHighTheta(t *testing.T) {
	scanner := NewScannerService(scannerFixture())

	hits, err := scanner.ScanHighTheta("XYZ", 0, "")
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	assert.Equal(t, 0.10, hits[0].AbsTheta)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].AbsTheta, hits[i-1].AbsTheta)
	}
}

func TestScanEarningsPlays(t *testing.T) {
	scanner := NewScannerService(scannerFixture())

	hits, err := scanner.ScanEarningsPlays("XYZ", 30)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	// Near-term only: the two-month expiry is excluded.
	for _, h := range hits {
		assert.LessOrEqual(t, h.DTE, 30)
		assert.Greater(t, h.DTE, 0)
	}

	// Within one expiry, richer IV ranks first.
	assert.Equal(t, 0.60, hits[0].IV)
}

func TestPercentileRank(t *testing.T) {
	sorted := []float64{0.1, 0.2, 0.3, 0.4}
	assert.Equal(t, 0.0, percentileRank(0.1, sorted))
	assert.Equal(t, 50.0, percentileRank(0.3, sorted))
	assert.Equal(t, 100.0, percentileRank(0.9, sorted))
}
