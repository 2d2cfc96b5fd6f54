package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvHeader = "timestamp,symbol,underlying,strike,expiry,option_type,bid,ask,last,volume,open_interest,iv,delta,gamma,theta,vega\n"

func writeQuoteFile(t *testing.T, dir, name, rows string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte(csvHeader+rows), 0644)
	require.NoError(t, err)
}

func csvFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeQuoteFile(t, dir, "spy_20240115.csv",
		"2024-01-15 09:30:00,SPY240119C00470000,SPY,470,2024-01-19,call,2.50,2.60,2.55,1000,5000,0.18,0.45,0.03,-0.06,0.11\n"+
			"2024-01-15 09:30:00,SPY240119P00465000,SPY,465,2024-01-19,put,1.80,1.90,1.85,800,4000,0.20,-0.35,0.03,-0.05,0.10\n"+
			"2024-01-15 09:30:00,SPY240216C00475000,SPY,475,2024-02-16,call,3.10,3.30,3.20,200,2000,0.17,0.40,0.02,-0.04,0.15\n"+
			"2024-01-15 10:30:00,SPY240119C00470000,SPY,470,2024-01-19,call,2.80,2.90,2.85,1200,5000,0.19,0.50,0.03,-0.06,0.11\n")
	return dir
}

func TestNewCsvDataProvider(t *testing.T) {
	t.Run("loads a directory of files", func(t *testing.T) {
		provider, err := NewCsvDataProvider(csvFixture(t))
		require.NoError(t, err)

		snapshot, err := provider.GetSnapshot("SPY", time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Len(t, snapshot.Chain, 3)
	})

	t.Run("loads a single file", func(t *testing.T) {
		dir := csvFixture(t)
		provider, err := NewCsvDataProvider(filepath.Join(dir, "spy_20240115.csv"))
		require.NoError(t, err)

		dates, err := provider.AvailableDates("SPY")
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-01-15"}, dates)
	})

	t.Run("missing path errors", func(t *testing.T) {
		_, err := NewCsvDataProvider("/nonexistent/data")
		assert.Error(t, err)
	})

	t.Run("empty directory errors", func(t *testing.T) {
		_, err := NewCsvDataProvider(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no data files")
	})
}

func TestCsvProviderNearestTimestamp(t *testing.T) {
	provider, err := NewCsvDataProvider(csvFixture(t))
	require.NoError(t, err)

	t.Run("exact match", func(t *testing.T) {
		snap, err := provider.GetSnapshot("SPY", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), snap.Timestamp)
	})

	t.Run("between timestamps resolves backward", func(t *testing.T) {
		snap, err := provider.GetSnapshot("SPY", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC), snap.Timestamp)
	})

	t.Run("before all data resolves to earliest", func(t *testing.T) {
		snap, err := provider.GetSnapshot("SPY", time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC), snap.Timestamp)
	})

	t.Run("unknown symbol errors", func(t *testing.T) {
		_, err := provider.GetSnapshot("QQQ", time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC))
		assert.Error(t, err)
	})
}

func TestCsvProviderGetQuote(t *testing.T) {
	provider, err := NewCsvDataProvider(csvFixture(t))
	require.NoError(t, err)

	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	quote, found, err := provider.GetQuote("SPY240119C00470000", at)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2.80, quote.Bid)
	assert.Equal(t, 2.90, quote.Ask)

	_, found, err = provider.GetQuote("SPY240119C00999000", at)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCsvProviderChainAndExpiries(t *testing.T) {
	provider, err := NewCsvDataProvider(csvFixture(t))
	require.NoError(t, err)

	at := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

	chain, err := provider.GetChain("SPY", "2024-01-19", at)
	require.NoError(t, err)
	assert.Len(t, chain, 2)

	expiries, err := provider.AvailableExpiries("SPY", at)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-19", "2024-02-16"}, expiries)
}

func TestCsvProviderUnderlyingPrice(t *testing.T) {
	t.Run("sidecar file wins", func(t *testing.T) {
		dir := csvFixture(t)
		sidecar := "timestamp,symbol,price\n" +
			"2024-01-15 09:30:00,SPY,468.50\n" +
			"2024-01-15 10:30:00,SPY,470.25\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "underlying.csv"), []byte(sidecar), 0644))

		provider, err := NewCsvDataProvider(dir)
		require.NoError(t, err)

		price, err := provider.GetUnderlyingPrice("SPY", time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 468.50, price)

		price, err = provider.GetUnderlyingPrice("SPY", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 470.25, price)
	})

	t.Run("median strike fallback without sidecar", func(t *testing.T) {
		provider, err := NewCsvDataProvider(csvFixture(t))
		require.NoError(t, err)

		// Strikes at 09:30 are 465, 470, 475; the median stands in for spot.
		price, err := provider.GetUnderlyingPrice("SPY", time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 470.0, price)
	})
}
