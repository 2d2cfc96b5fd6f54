package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journalState() SessionState {
	open := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	return SessionState{
		Symbol:      "SPY",
		InitialCash: 100000,
		Cash:        99293.50,
		Started:     true,
		Portfolio: PortfolioState{
			Positions: map[string]Position{
				"SPY240119C00470000": {Contract: "SPY240119C00470000", Quantity: 5},
			},
			RealizedPnL:      -100.0,
			TotalCommissions: 16.25,
		},
		TradeHistory: []Trade{
			NewTrade(open, "SPY240119C00470000", "buy", 10, 2.50, 6.50, 468.50),
			NewTrade(open.Add(time.Hour), "SPY240119C00470000", "sell", 5, 2.30, 3.25, 467.80),
			NewTrade(open.Add(2*time.Hour), "SPY240119P00465000", "sell", 10, 1.80, 6.50, 468.20),
		},
	}
}

func TestBuildReport(t *testing.T) {
	journal := NewTradeJournal(t.TempDir())
	report := journal.BuildReport("demo", journalState())

	assert.Equal(t, "demo", report.Name)
	assert.Equal(t, "SPY", report.Symbol)
	assert.Equal(t, 3, report.Summary.TotalTrades)
	assert.Equal(t, 2, report.Summary.ContractsTraded)
	assert.Equal(t, 1, report.Summary.OpenPositions)
	assert.Equal(t, 10, report.Summary.ContractsBought)
	assert.Equal(t, 15, report.Summary.ContractsSold)
	assert.Equal(t, 2500.0, report.Summary.GrossPremiumPaid)
	// 5 * 2.30 * 100 + 10 * 1.80 * 100
	assert.InDelta(t, 2950.0, report.Summary.GrossPremiumReceived, 1e-9)
	assert.Equal(t, 2500.0, report.Summary.LargestFillNotional)
	assert.True(t, report.Summary.LastTrade.After(report.Summary.FirstTrade))

	require.Len(t, report.Contracts, 2)
	call := report.Contracts[0]
	assert.Equal(t, "SPY240119C00470000", call.Contract)
	assert.Equal(t, 2, call.Trades)
	assert.Equal(t, 10, call.BoughtQty)
	assert.Equal(t, 5, call.SoldQty)
	assert.Equal(t, 5, call.NetQuantity)
	assert.Equal(t, 2.50, call.AvgBuyPrice)
	assert.InDelta(t, 2.30, call.AvgSellPrice, 1e-9)
	assert.InDelta(t, 9.75, call.Commissions, 1e-9)
}

func TestBuildReportEmptySession(t *testing.T) {
	journal := NewTradeJournal(t.TempDir())
	report := journal.BuildReport("empty", SessionState{Symbol: "SPY", InitialCash: 100000, Cash: 100000})

	assert.Equal(t, 0, report.Summary.TotalTrades)
	assert.Empty(t, report.Contracts)
	assert.True(t, report.Summary.FirstTrade.IsZero())
}

func TestReportRoundTrip(t *testing.T) {
	journal := NewTradeJournal(t.TempDir())

	written, err := journal.WriteReport("monday", journalState())
	require.NoError(t, err)

	loaded, err := journal.ReadReport("monday")
	require.NoError(t, err)
	assert.Equal(t, written.Summary.TotalTrades, loaded.Summary.TotalTrades)
	assert.Equal(t, written.Summary.GrossPremiumPaid, loaded.Summary.GrossPremiumPaid)
	require.Len(t, loaded.Trades, 3)

	names, err := journal.ListReports()
	require.NoError(t, err)
	assert.Equal(t, []string{"monday"}, names)

	_, err = journal.ReadReport("tuesday")
	assert.Error(t, err)
}

func TestTradesCSV(t *testing.T) {
	journal := NewTradeJournal(t.TempDir())
	state := journalState()

	out, err := journal.TradesCSV(state.TradeHistory)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamp,contract,side,quantity,price,commission,underlying_price,total_cost", lines[0])
	assert.Contains(t, lines[1], "SPY240119C00470000")
	assert.Contains(t, lines[1], "buy")
	assert.Contains(t, lines[3], "SPY240119P00465000")
}

func TestTradesCSVEmpty(t *testing.T) {
	journal := NewTradeJournal(t.TempDir())

	out, err := journal.TradesCSV(nil)
	require.NoError(t, err)
	assert.Equal(t, "timestamp,contract,side,quantity,price,commission,underlying_price,total_cost", strings.TrimSpace(out))
}
