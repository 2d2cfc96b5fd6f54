package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-sim/interfaces"
)

// mockLiveClient serves canned live quotes keyed by contract.
type mockLiveClient struct {
	stockPrice float64
	quotes     map[string]*interfaces.OptionQuote
	failQuotes bool
}

func newMockLiveClient() *mockLiveClient {
	return &mockLiveClient{
		stockPrice: 468.50,
		quotes:     make(map[string]*interfaces.OptionQuote),
	}
}

func (m *mockLiveClient) GetStockQuote(symbol string) (*interfaces.StockQuote, error) {
	return &interfaces.StockQuote{
		Symbol:    symbol,
		Price:     m.stockPrice,
		Timestamp: time.Now(),
	}, nil
}

func (m *mockLiveClient) GetOptionQuote(contract string) (*interfaces.OptionQuote, error) {
	if m.failQuotes {
		return nil, errors.New("feed down")
	}
	if q, ok := m.quotes[contract]; ok {
		return q, nil
	}
	return nil, errors.New("contract not found")
}

func (m *mockLiveClient) GetOptionChain(symbol, expiry string, strikesAroundATM int) ([]*interfaces.OptionQuote, error) {
	var chain []*interfaces.OptionQuote
	for _, q := range m.quotes {
		if expiry == "" || q.Expiry == expiry {
			chain = append(chain, q)
		}
	}
	return chain, nil
}

func (m *mockLiveClient) GetUnderlyingPrice(symbol string) (float64, error) {
	return m.stockPrice, nil
}

func newTestLiveEngine(t *testing.T) (*LiveEngine, *mockLiveClient) {
	t.Helper()
	client := newMockLiveClient()
	client.quotes[testContract] = testQuote(time.Now())
	engine := NewLiveEngine(client, 100000, 0.65)
	return engine, client
}

func TestLiveEngineStart(t *testing.T) {
	engine, _ := newTestLiveEngine(t)

	_, err := engine.GetStatus()
	assert.ErrorIs(t, err, ErrLiveNotStarted)

	_, err = engine.GetHistory()
	assert.ErrorIs(t, err, ErrLiveNotStarted)

	status, err := engine.Start()
	require.NoError(t, err)
	assert.Equal(t, "live", status.Mode)
	assert.Equal(t, 100000.0, status.Account.Cash)
}

func TestLiveEngineSubmitOrder(t *testing.T) {
	t.Run("buy fills at the ask", func(t *testing.T) {
		engine, _ := newTestLiveEngine(t)
		_, err := engine.Start()
		require.NoError(t, err)

		result, err := engine.SubmitOrder(testContract, "buy", 10, nil)
		require.NoError(t, err)
		require.True(t, result.Filled)
		assert.Equal(t, 2.60, result.FillPrice)
		assert.Equal(t, 6.50, result.Commission)
		assert.InDelta(t, 100000.0-(2600.0+6.50), result.CashRemaining, 1e-9)
	})

	t.Run("sell fills at the bid", func(t *testing.T) {
		engine, _ := newTestLiveEngine(t)
		_, err := engine.Start()
		require.NoError(t, err)

		result, err := engine.SubmitOrder(testContract, "sell", 10, nil)
		require.NoError(t, err)
		require.True(t, result.Filled)
		assert.Equal(t, 2.50, result.FillPrice)
	})

	t.Run("limit rejects fills through the limit", func(t *testing.T) {
		engine, _ := newTestLiveEngine(t)
		_, err := engine.Start()
		require.NoError(t, err)

		result, err := engine.SubmitOrder(testContract, "buy", 1, floatPtr(2.55))
		require.NoError(t, err)
		assert.False(t, result.Filled)
	})

	t.Run("unknown contract rejects as data", func(t *testing.T) {
		engine, _ := newTestLiveEngine(t)
		_, err := engine.Start()
		require.NoError(t, err)

		result, err := engine.SubmitOrder("SPY240119C00999000", "buy", 1, nil)
		require.NoError(t, err)
		assert.False(t, result.Filled)
		assert.Contains(t, result.Reason, "Could not get quote")
	})
}

func TestLiveEngineRefreshKeepsLastMarkOnFailure(t *testing.T) {
	engine, client := newTestLiveEngine(t)
	_, err := engine.Start()
	require.NoError(t, err)

	_, err = engine.SubmitOrder(testContract, "buy", 1, nil)
	require.NoError(t, err)

	positions, err := engine.GetPositions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 2.55, positions[0].CurrentPrice, 1e-9)

	client.failQuotes = true
	positions, err = engine.GetPositions()
	require.NoError(t, err)
	assert.InDelta(t, 2.55, positions[0].CurrentPrice, 1e-9)
}

func TestLiveEngineStateRoundTrip(t *testing.T) {
	engine, client := newTestLiveEngine(t)
	_, err := engine.Start()
	require.NoError(t, err)

	_, err = engine.SubmitOrder(testContract, "buy", 5, nil)
	require.NoError(t, err)

	state := engine.ToState()

	restored := NewLiveEngine(client, 100000, 0.65)
	restored.LoadState(state)

	origAccount, err := engine.GetAccount()
	require.NoError(t, err)
	newAccount, err := restored.GetAccount()
	require.NoError(t, err)
	assert.Equal(t, *origAccount, *newAccount)
	origTrades, err := engine.GetHistory()
	require.NoError(t, err)
	restoredTrades, err := restored.GetHistory()
	require.NoError(t, err)
	assert.Equal(t, origTrades, restoredTrades)
}
