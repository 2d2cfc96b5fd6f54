package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-sim/services"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := NewSessionStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleState() services.SessionState {
	return services.SessionState{
		Symbol:                "SPY",
		CurrentTime:           time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		InitialCash:           100000,
		Cash:                  97443.50,
		FillModel:             "midpoint",
		CommissionPerContract: 0.65,
		RiskFreeRate:          0.05,
		Started:               true,
		Portfolio: services.PortfolioState{
			Positions: map[string]services.Position{
				"SPY240119C00470000": {
					Contract:     "SPY240119C00470000",
					Quantity:     10,
					AvgCost:      2.55,
					CurrentPrice: 2.85,
					Underlying:   "SPY",
					Strike:       470,
					Expiry:       "2024-01-19",
					OptionType:   "call",
					Delta:        0.50,
				},
			},
			RealizedPnL:      -6.50,
			TotalCommissions: 6.50,
		},
		TradeHistory: []services.Trade{
			services.NewTrade(
				time.Date(2024, 1, 15, 9, 45, 0, 0, time.UTC),
				"SPY240119C00470000", "buy", 10, 2.55, 6.50, 468.50,
			),
		},
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	state := sampleState()

	require.NoError(t, store.SaveSession("monday", state))

	loaded, err := store.LoadSession("monday")
	require.NoError(t, err)

	assert.Equal(t, state.Symbol, loaded.Symbol)
	assert.True(t, state.CurrentTime.Equal(loaded.CurrentTime))
	assert.Equal(t, state.Cash, loaded.Cash)
	assert.Equal(t, state.FillModel, loaded.FillModel)
	assert.Equal(t, state.Started, loaded.Started)
	assert.Equal(t, state.Portfolio.RealizedPnL, loaded.Portfolio.RealizedPnL)

	require.Len(t, loaded.Portfolio.Positions, 1)
	pos := loaded.Portfolio.Positions["SPY240119C00470000"]
	assert.Equal(t, 10, pos.Quantity)
	assert.Equal(t, 2.55, pos.AvgCost)
	assert.Equal(t, "call", pos.OptionType)

	require.Len(t, loaded.TradeHistory, 1)
	assert.Equal(t, state.TradeHistory[0].ID, loaded.TradeHistory[0].ID)
	assert.Equal(t, "buy", loaded.TradeHistory[0].Side)
}

func TestSessionStoreOverwrite(t *testing.T) {
	store := newTestStore(t)
	state := sampleState()

	require.NoError(t, store.SaveSession("slot", state))

	state.Cash = 50000
	state.Portfolio.Positions = nil
	state.TradeHistory = nil
	require.NoError(t, store.SaveSession("slot", state))

	loaded, err := store.LoadSession("slot")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, loaded.Cash)
	assert.Empty(t, loaded.Portfolio.Positions)
	assert.Empty(t, loaded.TradeHistory)

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSessionStoreSaveAs(t *testing.T) {
	store := newTestStore(t)
	state := sampleState()

	// The same trade records may live under multiple save slots.
	require.NoError(t, store.SaveSession("slot-a", state))
	require.NoError(t, store.SaveSession("slot-b", state))

	a, err := store.LoadSession("slot-a")
	require.NoError(t, err)
	b, err := store.LoadSession("slot-b")
	require.NoError(t, err)

	require.Len(t, a.TradeHistory, 1)
	require.Len(t, b.TradeHistory, 1)
	assert.Equal(t, a.TradeHistory[0].ID, b.TradeHistory[0].ID)

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSessionStoreMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadSession("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = store.DeleteSession("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveSession("gone", sampleState()))
	require.NoError(t, store.DeleteSession("gone"))

	_, err := store.LoadSession("gone")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLiveSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	state := services.LiveSessionState{
		StartedAt:             time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC),
		InitialCash:           25000,
		Cash:                  24000,
		CommissionPerContract: 0.65,
		Portfolio: services.PortfolioState{
			Positions:   map[string]services.Position{},
			RealizedPnL: -12.0,
		},
	}

	require.NoError(t, store.SaveLiveSession("paper", state))

	loaded, err := store.LoadLiveSession("paper")
	require.NoError(t, err)
	assert.True(t, state.StartedAt.Equal(loaded.StartedAt))
	assert.Equal(t, 24000.0, loaded.Cash)
	assert.Equal(t, -12.0, loaded.Portfolio.RealizedPnL)

	// Kind separation: a live save is invisible to sim loads.
	_, err = store.LoadSession("paper")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
