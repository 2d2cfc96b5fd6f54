package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestParseFillModel(t *testing.T) {
	model, err := ParseFillModel("MIDPOINT")
	require.NoError(t, err)
	assert.Equal(t, FillMidpoint, model)

	_, err = ParseFillModel("instant")
	assert.Error(t, err)
}

func TestCalculateFill(t *testing.T) {
	t.Run("midpoint fill without slippage", func(t *testing.T) {
		result := CalculateFill("buy", 2.50, 2.60, 1000, 10, nil, FillMidpoint)
		require.True(t, result.Filled)
		assert.Equal(t, 2.55, result.FillPrice)
		assert.Equal(t, 10, result.Quantity)
		assert.Equal(t, 0.0, result.Slippage)
	})

	t.Run("large order pays slippage", func(t *testing.T) {
		result := CalculateFill("buy", 2.50, 2.60, 100, 50, nil, FillMidpoint)
		require.True(t, result.Filled)
		assert.Greater(t, result.Slippage, 0.0)
		assert.GreaterOrEqual(t, result.FillPrice, 2.55)
	})

	t.Run("slippage capped at half the spread", func(t *testing.T) {
		// Absurd size relative to volume still caps at spread/2.
		result := CalculateFill("buy", 2.00, 3.00, 10, 10000, nil, FillMidpoint)
		require.True(t, result.Filled)
		assert.InDelta(t, 0.5, result.Slippage, 1e-9)
	})

	t.Run("aggressive buys the ask and sells the bid", func(t *testing.T) {
		buy := CalculateFill("buy", 2.50, 2.60, 1000, 1, nil, FillAggressive)
		sell := CalculateFill("sell", 2.50, 2.60, 1000, 1, nil, FillAggressive)
		assert.Equal(t, 2.60, buy.FillPrice)
		assert.Equal(t, 2.50, sell.FillPrice)
	})

	t.Run("passive buys the bid and sells the ask", func(t *testing.T) {
		buy := CalculateFill("buy", 2.50, 2.60, 1000, 1, nil, FillPassive)
		sell := CalculateFill("sell", 2.50, 2.60, 1000, 1, nil, FillPassive)
		assert.Equal(t, 2.50, buy.FillPrice)
		assert.Equal(t, 2.60, sell.FillPrice)
	})

	t.Run("validation order", func(t *testing.T) {
		// Invalid side wins even with other problems present.
		result := CalculateFill("hold", 0, 0, 0, -1, nil, FillMidpoint)
		require.False(t, result.Filled)
		assert.Contains(t, result.Reason, "Invalid side")

		result = CalculateFill("buy", 0, 0, 0, -1, nil, FillMidpoint)
		require.False(t, result.Filled)
		assert.Contains(t, result.Reason, "Quantity must be positive")

		result = CalculateFill("buy", 0, 0, 0, 1, nil, FillMidpoint)
		require.False(t, result.Filled)
		assert.Contains(t, result.Reason, "No market")

		result = CalculateFill("buy", 2.50, 2.60, 0, 1, nil, FillMidpoint)
		require.False(t, result.Filled)
		assert.Contains(t, result.Reason, "No liquidity")
	})

	t.Run("one sided market synthesizes an ask", func(t *testing.T) {
		result := CalculateFill("buy", 2.50, 0, 1000, 1, nil, FillAggressive)
		require.True(t, result.Filled)
		assert.Equal(t, 2.51, result.FillPrice)
	})

	t.Run("negative bid clamps to zero", func(t *testing.T) {
		result := CalculateFill("buy", -1.00, 0.50, 1000, 1, nil, FillPassive)
		require.True(t, result.Filled)
		assert.Equal(t, 0.0, result.FillPrice)
	})

	t.Run("buy limit rejects fills above the limit", func(t *testing.T) {
		result := CalculateFill("buy", 2.50, 2.60, 1000, 1, floatPtr(2.50), FillMidpoint)
		require.False(t, result.Filled)
		assert.Contains(t, result.Reason, "exceeds limit")

		result = CalculateFill("buy", 2.50, 2.60, 1000, 1, floatPtr(2.55), FillMidpoint)
		assert.True(t, result.Filled)
	})

	t.Run("sell limit rejects fills below the limit", func(t *testing.T) {
		result := CalculateFill("sell", 2.50, 2.60, 1000, 1, floatPtr(2.60), FillMidpoint)
		require.False(t, result.Filled)
		assert.Contains(t, result.Reason, "below limit")
	})

	t.Run("limit checked after slippage", func(t *testing.T) {
		// Small order fills at 2.55 midpoint; oversized order slips
		// past the same limit and must reject.
		small := CalculateFill("buy", 2.50, 2.60, 1000, 10, floatPtr(2.55), FillMidpoint)
		assert.True(t, small.Filled)

		big := CalculateFill("buy", 2.50, 2.60, 10, 1000, floatPtr(2.55), FillMidpoint)
		require.False(t, big.Filled)
		assert.Contains(t, big.Reason, "exceeds limit")
	})

	t.Run("sell price floored at a penny", func(t *testing.T) {
		result := CalculateFill("sell", 0.01, 0.03, 10, 10000, nil, FillMidpoint)
		require.True(t, result.Filled)
		assert.GreaterOrEqual(t, result.FillPrice, 0.01)
	})
}
