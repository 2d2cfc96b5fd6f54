package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOCCSymbol(t *testing.T) {
	t.Run("call", func(t *testing.T) {
		parsed, err := ParseOCCSymbol("SPY240119C00470000")
		require.NoError(t, err)
		assert.Equal(t, "SPY", parsed.Underlying)
		assert.Equal(t, "2024-01-19", parsed.Expiry)
		assert.Equal(t, "call", parsed.OptionType)
		assert.Equal(t, 470.0, parsed.Strike)
	})

	t.Run("put with fractional strike", func(t *testing.T) {
		parsed, err := ParseOCCSymbol("AAPL250117P00202500")
		require.NoError(t, err)
		assert.Equal(t, "AAPL", parsed.Underlying)
		assert.Equal(t, "put", parsed.OptionType)
		assert.Equal(t, 202.5, parsed.Strike)
	})

	t.Run("polygon prefix stripped", func(t *testing.T) {
		parsed, err := ParseOCCSymbol("O:SPY240119C00470000")
		require.NoError(t, err)
		assert.Equal(t, "SPY", parsed.Underlying)
	})

	t.Run("malformed symbol rejected", func(t *testing.T) {
		_, err := ParseOCCSymbol("NOT-A-SYMBOL")
		assert.Error(t, err)
	})
}

func TestExtractUnderlying(t *testing.T) {
	assert.Equal(t, "SPY", ExtractUnderlying("SPY240119C00470000"))
	assert.Equal(t, "AAPL", ExtractUnderlying("O:AAPL250117P00202500"))
	assert.Equal(t, "123", ExtractUnderlying("123"))
}

func TestFormatOCCSymbol(t *testing.T) {
	assert.Equal(t, "SPY240119C00470000", FormatOCCSymbol("SPY", "2024-01-19", "call", 470))
	assert.Equal(t, "AAPL250117P00202500", FormatOCCSymbol("aapl", "2025-01-17", "put", 202.5))

	// Round trip.
	symbol := FormatOCCSymbol("QQQ", "2024-06-21", "put", 430)
	parsed, err := ParseOCCSymbol(symbol)
	assert.NoError(t, err)
	assert.Equal(t, 430.0, parsed.Strike)
	assert.Equal(t, "2024-06-21", parsed.Expiry)
}
