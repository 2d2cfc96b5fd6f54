package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// OCC option symbol helpers. Format: SPY240119C00470000, alphabetic
// underlying, YYMMDD expiry, C/P, strike in thousandths padded to
// eight digits. Polygon prefixes contracts with "O:", which is
// stripped before parsing.

var occPattern = regexp.MustCompile(`^([A-Z]+)(\d{6})([CP])(\d{8})$`)

// OCCContract is a parsed OCC symbol.
type OCCContract struct {
	Underlying string
	Expiry     string // YYYY-MM-DD
	OptionType string // "call" or "put"
	Strike     float64
}

// ParseOCCSymbol splits an OCC symbol into its components.
func ParseOCCSymbol(symbol string) (OCCContract, error) {
	symbol = strings.TrimPrefix(strings.ToUpper(symbol), "O:")
	m := occPattern.FindStringSubmatch(symbol)
	if m == nil {
		return OCCContract{}, fmt.Errorf("invalid OCC symbol: %s", symbol)
	}

	yy, _ := strconv.Atoi(m[2][0:2])
	mm, _ := strconv.Atoi(m[2][2:4])
	dd, _ := strconv.Atoi(m[2][4:6])
	strikeRaw, _ := strconv.Atoi(m[4])

	optionType := "put"
	if m[3] == "C" {
		optionType = "call"
	}

	return OCCContract{
		Underlying: m[1],
		Expiry:     fmt.Sprintf("%04d-%02d-%02d", 2000+yy, mm, dd),
		OptionType: optionType,
		Strike:     float64(strikeRaw) / 1000.0,
	}, nil
}

// ExtractUnderlying returns the alphabetic prefix of an OCC symbol.
// Works even when the rest of the symbol is malformed.
func ExtractUnderlying(symbol string) string {
	symbol = strings.TrimPrefix(strings.ToUpper(symbol), "O:")
	i := 0
	for i < len(symbol) && symbol[i] >= 'A' && symbol[i] <= 'Z' {
		i++
	}
	if i == 0 {
		return symbol
	}
	return symbol[:i]
}

// FormatOCCSymbol builds an OCC symbol from contract components.
func FormatOCCSymbol(underlying, expiry, optionType string, strike float64) string {
	cp := "P"
	if strings.EqualFold(optionType, "call") {
		cp = "C"
	}
	date := strings.ReplaceAll(expiry, "-", "")
	if len(date) == 8 {
		date = date[2:] // YYYYMMDD -> YYMMDD
	}
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), date, cp, int(strike*1000+0.5))
}
