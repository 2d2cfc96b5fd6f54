package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"options-sim/interfaces"
)

// CsvDataProvider replays historical options data from local CSV
// files. Accepts a single file or a directory of files following the
// canonical column schema; quotes are indexed by underlying and
// timestamp, and lookups resolve to the nearest timestamp at or before
// the requested one (or the earliest available when the request
// predates the data).
type CsvDataProvider struct {
	quotes     map[string]map[time.Time][]*interfaces.OptionQuote // underlying -> ts -> chain
	timestamps map[string][]time.Time                             // underlying -> sorted ts
	underlying map[string]map[time.Time]float64                   // underlying -> ts -> price
	logger     *logrus.Logger
}

type csvQuoteRow struct {
	Timestamp    string  `csv:"timestamp"`
	Symbol       string  `csv:"symbol"`
	Underlying   string  `csv:"underlying"`
	Strike       float64 `csv:"strike"`
	Expiry       string  `csv:"expiry"`
	OptionType   string  `csv:"option_type"`
	Bid          float64 `csv:"bid"`
	Ask          float64 `csv:"ask"`
	Last         float64 `csv:"last"`
	Volume       int64   `csv:"volume"`
	OpenInterest int64   `csv:"open_interest"`
	IV           float64 `csv:"iv"`
	Delta        float64 `csv:"delta"`
	Gamma        float64 `csv:"gamma"`
	Theta        float64 `csv:"theta"`
	Vega         float64 `csv:"vega"`
}

type csvUnderlyingRow struct {
	Timestamp string  `csv:"timestamp"`
	Symbol    string  `csv:"symbol"`
	Price     float64 `csv:"price"`
}

var csvTimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseCsvTimestamp(s string) (time.Time, error) {
	for _, layout := range csvTimestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// NewCsvDataProvider loads all data files under path into memory.
func NewCsvDataProvider(path string) (*CsvDataProvider, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	p := &CsvDataProvider{
		quotes:     make(map[string]map[time.Time][]*interfaces.OptionQuote),
		timestamps: make(map[string][]time.Time),
		underlying: make(map[string]map[time.Time]float64),
		logger:     logger,
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("data path not found: %w", err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read data directory: %w", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if name == "underlying.csv" {
				if err := p.loadUnderlyingFile(filepath.Join(path, name)); err != nil {
					return nil, err
				}
				continue
			}
			if strings.HasSuffix(name, ".csv") {
				files = append(files, filepath.Join(path, name))
			}
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no data files found at: %s", path)
	}

	total := 0
	for _, f := range files {
		n, err := p.loadQuoteFile(f)
		if err != nil {
			return nil, err
		}
		total += n
	}

	for symbol := range p.quotes {
		tsList := make([]time.Time, 0, len(p.quotes[symbol]))
		for ts := range p.quotes[symbol] {
			tsList = append(tsList, ts)
		}
		sort.Slice(tsList, func(i, j int) bool { return tsList[i].Before(tsList[j]) })
		p.timestamps[symbol] = tsList
	}

	if len(p.underlying) == 0 {
		p.approximateUnderlyingPrices()
	}

	logger.WithFields(logrus.Fields{
		"files":  len(files),
		"quotes": total,
	}).Info("Loaded CSV market data")

	return p, nil
}

func (p *CsvDataProvider) loadQuoteFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var rows []*csvQuoteRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for _, row := range rows {
		ts, err := parseCsvTimestamp(row.Timestamp)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}

		quote := &interfaces.OptionQuote{
			Timestamp:    ts,
			Symbol:       row.Symbol,
			Underlying:   row.Underlying,
			Strike:       row.Strike,
			Expiry:       row.Expiry,
			OptionType:   row.OptionType,
			Bid:          row.Bid,
			Ask:          row.Ask,
			Last:         row.Last,
			Volume:       row.Volume,
			OpenInterest: row.OpenInterest,
			IV:           row.IV,
			Delta:        row.Delta,
			Gamma:        row.Gamma,
			Theta:        row.Theta,
			Vega:         row.Vega,
		}

		if p.quotes[row.Underlying] == nil {
			p.quotes[row.Underlying] = make(map[time.Time][]*interfaces.OptionQuote)
		}
		p.quotes[row.Underlying][ts] = append(p.quotes[row.Underlying][ts], quote)
	}

	return len(rows), nil
}

func (p *CsvDataProvider) loadUnderlyingFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var rows []*csvUnderlyingRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for _, row := range rows {
		ts, err := parseCsvTimestamp(row.Timestamp)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if p.underlying[row.Symbol] == nil {
			p.underlying[row.Symbol] = make(map[time.Time]float64)
		}
		p.underlying[row.Symbol][ts] = row.Price
	}

	return nil
}

// approximateUnderlyingPrices falls back to the median strike per
// timestamp when no sidecar underlying.csv was provided. Crude, but
// strikes cluster around spot in real chains.
func (p *CsvDataProvider) approximateUnderlyingPrices() {
	for symbol, byTime := range p.quotes {
		p.underlying[symbol] = make(map[time.Time]float64, len(byTime))
		for ts, chain := range byTime {
			strikes := make([]float64, 0, len(chain))
			for _, q := range chain {
				strikes = append(strikes, q.Strike)
			}
			if median, err := stats.Median(strikes); err == nil {
				p.underlying[symbol][ts] = median
			}
		}
	}
}

func (p *CsvDataProvider) nearestTimestamp(symbol string, ts time.Time) (time.Time, bool) {
	tsList := p.timestamps[symbol]
	if len(tsList) == 0 {
		return time.Time{}, false
	}

	// Latest timestamp <= ts; earliest available as a last resort.
	idx := sort.Search(len(tsList), func(i int) bool { return tsList[i].After(ts) })
	if idx == 0 {
		return tsList[0], true
	}
	return tsList[idx-1], true
}

// GetSnapshot implements interfaces.DataProvider.
func (p *CsvDataProvider) GetSnapshot(symbol string, ts time.Time) (*interfaces.MarketSnapshot, error) {
	symbol = strings.ToUpper(symbol)
	nearest, ok := p.nearestTimestamp(symbol, ts)
	if !ok {
		return nil, fmt.Errorf("no data for %s at %s", symbol, ts.Format(time.RFC3339))
	}

	return &interfaces.MarketSnapshot{
		Timestamp:       nearest,
		Underlying:      symbol,
		UnderlyingPrice: p.underlyingPriceAt(symbol, nearest),
		Chain:           p.quotes[symbol][nearest],
	}, nil
}

// GetQuote implements interfaces.DataProvider.
func (p *CsvDataProvider) GetQuote(contract string, ts time.Time) (*interfaces.OptionQuote, bool, error) {
	underlying := ExtractUnderlying(contract)
	nearest, ok := p.nearestTimestamp(underlying, ts)
	if !ok {
		return nil, false, nil
	}

	for _, q := range p.quotes[underlying][nearest] {
		if q.Symbol == contract {
			return q, true, nil
		}
	}
	return nil, false, nil
}

// GetChain implements interfaces.DataProvider.
func (p *CsvDataProvider) GetChain(underlying, expiry string, ts time.Time) ([]*interfaces.OptionQuote, error) {
	snapshot, err := p.GetSnapshot(underlying, ts)
	if err != nil {
		return nil, err
	}
	return snapshot.ChainForExpiry(expiry), nil
}

// GetUnderlyingPrice implements interfaces.DataProvider.
func (p *CsvDataProvider) GetUnderlyingPrice(symbol string, ts time.Time) (float64, error) {
	symbol = strings.ToUpper(symbol)
	nearest, ok := p.nearestTimestamp(symbol, ts)
	if !ok {
		return 0, fmt.Errorf("no data for %s at %s", symbol, ts.Format(time.RFC3339))
	}
	return p.underlyingPriceAt(symbol, nearest), nil
}

func (p *CsvDataProvider) underlyingPriceAt(symbol string, ts time.Time) float64 {
	prices := p.underlying[symbol]
	if len(prices) == 0 {
		return 0
	}
	if price, ok := prices[ts]; ok {
		return price
	}

	// Nearest price at or before ts, else the earliest known.
	var bestTs time.Time
	var best float64
	var earliestTs time.Time
	var earliest float64
	first := true
	for pts, price := range prices {
		if first || pts.Before(earliestTs) {
			earliestTs = pts
			earliest = price
			first = false
		}
		if !pts.After(ts) && (bestTs.IsZero() || pts.After(bestTs)) {
			bestTs = pts
			best = price
		}
	}
	if !bestTs.IsZero() {
		return best
	}
	return earliest
}

// AvailableDates implements interfaces.DataProvider.
func (p *CsvDataProvider) AvailableDates(symbol string) ([]string, error) {
	symbol = strings.ToUpper(symbol)
	seen := make(map[string]bool)
	var dates []string
	for _, ts := range p.timestamps[symbol] {
		date := ts.Format("2006-01-02")
		if !seen[date] {
			seen[date] = true
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// AvailableExpiries implements interfaces.DataProvider.
func (p *CsvDataProvider) AvailableExpiries(symbol string, ts time.Time) ([]string, error) {
	snapshot, err := p.GetSnapshot(symbol, ts)
	if err != nil {
		return nil, err
	}
	return snapshot.AvailableExpiries(), nil
}
