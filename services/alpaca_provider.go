package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"options-sim/interfaces"
)

// AlpacaLiveClient fetches real-time stock and options data from the
// Alpaca market data API. Options snapshots come from the v1beta1
// endpoints and include quotes, Greeks, and implied volatility.
type AlpacaLiveClient struct {
	apiKey    string
	secretKey string
	baseURL   string
	logger    *logrus.Logger
	client    *http.Client
}

// NewAlpacaLiveClient creates a client authenticated with the given
// API key pair.
func NewAlpacaLiveClient(apiKey, secretKey string) *AlpacaLiveClient {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &AlpacaLiveClient{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   "https://data.alpaca.markets",
		logger:    logger,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type alpacaStockSnapshot struct {
	LatestTrade struct {
		Timestamp time.Time `json:"t"`
		Price     float64   `json:"p"`
	} `json:"latestTrade"`
	DailyBar struct {
		Volume int64 `json:"v"`
	} `json:"dailyBar"`
	PrevDailyBar struct {
		Close float64 `json:"c"`
	} `json:"prevDailyBar"`
}

type alpacaOptionSnapshots struct {
	Snapshots map[string]alpacaOptionContract `json:"snapshots"`
}

type alpacaOptionContract struct {
	LatestQuote struct {
		Timestamp time.Time `json:"t"`
		BidPrice  float64   `json:"bp"`
		AskPrice  float64   `json:"ap"`
	} `json:"latestQuote"`
	LatestTrade struct {
		Price float64 `json:"p"`
		Size  int64   `json:"s"`
	} `json:"latestTrade"`
	Greeks struct {
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
		Theta float64 `json:"theta"`
		Vega  float64 `json:"vega"`
	} `json:"greeks"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
}

func (c *AlpacaLiveClient) getJSON(rawURL string, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return err
	}

	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetStockQuote implements interfaces.LiveDataClient.
func (c *AlpacaLiveClient) GetStockQuote(symbol string) (*interfaces.StockQuote, error) {
	var snap alpacaStockSnapshot
	u := fmt.Sprintf("%s/v2/stocks/%s/snapshot", c.baseURL, url.PathEscape(symbol))
	if err := c.getJSON(u, &snap); err != nil {
		return nil, fmt.Errorf("failed to fetch stock snapshot: %w", err)
	}

	price := snap.LatestTrade.Price
	prevClose := snap.PrevDailyBar.Close
	change := price - prevClose
	changePct := 0.0
	if prevClose > 0 {
		changePct = change / prevClose * 100
	}

	return &interfaces.StockQuote{
		Symbol:    symbol,
		Price:     price,
		Change:    change,
		ChangePct: changePct,
		Volume:    snap.DailyBar.Volume,
		PrevClose: prevClose,
		Timestamp: snap.LatestTrade.Timestamp,
	}, nil
}

// GetOptionQuote implements interfaces.LiveDataClient.
func (c *AlpacaLiveClient) GetOptionQuote(contract string) (*interfaces.OptionQuote, error) {
	var snap alpacaOptionSnapshots
	u := fmt.Sprintf("%s/v1beta1/options/snapshots/%s?feed=indicative", c.baseURL, url.PathEscape(contract))
	if err := c.getJSON(u, &snap); err != nil {
		return nil, fmt.Errorf("failed to fetch option snapshot: %w", err)
	}

	raw, ok := snap.Snapshots[contract]
	if !ok {
		return nil, fmt.Errorf("no snapshot data for %s", contract)
	}
	return c.toOptionQuote(contract, raw)
}

// GetOptionChain implements interfaces.LiveDataClient. Fetches the full
// snapshot chain for the underlying and keeps strikesAroundATM strikes
// on each side of the current spot price (0 keeps everything).
func (c *AlpacaLiveClient) GetOptionChain(symbol, expiry string, strikesAroundATM int) ([]*interfaces.OptionQuote, error) {
	spot, err := c.GetUnderlyingPrice(symbol)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"underlying": symbol,
		"expiry":     expiry,
	}).Debug("Fetching option chain")

	var snap alpacaOptionSnapshots
	u := fmt.Sprintf("%s/v1beta1/options/snapshots/%s?feed=indicative&limit=1000", c.baseURL, url.PathEscape(symbol))
	if expiry != "" {
		u += "&expiration_date=" + url.QueryEscape(expiry)
	}
	if err := c.getJSON(u, &snap); err != nil {
		return nil, fmt.Errorf("failed to fetch option chain: %w", err)
	}

	var chain []*interfaces.OptionQuote
	for occSymbol, raw := range snap.Snapshots {
		quote, err := c.toOptionQuote(occSymbol, raw)
		if err != nil {
			continue
		}
		if expiry != "" && quote.Expiry != expiry {
			continue
		}
		chain = append(chain, quote)
	}

	if strikesAroundATM > 0 && spot > 0 {
		chain = nearestStrikes(chain, spot, strikesAroundATM)
	}

	sort.Slice(chain, func(i, j int) bool {
		if chain[i].Strike != chain[j].Strike {
			return chain[i].Strike < chain[j].Strike
		}
		return chain[i].OptionType < chain[j].OptionType
	})

	c.logger.WithField("count", len(chain)).Debug("Fetched option chain")
	return chain, nil
}

// GetUnderlyingPrice implements interfaces.LiveDataClient.
func (c *AlpacaLiveClient) GetUnderlyingPrice(symbol string) (float64, error) {
	quote, err := c.GetStockQuote(symbol)
	if err != nil {
		return 0, err
	}
	return quote.Price, nil
}

func (c *AlpacaLiveClient) toOptionQuote(occSymbol string, raw alpacaOptionContract) (*interfaces.OptionQuote, error) {
	parsed, err := ParseOCCSymbol(occSymbol)
	if err != nil {
		return nil, err
	}

	return &interfaces.OptionQuote{
		Timestamp:  raw.LatestQuote.Timestamp,
		Symbol:     occSymbol,
		Underlying: parsed.Underlying,
		Strike:     parsed.Strike,
		Expiry:     parsed.Expiry,
		OptionType: parsed.OptionType,
		Bid:        raw.LatestQuote.BidPrice,
		Ask:        raw.LatestQuote.AskPrice,
		Last:       raw.LatestTrade.Price,
		Volume:     raw.LatestTrade.Size,
		IV:         raw.ImpliedVolatility,
		Delta:      raw.Greeks.Delta,
		Gamma:      raw.Greeks.Gamma,
		Theta:      raw.Greeks.Theta,
		Vega:       raw.Greeks.Vega,
	}, nil
}

// nearestStrikes keeps quotes whose strike is among the n closest
// distinct strikes to spot on either side.
func nearestStrikes(chain []*interfaces.OptionQuote, spot float64, n int) []*interfaces.OptionQuote {
	distinct := make(map[float64]bool)
	for _, q := range chain {
		distinct[q.Strike] = true
	}

	strikes := make([]float64, 0, len(distinct))
	for k := range distinct {
		strikes = append(strikes, k)
	}
	sort.Slice(strikes, func(i, j int) bool {
		return math.Abs(strikes[i]-spot) < math.Abs(strikes[j]-spot)
	})
	if len(strikes) > 2*n {
		strikes = strikes[:2*n]
	}

	keep := make(map[float64]bool, len(strikes))
	for _, k := range strikes {
		keep[k] = true
	}

	var out []*interfaces.OptionQuote
	for _, q := range chain {
		if keep[q.Strike] {
			out = append(out, q)
		}
	}
	return out
}
