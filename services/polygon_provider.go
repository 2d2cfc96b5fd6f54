package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/sirupsen/logrus"

	"options-sim/interfaces"
)

// ttlCache is a small in-memory cache with per-entry expiry. Polygon's
// free tier allows 5 calls/minute, so repeated quote and chain lookups
// must be served from memory.
type ttlCache struct {
	mu    sync.Mutex
	store map[string]ttlEntry
}

type ttlEntry struct {
	expiresAt time.Time
	value     interface{}
}

func newTTLCache() *ttlCache {
	return &ttlCache{store: make(map[string]ttlEntry)}
}

func (c *ttlCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.store[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.store, key)
		return nil, false
	}
	return entry.value, true
}

func (c *ttlCache) set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = ttlEntry{expiresAt: time.Now().Add(ttl), value: value}
}

// rateLimiter enforces a minimum interval between outbound API calls.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
}

func newRateLimiter(callsPerMinute int) *rateLimiter {
	return &rateLimiter{interval: time.Minute / time.Duration(callsPerMinute)}
}

func (r *rateLimiter) wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.lastCall)
	if elapsed < r.interval {
		time.Sleep(r.interval - elapsed)
	}
	r.lastCall = time.Now()
}

// PolygonLiveClient fetches real-time (15-minute delayed on the free
// tier) stock and options data from Polygon.io. Stock prices come
// through the official REST client's aggregates API; option snapshots
// use the v3 snapshot endpoints, which bundle quote, Greeks, IV,
// volume, and open interest in one call.
type PolygonLiveClient struct {
	apiKey     string
	rest       *polygon.Client
	http       *http.Client
	limiter    *rateLimiter
	quoteCache *ttlCache
	chainCache *ttlCache
	quoteTTL   time.Duration
	chainTTL   time.Duration
	logger     *logrus.Logger
}

const polygonBaseURL = "https://api.polygon.io"

// NewPolygonLiveClient creates a Polygon client with free-tier rate
// limiting and caching defaults.
func NewPolygonLiveClient(apiKey string) *PolygonLiveClient {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &PolygonLiveClient{
		apiKey:     apiKey,
		rest:       polygon.New(apiKey),
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    newRateLimiter(5),
		quoteCache: newTTLCache(),
		chainCache: newTTLCache(),
		quoteTTL:   60 * time.Second,
		chainTTL:   120 * time.Second,
		logger:     logger,
	}
}

// GetStockQuote implements interfaces.LiveDataClient. Uses daily
// aggregate bars, which the free tier allows; the latest bar supplies
// the price and the bar before it the previous close.
func (c *PolygonLiveClient) GetStockQuote(symbol string) (*interfaces.StockQuote, error) {
	symbol = strings.ToUpper(symbol)
	if cached, ok := c.quoteCache.get("stock:" + symbol); ok {
		return cached.(*interfaces.StockQuote), nil
	}

	c.limiter.wait()

	now := time.Now()
	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(now.AddDate(0, 0, -7)),
		To:         models.Millis(now),
	}.WithOrder(models.Asc).WithAdjusted(true)

	iter := c.rest.ListAggs(context.Background(), params)

	var bars []models.Agg
	for iter.Next() {
		bars = append(bars, iter.Item())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch aggregates for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no price data for %s", symbol)
	}

	last := bars[len(bars)-1]
	prevClose := last.Close
	if len(bars) >= 2 {
		prevClose = bars[len(bars)-2].Close
	}

	change := last.Close - prevClose
	changePct := 0.0
	if prevClose > 0 {
		changePct = change / prevClose * 100
	}

	quote := &interfaces.StockQuote{
		Symbol:    symbol,
		Price:     last.Close,
		Change:    round2(change),
		ChangePct: round2(changePct),
		Volume:    int64(last.Volume),
		PrevClose: prevClose,
		Timestamp: time.Time(last.Timestamp),
	}

	c.quoteCache.set("stock:"+symbol, quote, c.quoteTTL)
	return quote, nil
}

// GetUnderlyingPrice implements interfaces.LiveDataClient.
func (c *PolygonLiveClient) GetUnderlyingPrice(symbol string) (float64, error) {
	quote, err := c.GetStockQuote(symbol)
	if err != nil {
		return 0, err
	}
	return quote.Price, nil
}

type polygonOptionSnapshot struct {
	Details struct {
		Ticker         string  `json:"ticker"`
		ContractType   string  `json:"contract_type"`
		StrikePrice    float64 `json:"strike_price"`
		ExpirationDate string  `json:"expiration_date"`
	} `json:"details"`
	Greeks struct {
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
		Theta float64 `json:"theta"`
		Vega  float64 `json:"vega"`
	} `json:"greeks"`
	Day struct {
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"day"`
	LastQuote struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	} `json:"last_quote"`
	OpenInterest      float64 `json:"open_interest"`
	ImpliedVolatility float64 `json:"implied_volatility"`
}

type polygonChainResponse struct {
	Results []polygonOptionSnapshot `json:"results"`
	NextURL string                  `json:"next_url"`
}

type polygonContractResponse struct {
	Results polygonOptionSnapshot `json:"results"`
}

func (c *PolygonLiveClient) getJSON(rawURL string, out interface{}) error {
	c.limiter.wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
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

// GetOptionQuote implements interfaces.LiveDataClient.
func (c *PolygonLiveClient) GetOptionQuote(contract string) (*interfaces.OptionQuote, error) {
	contract = strings.TrimPrefix(strings.ToUpper(contract), "O:")
	if cached, ok := c.quoteCache.get("option:" + contract); ok {
		return cached.(*interfaces.OptionQuote), nil
	}

	underlying := ExtractUnderlying(contract)
	u := fmt.Sprintf("%s/v3/snapshot/options/%s/O:%s", polygonBaseURL, url.PathEscape(underlying), url.PathEscape(contract))

	var resp polygonContractResponse
	if err := c.getJSON(u, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch option snapshot: %w", err)
	}

	quote, ok := c.toOptionQuote(resp.Results, underlying)
	if !ok {
		return nil, fmt.Errorf("no quote found for %s", contract)
	}

	c.quoteCache.set("option:"+contract, quote, c.quoteTTL)
	return quote, nil
}

// GetOptionChain implements interfaces.LiveDataClient. Fetches the
// snapshot chain for the underlying, following pagination up to a
// safety cap, then optionally narrows to strikes around the money.
func (c *PolygonLiveClient) GetOptionChain(symbol, expiry string, strikesAroundATM int) ([]*interfaces.OptionQuote, error) {
	symbol = strings.ToUpper(symbol)
	cacheKey := fmt.Sprintf("chain:%s:%s", symbol, expiry)

	var chain []*interfaces.OptionQuote
	if cached, ok := c.chainCache.get(cacheKey); ok {
		chain = cached.([]*interfaces.OptionQuote)
	} else {
		fetched, err := c.fetchFullChain(symbol, expiry)
		if err != nil {
			return nil, err
		}
		chain = fetched
		c.chainCache.set(cacheKey, chain, c.chainTTL)
	}

	if strikesAroundATM > 0 && len(chain) > 0 {
		if spot, err := c.GetUnderlyingPrice(symbol); err == nil && spot > 0 {
			chain = nearestStrikes(chain, spot, strikesAroundATM)
		}
	}

	return chain, nil
}

func (c *PolygonLiveClient) fetchFullChain(symbol, expiry string) ([]*interfaces.OptionQuote, error) {
	next := fmt.Sprintf("%s/v3/snapshot/options/%s?limit=250", polygonBaseURL, url.PathEscape(symbol))
	if expiry != "" {
		next += "&expiration_date=" + url.QueryEscape(expiry)
	}

	c.logger.WithFields(logrus.Fields{
		"underlying": symbol,
		"expiry":     expiry,
	}).Debug("Fetching option chain")

	var chain []*interfaces.OptionQuote
	for next != "" && len(chain) < 2000 {
		var resp polygonChainResponse
		if err := c.getJSON(next, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch option chain: %w", err)
		}
		for _, result := range resp.Results {
			if quote, ok := c.toOptionQuote(result, symbol); ok {
				chain = append(chain, quote)
			}
		}
		next = resp.NextURL
	}

	c.logger.WithField("count", len(chain)).Debug("Fetched option chain")
	return chain, nil
}

func (c *PolygonLiveClient) toOptionQuote(raw polygonOptionSnapshot, underlying string) (*interfaces.OptionQuote, bool) {
	contractType := strings.ToLower(raw.Details.ContractType)
	if contractType != "call" && contractType != "put" {
		return nil, false
	}

	return &interfaces.OptionQuote{
		Timestamp:    time.Now(),
		Symbol:       strings.TrimPrefix(raw.Details.Ticker, "O:"),
		Underlying:   strings.ToUpper(underlying),
		Strike:       raw.Details.StrikePrice,
		Expiry:       raw.Details.ExpirationDate,
		OptionType:   contractType,
		Bid:          round2(raw.LastQuote.Bid),
		Ask:          round2(raw.LastQuote.Ask),
		Last:         round2(raw.Day.Close),
		Volume:       int64(raw.Day.Volume),
		OpenInterest: int64(raw.OpenInterest),
		IV:           raw.ImpliedVolatility,
		Delta:        raw.Greeks.Delta,
		Gamma:        raw.Greeks.Gamma,
		Theta:        raw.Greeks.Theta,
		Vega:         raw.Greeks.Vega,
	}, true
}
