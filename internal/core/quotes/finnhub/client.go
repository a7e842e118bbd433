package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/quotes"
)

const (
	defaultBaseURL           = "https://finnhub.io/api/v1"
	defaultRequestsPerMinute = 60
)

// Client implements quotes.Provider against the Finnhub REST API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration

	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient returns a client paced to requestsPerMinute (60 when non-positive).
func NewClient(baseURL, apiKey string, requestsPerMinute int) *Client {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = defaultBaseURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	return &Client{
		BaseURL: base,
		APIKey:  strings.TrimSpace(apiKey),
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1),
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return "finnhub"
}

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool {
	return c != nil && c.APIKey != ""
}

type quoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

type candleResponse struct {
	Close  []float64 `json:"c"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Open   []float64 `json:"o"`
	Time   []int64   `json:"t"`
	Volume []float64 `json:"v"`
	Status string    `json:"s"`
}

// GetQuote fetches the latest quote for symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var parsed quoteResponse
	if err := c.get(ctx, symbol, "/quote", url.Values{"symbol": {symbol}}, &parsed); err != nil {
		return nil, err
	}
	if parsed.Current == 0 && parsed.Timestamp == 0 {
		return nil, fmt.Errorf("%w: %s", quotes.ErrSymbolNotFound, symbol)
	}

	ts := time.Unix(parsed.Timestamp, 0).UTC()
	if parsed.Timestamp == 0 {
		ts = c.clock()
	}
	quote := &core.Quote{
		Symbol:        symbol,
		Price:         decimal.NewFromFloat(parsed.Current),
		Change:        decimal.NewFromFloat(parsed.Change),
		ChangePercent: decimal.NewFromFloat(parsed.PercentChange),
		Open:          decimal.NewFromFloat(parsed.Open),
		High:          decimal.NewFromFloat(parsed.High),
		Low:           decimal.NewFromFloat(parsed.Low),
		PreviousClose: decimal.NewFromFloat(parsed.PreviousClose),
		Timestamp:     ts,
		Source:        c.Name(),
	}
	if err := quotes.ValidateQuote(quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// GetMultipleQuotes fetches each symbol in turn; Finnhub has no batch quote endpoint.
func (c *Client) GetMultipleQuotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	return quotes.FetchEach(ctx, symbols, c.GetQuote)
}

// GetHistoricalData fetches OHLCV candles.
func (c *Client) GetHistoricalData(ctx context.Context, symbol string, from, to time.Time, resolution string) ([]quotes.Candle, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if resolution == "" {
		resolution = "D"
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("historical range must satisfy from < to")
	}

	params := url.Values{
		"symbol":     {symbol},
		"resolution": {resolution},
		"from":       {strconv.FormatInt(from.Unix(), 10)},
		"to":         {strconv.FormatInt(to.Unix(), 10)},
	}
	var parsed candleResponse
	if err := c.get(ctx, symbol, "/stock/candle", params, &parsed); err != nil {
		return nil, err
	}
	if parsed.Status == "no_data" {
		return nil, fmt.Errorf("%w: no candles for %s", quotes.ErrSymbolNotFound, symbol)
	}

	n := len(parsed.Time)
	if len(parsed.Open) != n || len(parsed.High) != n || len(parsed.Low) != n || len(parsed.Close) != n || len(parsed.Volume) != n {
		return nil, fmt.Errorf("finnhub candle response has mismatched series lengths")
	}
	candles := make([]quotes.Candle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, quotes.Candle{
			Time:   time.Unix(parsed.Time[i], 0).UTC(),
			Open:   decimal.NewFromFloat(parsed.Open[i]),
			High:   decimal.NewFromFloat(parsed.High[i]),
			Low:    decimal.NewFromFloat(parsed.Low[i]),
			Close:  decimal.NewFromFloat(parsed.Close[i]),
			Volume: int64(parsed.Volume[i]),
		})
	}
	return candles, nil
}

func (c *Client) get(ctx context.Context, symbol, path string, params url.Values, out any) error {
	if !c.IsConfigured() {
		return quotes.ErrNotConfigured
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Finnhub-Token", c.APIKey)
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &quotes.UpstreamError{
			Provider:   c.Name(),
			Symbol:     symbol,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now().UTC()
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
