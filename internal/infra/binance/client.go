package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/infra"

	"github.com/shopspring/decimal"
)

// Binance USD-M futures endpoints
const (
	BaseURL      = "https://fapi.binance.com"
	tickerPath   = "/fapi/v1/ticker/24hr"
	depthPath    = "/fapi/v1/depth"
	maxBodyBytes = 8 << 20
)

// depthLimits are the only limits the depth endpoint accepts.
var depthLimits = []int{5, 10, 20, 50, 100, 500, 1000}

// DepthLimit rounds a requested depth up to an accepted limit.
func DepthLimit(depth int) int {
	for _, l := range depthLimits {
		if depth <= l {
			return l
		}
	}
	return depthLimits[len(depthLimits)-1]
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Client is the Binance REST gateway (Boundary Layer).
// It is safe for concurrent use by all pools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *infra.CircuitBreaker
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a client from the exchange section of the config.
func NewClient(cfg *infra.Config) *Client {
	return NewClientWithOptions(Options{
		BaseURL:         cfg.Exchange.RestURL,
		Timeout:         cfg.Exchange.Timeout,
		BreakerFailures: cfg.Exchange.BreakerFailures,
		BreakerCooldown: cfg.Exchange.BreakerCooldown,
	})
}

// NewClientWithOptions creates a client with explicit options.
func NewClientWithOptions(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	logger := slog.Default().With("module", "binance_client")
	bcfg := infra.DefaultCircuitBreakerConfig("binance")
	if opts.BreakerFailures > 0 {
		bcfg.FailureThreshold = opts.BreakerFailures
	}
	if opts.BreakerCooldown > 0 {
		bcfg.Timeout = opts.BreakerCooldown
	}
	bcfg.OnStateChange = func(s infra.State) {
		infra.GlobalMetrics.SetCircuitState(s == infra.StateOpen)
		logger.Warn("Exchange circuit changed", slog.String("state", s.String()))
	}

	return &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		breaker: infra.NewCircuitBreaker(bcfg),
		logger:  logger,
		now:     time.Now,
	}
}

// Breaker exposes the circuit state for health reporting.
func (c *Client) Breaker() *infra.CircuitBreaker {
	return c.breaker
}

type tickerData struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

// ListSymbols returns every symbol ordered by descending 24h quote volume.
func (c *Client) ListSymbols(ctx context.Context) ([]string, error) {
	var tickers []tickerData
	if err := c.get(ctx, "ticker", tickerPath, nil, &tickers); err != nil {
		return nil, err
	}

	type ranked struct {
		symbol string
		volume decimal.Decimal
	}
	rows := make([]ranked, 0, len(tickers))
	for _, t := range tickers {
		if t.Symbol == "" {
			continue
		}
		vol, err := decimal.NewFromString(t.QuoteVolume)
		if err != nil {
			c.logger.Debug("Skipping ticker with bad volume", slog.String("symbol", t.Symbol))
			continue
		}
		rows = append(rows, ranked{symbol: t.Symbol, volume: vol})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].volume.GreaterThan(rows[j].volume)
	})

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.symbol
	}
	return out, nil
}

type depthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// GetOrderBook fetches a depth snapshot of at most depth levels per side.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(DepthLimit(depth)))

	var resp depthResponse
	if err := c.get(ctx, "depth "+symbol, depthPath, q, &resp); err != nil {
		return nil, err
	}

	bids, err := parseLevels(resp.Bids, depth)
	if err != nil {
		return nil, fmt.Errorf("%w: %s bids: %v", domain.ErrMalformedSnapshot, symbol, err)
	}
	asks, err := parseLevels(resp.Asks, depth)
	if err != nil {
		return nil, fmt.Errorf("%w: %s asks: %v", domain.ErrMalformedSnapshot, symbol, err)
	}

	book := &domain.OrderBook{Symbol: symbol, Bids: bids, Asks: asks, FetchedAt: c.now()}
	if err := book.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	return book, nil
}

func parseLevels(raw [][2]string, depth int) ([]domain.Level, error) {
	if depth > 0 && len(raw) > depth {
		raw = raw[:depth]
	}
	out := make([]domain.Level, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", r[0], err)
		}
		size, err := decimal.NewFromString(r[1])
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", r[1], err)
		}
		out = append(out, domain.Level{Price: price, Size: size})
	}
	return out, nil
}

// get performs one GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("%s: %w: circuit open", op, domain.ErrDataSourceUnavailable)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.NewFatalNetworkError(op, err)
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.breaker.RecordFailure()
		return domain.NewNetworkError(op, fmt.Errorf("%w: %v", domain.ErrDataSourceUnavailable, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return domain.NewNetworkError(op, fmt.Errorf("%w: read body: %v", domain.ErrDataSourceUnavailable, err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		wait := retryAfter(resp.Header.Get("Retry-After"))
		c.logger.Warn("Rate limited by exchange",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.Duration("retry_after", wait))
		return &domain.RateLimitError{Op: op, RetryAfter: wait}
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
		return domain.NewNetworkError(op, fmt.Errorf("%w: status=%d", domain.ErrDataSourceUnavailable, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		// the exchange answered; a bad request says nothing about its health
		c.breaker.RecordSuccess()
		return domain.NewFatalNetworkError(op, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(body, 200)))
	}

	c.breaker.RecordSuccess()
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrMalformedSnapshot, err)
	}
	return nil
}

// retryAfter parses a Retry-After header in seconds; unknown values wait one second.
func retryAfter(v string) time.Duration {
	if v == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
