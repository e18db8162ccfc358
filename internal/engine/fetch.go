package engine

import (
	"context"
	"errors"
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/infra"
)

// Fetcher gets validated books under a pool-owned rate limit.
type Fetcher struct {
	gateway domain.ExchangeGateway
	limiter *infra.RateLimiter
	depth   int
	now     func() time.Time
}

// NewFetcher creates a fetcher with its own token bucket.
func NewFetcher(gateway domain.ExchangeGateway, depth int, requestsPerSec float64, burst int) *Fetcher {
	return &Fetcher{
		gateway: gateway,
		limiter: infra.NewRateLimiter(burst, requestsPerSec),
		depth:   depth,
		now:     time.Now,
	}
}

// Fetch waits for a token and returns a validated snapshot. A rate-limit
// answer pauses the whole bucket for the advertised delay.
func (f *Fetcher) Fetch(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	book, err := f.gateway.GetOrderBook(ctx, symbol, f.depth)
	if err != nil {
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			f.limiter.Pause(rl.RetryAfter)
		}
		return nil, err
	}
	if book.FetchedAt.IsZero() {
		book.FetchedAt = f.now()
	}
	if book.Symbol == "" {
		book.Symbol = symbol
	}
	if err := book.Validate(); err != nil {
		return nil, err
	}
	return book, nil
}
