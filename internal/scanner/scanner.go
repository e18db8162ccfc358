// Package scanner sweeps the symbol universe for large resting orders.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/infra"
	"whale_go/internal/registry"
	"whale_go/internal/service"

	"github.com/shopspring/decimal"
)

// Config tunes one primary scan pass.
type Config struct {
	Workers          int
	TopSymbols       int
	Depth            int
	TopLevels        int
	Multiplier       decimal.Decimal
	ExcludedSuffixes []string
	ExcludedPrefixes []string
	RetryBudget      int
	RequestsPerSec   float64
	Burst            int
}

// ConfigFrom reads the scan section of the application config.
func ConfigFrom(cfg *infra.Config) Config {
	return Config{
		Workers:          cfg.Scan.Workers,
		TopSymbols:       cfg.Scan.TopSymbols,
		Depth:            cfg.Scan.Depth,
		TopLevels:        cfg.Scan.TopLevels,
		Multiplier:       decimal.NewFromFloat(cfg.Scan.LargeMultiplier),
		ExcludedSuffixes: cfg.Scan.ExcludedSuffixes,
		ExcludedPrefixes: cfg.Scan.ExcludedPrefixes,
		RetryBudget:      cfg.Scan.RetryBudget,
		RequestsPerSec:   cfg.Scan.RequestsPerSec,
		Burst:            cfg.Scan.Burst,
	}
}

// Result summarizes one pass.
type Result struct {
	Symbols    []domain.Symbol
	Candidates []domain.Order // orders created by this pass
	Scanned    int
	Failed     int
	Duration   time.Duration
}

// Scanner runs primary scan passes.
type Scanner struct {
	gateway  domain.ExchangeGateway
	registry *registry.Registry
	market   *service.MarketService
	limiter  *infra.RateLimiter
	cfg      Config
	logger   *slog.Logger

	backoff func(retry int) time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a scanner. market may be nil.
func New(gateway domain.ExchangeGateway, reg *registry.Registry, market *service.MarketService, cfg Config) *Scanner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.TopLevels < 1 {
		cfg.TopLevels = 10
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	return &Scanner{
		gateway:  gateway,
		registry: reg,
		market:   market,
		limiter:  infra.NewRateLimiter(cfg.Burst, cfg.RequestsPerSec),
		cfg:      cfg,
		logger:   slog.Default().With(slog.String("module", "scanner")),
		backoff:  infra.CalculateBackoff,
		sleep:    infra.Sleep,
	}
}

// FilterSymbols drops excluded names and keeps at most top symbols, preserving order.
func FilterSymbols(symbols, suffixes, prefixes []string, top int) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] || excluded(s, suffixes, prefixes) {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if top > 0 && len(out) == top {
			break
		}
	}
	return out
}

func excluded(symbol string, suffixes, prefixes []string) bool {
	for _, suf := range suffixes {
		if suf != "" && strings.HasSuffix(symbol, suf) {
			return true
		}
	}
	for _, pre := range prefixes {
		if pre != "" && strings.HasPrefix(symbol, pre) {
			return true
		}
	}
	return false
}

// FindLargeOrders applies the threshold rule to both sides of a book.
// A side with fewer than topLevels levels yields no candidates.
func FindLargeOrders(book *domain.OrderBook, topLevels int, multiplier decimal.Decimal) (domain.Symbol, []registry.Candidate) {
	sym := domain.Symbol{Name: book.Symbol, ScannedAt: book.FetchedAt}
	mid := book.Mid()

	var out []registry.Candidate
	for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
		levels := book.Levels(side)
		avg, ok := domain.TopAverage(levels, topLevels)
		if !ok {
			continue
		}
		threshold := avg.Mul(multiplier)
		if side == domain.SideBid {
			sym.BidTopAverage, sym.BidThreshold = avg, threshold
		} else {
			sym.AskTopAverage, sym.AskThreshold = avg, threshold
		}
		if !threshold.IsPositive() {
			continue
		}
		for _, lvl := range levels {
			if lvl.Size.GreaterThanOrEqual(threshold) {
				out = append(out, registry.Candidate{
					Symbol:     book.Symbol,
					Side:       side,
					Price:      lvl.Price,
					Size:       lvl.Size,
					Mid:        mid,
					TopAverage: avg,
					SeenAt:     book.FetchedAt,
				})
			}
		}
	}
	return sym, out
}

// ScanOnce runs one full pass over the filtered universe.
// It fails with domain.ErrDataSourceUnavailable when the symbol list cannot
// be fetched or every symbol failed for data-source reasons.
func (s *Scanner) ScanOnce(ctx context.Context) (*Result, error) {
	start := time.Now()

	var all []string
	err := s.withRetry(ctx, "list symbols", func() error {
		var err error
		all, err = s.gateway.ListSymbols(ctx)
		return err
	})
	if err != nil {
		infra.GlobalMetrics.RecordScanFailure()
		return nil, err
	}

	symbols := FilterSymbols(all, s.cfg.ExcludedSuffixes, s.cfg.ExcludedPrefixes, s.cfg.TopSymbols)
	res := &Result{Scanned: len(symbols)}
	if len(symbols) == 0 {
		res.Duration = time.Since(start)
		return res, nil
	}

	var (
		mu          sync.Mutex
		sourceFails int
		wg          sync.WaitGroup
	)
	jobs := make(chan string)

	workers := s.cfg.Workers
	if workers > len(symbols) {
		workers = len(symbols)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				sym, created, err := s.scanSymbol(ctx, symbol)
				mu.Lock()
				if err != nil {
					res.Failed++
					if errors.Is(err, domain.ErrDataSourceUnavailable) {
						sourceFails++
					}
				} else {
					res.Symbols = append(res.Symbols, sym)
					res.Candidates = append(res.Candidates, created...)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- symbol:
		}
	}
	close(jobs)
	wg.Wait()

	res.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if sourceFails == len(symbols) {
		infra.GlobalMetrics.RecordScanFailure()
		return res, fmt.Errorf("%w: all %d symbols failed", domain.ErrDataSourceUnavailable, len(symbols))
	}

	infra.GlobalMetrics.RecordScan(res.Duration, res.Scanned, res.Failed, len(res.Candidates))
	s.logger.Info("Scan pass complete",
		slog.Int("symbols", res.Scanned),
		slog.Int("failed", res.Failed),
		slog.Int("candidates", len(res.Candidates)),
		slog.Duration("took", res.Duration))
	return res, nil
}

// scanSymbol fetches one book and registers its large orders.
func (s *Scanner) scanSymbol(ctx context.Context, symbol string) (domain.Symbol, []domain.Order, error) {
	var book *domain.OrderBook
	err := s.withRetry(ctx, "depth "+symbol, func() error {
		var err error
		book, err = s.gateway.GetOrderBook(ctx, symbol, s.cfg.Depth)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Skipping symbol", slog.String("symbol", symbol), slog.Any("error", err))
		}
		return domain.Symbol{}, nil, err
	}
	if book.FetchedAt.IsZero() {
		book.FetchedAt = time.Now()
	}
	if book.Symbol == "" {
		book.Symbol = symbol
	}
	if err := book.Validate(); err != nil {
		s.logger.Warn("Skipping malformed book", slog.String("symbol", symbol), slog.Any("error", err))
		return domain.Symbol{}, nil, err
	}

	if s.market != nil {
		s.market.Submit(symbol, book.Mid(), book.FetchedAt)
	}

	sym, candidates := FindLargeOrders(book, s.cfg.TopLevels, s.cfg.Multiplier)
	var created []domain.Order
	for _, c := range candidates {
		o, isNew, err := s.registry.AddCandidate(c)
		if err != nil {
			s.logger.Warn("Rejected candidate", slog.String("symbol", symbol), slog.Any("error", err))
			continue
		}
		if isNew {
			created = append(created, o)
			s.logger.Debug("New candidate",
				slog.String("hash", o.Hash),
				slog.String("symbol", o.Symbol),
				slog.String("side", string(o.Side)),
				slog.String("price", o.OrderPrice.String()),
				slog.String("size", o.OriginalSize.String()))
		}
	}
	return sym, created, nil
}

// withRetry runs fn under the scan rate limit, retrying retriable failures
// within the retry budget. Rate limits wait for the advertised delay.
func (s *Scanner) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryBudget; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if !domain.IsRetriable(err) || attempt == s.cfg.RetryBudget {
			break
		}

		wait := s.backoff(attempt)
		var rl *domain.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			wait = rl.RetryAfter
		}
		s.logger.Debug("Retrying", slog.String("op", op), slog.Int("attempt", attempt+1), slog.Duration("wait", wait))
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if domain.IsRetriable(lastErr) && !errors.Is(lastErr, domain.ErrDataSourceUnavailable) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrDataSourceUnavailable, lastErr)
	}
	return lastErr
}

// Run repeats passes every interval until ctx is done. A failed pass is
// retried after backoff instead of waiting a full interval.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	failures := 0
	wait := interval
	for {
		if err := s.sleep(ctx, wait); err != nil {
			return
		}
		_, err := s.ScanOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			wait = s.backoff(failures)
			failures++
			s.logger.Error("Scan pass failed", slog.Any("error", err), slog.Duration("retry_in", wait))
			continue
		}
		failures = 0
		wait = interval
	}
}
