// Package observer re-observes Candidate and Tracked orders until they die or
// survive long enough to be promoted to the hot pool.
package observer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"whale_go/internal/domain"
	"whale_go/internal/engine"
	"whale_go/internal/infra"
	"whale_go/internal/registry"
	"whale_go/internal/service"
)

// Config sizes the observer pool.
type Config struct {
	Pool           engine.PoolConfig
	Depth          int
	TopLevels      int
	RequestsPerSec float64
	Burst          int
}

// ConfigFrom reads the observer section of the application config.
func ConfigFrom(cfg *infra.Config) Config {
	return Config{
		Pool: engine.PoolConfig{
			Name:           "observer",
			MinWorkers:     cfg.Observer.MinWorkers,
			MaxWorkers:     cfg.Observer.MaxWorkers,
			PerWorker:      cfg.Observer.SymbolsPerWorker,
			MinInterval:    cfg.Observer.MinScanInterval,
			ReconcileEvery: cfg.Observer.ReconcileEvery,
			SlowFetch:      cfg.Observer.SlowFetch,
		},
		Depth:          cfg.Scan.Depth,
		TopLevels:      cfg.Scan.TopLevels,
		RequestsPerSec: cfg.Observer.RequestsPerSec,
		Burst:          cfg.Observer.Burst,
	}
}

// Pool tracks young orders.
type Pool struct {
	registry *registry.Registry
	market   *service.MarketService
	fetcher  *engine.Fetcher
	pool     *engine.Pool
	cfg      Config
	logger   *slog.Logger

	onPromote func(domain.Order)
}

// New creates the observer pool. market may be nil.
func New(gateway domain.ExchangeGateway, reg *registry.Registry, market *service.MarketService, cfg Config) *Pool {
	p := &Pool{
		registry: reg,
		market:   market,
		fetcher:  engine.NewFetcher(gateway, cfg.Depth, cfg.RequestsPerSec, cfg.Burst),
		cfg:      cfg,
		logger:   slog.Default().With(slog.String("module", "observer")),
	}
	p.pool = engine.NewPool(cfg.Pool, p.backlog, p.ObserveSymbol)
	return p
}

// OnPromote registers a hook called with each order promoted to Hot.
// Set it before Run.
func (p *Pool) OnPromote(fn func(domain.Order)) {
	p.onPromote = fn
}

// Run blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	p.pool.Run(ctx)
}

// Workers returns the running worker count.
func (p *Pool) Workers() int {
	return p.pool.Workers()
}

func (p *Pool) backlog() []string {
	bySymbol := p.registry.HashesBySymbol(domain.StateCandidate, domain.StateTracked)
	out := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// ObserveSymbol fetches one book and applies it to every young order on the symbol.
func (p *Pool) ObserveSymbol(ctx context.Context, symbol string) error {
	hashes := p.registry.HashesBySymbol(domain.StateCandidate, domain.StateTracked)[symbol]
	if len(hashes) == 0 {
		return nil
	}

	book, err := p.fetcher.Fetch(ctx, symbol)
	if err != nil {
		return fmt.Errorf("observe %s: %w", symbol, err)
	}
	if p.market != nil {
		p.market.Submit(symbol, book.Mid(), book.FetchedAt)
	}

	for _, hash := range hashes {
		o, ok := p.registry.Get(hash)
		if !ok || (o.State != domain.StateCandidate && o.State != domain.StateTracked) {
			continue
		}
		obs := registry.ObservationFromBook(book, o.Side, o.OrderPrice, p.cfg.TopLevels)
		res, err := p.registry.Observe(hash, obs)
		if err != nil {
			if errors.Is(err, domain.ErrOrderDead) || errors.Is(err, domain.ErrOrderNotFound) {
				continue
			}
			return err
		}
		p.handle(res)
	}
	return nil
}

func (p *Pool) handle(res registry.Result) {
	o := res.Order
	switch res.Transition {
	case registry.TransitionPromoted:
		infra.GlobalMetrics.RecordTransition(res.Transition.String())
		p.logger.Info("Order promoted to hot pool",
			slog.String("hash", o.Hash),
			slog.String("symbol", o.Symbol),
			slog.String("side", string(o.Side)),
			slog.String("price", o.OrderPrice.String()),
			slog.String("size", o.CurrentSize.String()))
		if p.onPromote != nil {
			p.onPromote(o)
		}
	case registry.TransitionDied:
		infra.GlobalMetrics.RecordTransition(res.Transition.String())
		p.logger.Debug("Order died",
			slog.String("hash", o.Hash),
			slog.String("symbol", o.Symbol),
			slog.String("reason", string(o.DeathReason)),
			slog.Float64("loss", o.Loss()))
	case registry.TransitionConfirmed:
		infra.GlobalMetrics.RecordTransition(res.Transition.String())
	}
}
