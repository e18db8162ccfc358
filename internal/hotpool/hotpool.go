// Package hotpool re-observes Hot orders, scores them and publishes
// significant changes.
package hotpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/engine"
	"whale_go/internal/event"
	"whale_go/internal/infra"
	"whale_go/internal/registry"
	"whale_go/internal/service"
	"whale_go/internal/strategy"
)

// ReasonDemoted is the exit reason of an order that left Hot alive.
const ReasonDemoted = "demoted"

// successRateTTL bounds how long a symbol's success rate is reused.
const successRateTTL = time.Minute

// Config sizes the hot pool.
type Config struct {
	Pool           engine.PoolConfig
	Depth          int
	TopLevels      int
	RequestsPerSec float64
	Burst          int
	Thresholds     Thresholds
}

// ConfigFrom reads the hot pool section of the application config.
func ConfigFrom(cfg *infra.Config) Config {
	return Config{
		Pool: engine.PoolConfig{
			Name:           "hot",
			MinWorkers:     cfg.HotPool.MinWorkers,
			MaxWorkers:     cfg.HotPool.MaxWorkers,
			PerWorker:      cfg.HotPool.SymbolsPerWorker,
			MinInterval:    cfg.HotPool.MinScanInterval,
			ReconcileEvery: cfg.HotPool.ReconcileEvery,
			SlowFetch:      cfg.HotPool.SlowFetch,
		},
		Depth:          cfg.Scan.Depth,
		TopLevels:      cfg.Scan.TopLevels,
		RequestsPerSec: cfg.HotPool.RequestsPerSec,
		Burst:          cfg.HotPool.Burst,
		Thresholds: Thresholds{
			ScoreDelta:       cfg.Significance.ScoreDelta,
			USDRelativeDelta: cfg.Significance.USDRelativeDelta,
		},
	}
}

type cachedRate struct {
	rate    float64
	ok      bool
	fetched time.Time
}

// Pool scores hot orders and emits publish events.
type Pool struct {
	registry *registry.Registry
	market   *service.MarketService
	engine   *strategy.Engine
	sink     event.Sink
	fetcher  *engine.Fetcher
	pool     *engine.Pool
	cfg      Config
	logger   *slog.Logger

	outcomes domain.OutcomeStore
	alert    *domain.AlertRule

	ratesMu sync.Mutex
	rates   map[string]cachedRate
	now     func() time.Time
}

// New creates the hot pool. market may be nil.
func New(gateway domain.ExchangeGateway, reg *registry.Registry, market *service.MarketService,
	eng *strategy.Engine, sink event.Sink, cfg Config) *Pool {
	p := &Pool{
		registry: reg,
		market:   market,
		engine:   eng,
		sink:     sink,
		fetcher:  engine.NewFetcher(gateway, cfg.Depth, cfg.RequestsPerSec, cfg.Burst),
		cfg:      cfg,
		logger:   slog.Default().With(slog.String("module", "hotpool")),
		rates:    make(map[string]cachedRate),
		now:      time.Now,
	}
	p.pool = engine.NewPool(cfg.Pool, p.backlog, p.ObserveSymbol)
	return p
}

// WithOutcomes enables the historical success-rate analytic.
func (p *Pool) WithOutcomes(store domain.OutcomeStore) *Pool {
	p.outcomes = store
	return p
}

// WithAlert enables the operator alert hook.
func (p *Pool) WithAlert(rule *domain.AlertRule) *Pool {
	p.alert = rule
	return p
}

// Admit hands a freshly promoted order to the pool so its symbol is picked up
// before the next reconcile tick.
func (p *Pool) Admit(o domain.Order) {
	infra.GlobalMetrics.RecordTransition("handoff")
	p.logger.Debug("Order handed to hot pool", slog.String("hash", o.Hash), slog.String("symbol", o.Symbol))
	p.pool.Refresh()
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
	bySymbol := p.registry.HashesBySymbol(domain.StateHot)
	out := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// ObserveSymbol fetches one book, applies it to every hot order on the symbol
// and publishes what changed significantly.
func (p *Pool) ObserveSymbol(ctx context.Context, symbol string) error {
	hashes := p.registry.HashesBySymbol(domain.StateHot)[symbol]
	if len(hashes) == 0 {
		return nil
	}

	book, err := p.fetcher.Fetch(ctx, symbol)
	if err != nil {
		return fmt.Errorf("hot observe %s: %w", symbol, err)
	}
	if p.market != nil {
		p.market.RecordMid(symbol, book.Mid(), book.FetchedAt)
	}

	var errs []error
	for _, hash := range hashes {
		o, ok := p.registry.Get(hash)
		if !ok || o.State != domain.StateHot {
			continue
		}
		obs := registry.ObservationFromBook(book, o.Side, o.OrderPrice, p.cfg.TopLevels)
		res, err := p.registry.Observe(hash, obs)
		if err != nil {
			if errors.Is(err, domain.ErrOrderDead) || errors.Is(err, domain.ErrOrderNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if err := p.handle(ctx, res, book.FetchedAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) handle(ctx context.Context, res registry.Result, at time.Time) error {
	o := res.Order
	switch res.Transition {
	case registry.TransitionStale:
		return nil

	case registry.TransitionDied:
		infra.GlobalMetrics.RecordTransition(res.Transition.String())
		p.logger.Info("Hot order died",
			slog.String("hash", o.Hash),
			slog.String("symbol", o.Symbol),
			slog.String("reason", string(o.DeathReason)),
			slog.Duration("lifetime", o.Lifetime(at)))
		if o.LastPublished == nil {
			return nil
		}
		return p.publish(ctx, event.KindExited, string(o.DeathReason), o, p.evaluate(o, at), at)

	case registry.TransitionDemoted:
		infra.GlobalMetrics.RecordTransition(res.Transition.String())
		p.logger.Info("Hot order demoted",
			slog.String("hash", o.Hash),
			slog.String("symbol", o.Symbol))
		if o.LastPublished == nil {
			return nil
		}
		if err := p.publish(ctx, event.KindExited, ReasonDemoted, o, p.evaluate(o, at), at); err != nil {
			return err
		}
		// a re-promotion is a fresh entry
		_, err := p.registry.Update(o.Hash, func(w *domain.Order) error {
			w.LastPublished = nil
			return nil
		})
		return err
	}

	ev := p.evaluate(o, at)
	weights := ev.WeightsWithRecommended()
	cats := ev.CategoriesWithRecommended()
	usd, _ := o.USDValue().Float64()

	change := Significant(o.LastPublished, weights, cats, usd, p.cfg.Thresholds)
	updated, err := p.registry.Update(o.Hash, func(w *domain.Order) error {
		w.Scores = weights
		w.Categories = cats
		return nil
	})
	if err != nil {
		return err
	}
	if change == ChangeNone {
		return nil
	}

	p.checkAlert(updated, ev.RecommendedCategory())

	kind := event.KindUpdated
	if change == ChangeEntered {
		kind = event.KindEntered
	}
	if err := p.publish(ctx, kind, "", updated, ev, at); err != nil {
		return err
	}

	_, err = p.registry.Update(o.Hash, func(w *domain.Order) error {
		w.LastPublished = &domain.PublishedSnapshot{
			Scores:      weights,
			Categories:  cats,
			USDValue:    usd,
			PublishedAt: at,
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrOrderDead) {
		return err
	}
	p.logger.Debug("Published hot order",
		slog.String("hash", o.Hash),
		slog.String("kind", string(kind)),
		slog.String("change", change.String()),
		slog.String("category", string(ev.RecommendedCategory())))
	return nil
}

func (p *Pool) evaluate(o domain.Order, at time.Time) strategy.Evaluation {
	price, _ := o.OrderPrice.Float64()
	size, _ := o.CurrentSize.Float64()
	avg, _ := o.TopAverage.Float64()

	var market strategy.MarketContext
	if p.market != nil {
		market = p.market.Context(o.Symbol, at)
	} else {
		market = strategy.MarketContext{
			TimeOfDayFactor: strategy.TimeOfDayFactor(at),
			WeekendFactor:   strategy.WeekendFactor(at),
		}
	}

	return p.engine.Evaluate(strategy.Subject{
		Lifetime:    o.Lifetime(at),
		OrderPrice:  price,
		CurrentSize: size,
		TopAverage:  avg,
		SuccessRate: p.successRate(o.Symbol),
	}, market)
}

func (p *Pool) successRate(symbol string) *float64 {
	if p.outcomes == nil {
		return nil
	}
	now := p.now()

	p.ratesMu.Lock()
	c, ok := p.rates[symbol]
	p.ratesMu.Unlock()
	if !ok || now.Sub(c.fetched) > successRateTTL {
		rate, has, err := p.outcomes.SuccessRate(symbol)
		if err != nil {
			p.logger.Warn("Success rate lookup failed", slog.String("symbol", symbol), slog.Any("error", err))
			infra.GlobalMetrics.RecordError("outcomes")
			return nil
		}
		c = cachedRate{rate: rate, ok: has, fetched: now}
		p.ratesMu.Lock()
		p.rates[symbol] = c
		p.ratesMu.Unlock()
	}
	if !c.ok {
		return nil
	}
	r := c.rate
	return &r
}

func (p *Pool) checkAlert(o domain.Order, current domain.Category) bool {
	if p.alert == nil {
		return false
	}
	if !p.alert.CheckCondition(current, o.USDValue().Round(2)) {
		return false
	}
	p.logger.Warn("Large order alert",
		slog.String("alert", string(current)),
		slog.String("hash", o.Hash),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.String("price", o.OrderPrice.String()),
		slog.String("usd_value", o.USDValue().StringFixed(2)))
	return true
}

func (p *Pool) publish(ctx context.Context, kind event.Kind, reason string, o domain.Order, ev strategy.Evaluation, at time.Time) error {
	if p.sink == nil {
		return nil
	}
	pe := event.New(kind, reason, o, ev, at)
	if err := p.sink.Publish(ctx, pe); err != nil {
		return fmt.Errorf("publish %s %s: %w", kind, o.Hash, err)
	}
	infra.GlobalMetrics.RecordPublish(string(kind))
	return nil
}
