package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"whale_go/internal/broadcast"
	"whale_go/internal/domain"
	"whale_go/internal/event"
	"whale_go/internal/hotpool"
	"whale_go/internal/infra"
	"whale_go/internal/infra/binance"
	"whale_go/internal/infra/export"
	"whale_go/internal/infra/storage"
	"whale_go/internal/observer"
	"whale_go/internal/registry"
	"whale_go/internal/scanner"
	"whale_go/internal/service"
	"whale_go/internal/strategy"

	"github.com/shopspring/decimal"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage
	Gateway  domain.ExchangeGateway
	Registry *registry.Registry
	Market   *service.MarketService
	Hub      *broadcast.Hub
	Exporter *export.Exporter
	HotPool  *hotpool.Pool
	Observer *observer.Pool
	Scanner  *scanner.Scanner
	Server   *broadcast.Server

	client   *binance.Client
	restored int
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and builds every component. Nothing runs yet.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("Bootstrapping", slog.String("app", cfg.App.Name), slog.String("version", cfg.App.Version))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Exchange gateway
	client := binance.NewClient(cfg)
	b.client = client
	b.Gateway = client

	// 5. Registry, resumed from the last snapshot
	b.Registry = registry.New(registry.Rules{
		SurvivalThreshold: cfg.Lifecycle.SurvivalThreshold,
		PromotionAfter:    cfg.Lifecycle.HotPoolLifetime,
	}, cfg.Lifecycle.DeadRetention)
	b.Registry.OnDeath(func(o domain.Order) {
		if err := store.RecordOutcome(o); err != nil {
			slog.Warn("Failed to record outcome", slog.String("hash", o.Hash), slog.Any("error", err))
			infra.GlobalMetrics.RecordError("storage")
		}
	})
	orders, err := store.LoadSnapshot()
	if err != nil {
		slog.Warn("Failed to load snapshot", slog.Any("error", err))
	}
	b.restored = b.Registry.Restore(orders)
	if b.restored > 0 {
		slog.Info("Resumed tracked orders", slog.Int("orders", b.restored))
	}

	// 6. Market context
	b.Market = service.NewMarketService(cfg.Weights.VolatilityWindow)

	// 7. Strategy engine
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}

	// 8. Sinks
	event.Warmup()
	b.Hub = broadcast.NewHub(broadcast.ConfigFrom(cfg))
	sinks := event.Fanout{b.Hub}
	if cfg.Export.Enabled {
		outbox, err := export.OpenOutbox(cfg.Export.OutboxDir)
		if err != nil {
			return err
		}
		b.Exporter = export.NewExporter(outbox, export.NewProducer(cfg.Export.Brokers, cfg.Export.Topic), cfg.Export.RelayInterval)
		sinks = append(sinks, b.Exporter)
		slog.Info("Event export enabled", slog.String("topic", cfg.Export.Topic))
	}

	// 9. Pools and scanner
	b.HotPool = hotpool.New(client, b.Registry, b.Market, eng, sinks, hotpool.ConfigFrom(cfg)).WithOutcomes(store)
	if cfg.Alerts.Enabled {
		rule := domain.NewAlertRule(domain.Category(cfg.Alerts.MinCategory), decimal.NewFromFloat(cfg.Alerts.MinUSDValue))
		b.HotPool.WithAlert(rule)
	}
	b.Observer = observer.New(client, b.Registry, b.Market, observer.ConfigFrom(cfg))
	b.Observer.OnPromote(b.HotPool.Admit)
	b.Scanner = scanner.New(client, b.Registry, b.Market, scanner.ConfigFrom(cfg))

	// 10. Server
	vipKeys := cfg.Broadcast.VIPKeys
	if cfg.Broadcast.VIPKeysFile != "" {
		fromFile, err := broadcast.LoadVIPKeys(cfg.Broadcast.VIPKeysFile)
		if err != nil {
			return err
		}
		vipKeys = append(vipKeys, fromFile...)
	}
	auth := broadcast.NewAuthenticator(cfg.Broadcast.PrivateToken, vipKeys)
	b.Server = broadcast.NewServer(b.Hub, auth, cfg.Broadcast.WriteTimeout, b.Health)

	return nil
}

func newEngine(cfg *infra.Config) (*strategy.Engine, error) {
	algos := make([]strategy.Algorithm, 0, len(cfg.Weights.Algorithms))
	for _, a := range cfg.Weights.Algorithms {
		algos = append(algos, strategy.Algorithm{
			Name: a.Name,
			Coefficients: strategy.Coefficients{
				Time:       a.Time,
				Size:       a.Size,
				RoundLevel: a.RoundLevel,
				Volatility: a.Volatility,
				TimeOfDay:  a.TimeOfDay,
				Weekend:    a.Weekend,
			},
		})
	}
	table, err := strategy.NewTable(algos, cfg.Weights.Recommended)
	if err != nil {
		return nil, fmt.Errorf("weights: %w", err)
	}

	tf := cfg.Weights.TimeFactors
	return strategy.NewEngine(table, strategy.Params{
		TimeFactors: strategy.TimeFactorParams{
			LinearHorizon: tf.LinearHorizon,
			HalfLife:      tf.HalfLife,
			LogHorizon:    tf.LogHorizon,
			AdaptiveTau:   tf.AdaptiveTau,
			Weights: strategy.TimeFactorWeights{
				Linear:             tf.Weights.Linear,
				Exponential:        tf.Weights.Exponential,
				Logarithmic:        tf.Weights.Logarithmic,
				AdaptiveVolatility: tf.Weights.AdaptiveVolatility,
			},
		},
		MaxSizeMultiplier: cfg.Weights.MaxSizeMultiplier,
		MaxVolatility:     cfg.Weights.MaxVolatility,
		RoundProximityPct: cfg.Weights.RoundProximityPct,
	}), nil
}

// Run starts every component and blocks until ctx is done, then flushes state.
// It returns an error only when the first scan fails and nothing was resumed.
func (b *Bootstrap) Run(ctx context.Context) error {
	cfg := b.Config
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Component panic", slog.String("component", name), slog.Any("panic", r))
				}
			}()
			fn(runCtx)
		}()
	}

	b.Market.StartProcessor(runCtx)
	spawn("broadcast", b.Hub.Run)
	if b.Exporter != nil {
		spawn("export", b.Exporter.Relay)
	}
	spawn("hotpool", b.HotPool.Run)
	spawn("observer", b.Observer.Run)

	// initial pass; only a failure with nothing to resume is fatal
	if _, err := b.Scanner.ScanOnce(runCtx); err != nil {
		if ctx.Err() != nil {
			cancel()
			wg.Wait()
			return nil
		}
		if b.restored == 0 {
			cancel()
			wg.Wait()
			return fmt.Errorf("initial scan: %w", err)
		}
		slog.Warn("Initial scan failed, continuing with resumed orders", slog.Any("error", err))
	}

	spawn("scanner", func(ctx context.Context) { b.Scanner.Run(ctx, cfg.Scan.Interval) })
	spawn("housekeeping", b.housekeeping)
	spawn("server", func(ctx context.Context) {
		if err := b.Server.ListenAndServe(ctx, cfg.Broadcast.ListenAddr); err != nil {
			slog.Error("Server stopped", slog.Any("error", err))
		}
	})

	slog.Info("Tracker fully operational", slog.String("listen", cfg.Broadcast.ListenAddr))
	<-ctx.Done()
	slog.Info("Shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.Shutdown.Grace):
		slog.Warn("Grace period elapsed, abandoning in-flight work", slog.Duration("grace", cfg.Shutdown.Grace))
	}

	return b.saveSnapshot()
}

// housekeeping saves snapshots, sweeps dead orders and publishes gauges.
func (b *Bootstrap) housekeeping(ctx context.Context) {
	cfg := b.Config
	snapshot := time.NewTicker(cfg.Storage.SnapshotInterval)
	defer snapshot.Stop()
	sweep := time.NewTicker(cfg.Lifecycle.SweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-snapshot.C:
			if err := b.saveSnapshot(); err != nil {
				slog.Error("Snapshot failed", slog.Any("error", err))
				infra.GlobalMetrics.RecordError("storage")
			}
			if cfg.Storage.OutcomeRetention > 0 {
				if _, err := b.Storage.PruneOutcomes(time.Now().Add(-cfg.Storage.OutcomeRetention)); err != nil {
					slog.Warn("Outcome pruning failed", slog.Any("error", err))
				}
			}
		case now := <-sweep.C:
			if n := b.Registry.Sweep(now); n > 0 {
				slog.Debug("Swept dead orders", slog.Int("orders", n))
			}
			infra.GlobalMetrics.SetRegistryCounts(b.orderCounts())
		}
	}
}

func (b *Bootstrap) saveSnapshot() error {
	states := []domain.OrderState{domain.StateHot}
	if b.Config.Storage.IncludeTracked {
		states = append(states, domain.StateTracked)
	}
	orders := b.Registry.Snapshot(states...)
	if err := b.Storage.SaveSnapshot(orders); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	slog.Debug("Snapshot saved", slog.Int("orders", len(orders)))
	return nil
}

func (b *Bootstrap) orderCounts() map[string]int {
	out := make(map[string]int)
	for state, n := range b.Registry.Counts() {
		out[state.String()] = n
	}
	return out
}

// Health is the /healthz document.
type Health struct {
	Status      string                 `json:"status"`
	Circuit     string                 `json:"circuit"`
	Orders      map[string]int         `json:"orders"`
	Workers     map[string]int         `json:"workers"`
	Subscribers map[broadcast.Tier]int `json:"subscribers"`
	Outbox      *int                   `json:"outbox_pending,omitempty"`
	Metrics     infra.MetricsSnapshot  `json:"metrics"`
}

// Health reports liveness plus counts for operators.
func (b *Bootstrap) Health() any {
	h := Health{
		Status:  "ok",
		Circuit: b.client.Breaker().GetState().String(),
		Orders:  b.orderCounts(),
		Workers: map[string]int{
			"observer": b.Observer.Workers(),
			"hot":      b.HotPool.Workers(),
		},
		Subscribers: b.Hub.Counts(),
		Metrics:     infra.GlobalMetrics.Snapshot(),
	}
	if h.Circuit != infra.StateClosed.String() {
		h.Status = "degraded"
	}
	if b.Exporter != nil {
		if n, err := b.Exporter.Pending(); err == nil {
			h.Outbox = &n
		}
	}
	return h
}

// Close releases storage and export resources.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Exporter != nil {
		errs = append(errs, b.Exporter.Close())
	}
	if b.Storage != nil {
		errs = append(errs, b.Storage.Close())
	}
	return errors.Join(errs...)
}
