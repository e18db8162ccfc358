// Package engine runs the adaptive worker pools that re-observe tracked orders.
//
// A pool works on keys (symbols). Each reconcile tick compares the worker goal,
// derived from the backlog and recent fetch latency, against the running
// workers and starts or stops workers to match.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"whale_go/internal/infra"
)

// PoolConfig sizes an adaptive pool.
type PoolConfig struct {
	Name           string
	MinWorkers     int
	MaxWorkers     int
	PerWorker      int           // keys one worker is expected to keep up with
	MinInterval    time.Duration // minimum spacing between two runs of the same key
	ReconcileEvery time.Duration
	SlowFetch      time.Duration // average work latency above this adds a worker
	Idle           time.Duration // worker back-off when nothing is due
}

// BacklogFunc lists the keys that currently need work.
type BacklogFunc func() []string

// WorkFunc processes one key. Errors are logged and never stop the pool.
type WorkFunc func(ctx context.Context, key string) error

// Goal is the worker count the pool should run:
// ceil(backlog/perWorker), plus one when fetches are slow, clamped to [min, max].
func Goal(backlog, perWorker, min, max int, slow bool) int {
	if perWorker < 1 {
		perWorker = 1
	}
	goal := (backlog + perWorker - 1) / perWorker
	if slow && backlog > 0 {
		goal++
	}
	if goal < min {
		goal = min
	}
	if goal > max {
		goal = max
	}
	return goal
}

type worker struct {
	id   int
	quit chan struct{}
}

// Pool is an adaptive set of workers sharing one backlog.
type Pool struct {
	cfg     PoolConfig
	backlog BacklogFunc
	work    WorkFunc
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	workers     []*worker // newest last
	nextID      int
	pending     []string
	cursor      int
	refreshedAt time.Time
	inFlight    map[string]bool
	lastRun     map[string]time.Time

	avgLatency atomic.Int64 // EWMA of work duration, ns
	wg         sync.WaitGroup
}

// NewPool creates a pool. Run starts it.
func NewPool(cfg PoolConfig, backlog BacklogFunc, work WorkFunc) *Pool {
	if cfg.MinWorkers < 1 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = time.Second
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 50 * time.Millisecond
	}
	return &Pool{
		cfg:      cfg,
		backlog:  backlog,
		work:     work,
		logger:   slog.Default().With(slog.String("module", "pool"), slog.String("pool", cfg.Name)),
		now:      time.Now,
		inFlight: make(map[string]bool),
		lastRun:  make(map[string]time.Time),
	}
}

// Workers returns the number of running workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Refresh marks the backlog stale so the next idle worker reloads it
// instead of waiting for the reconcile tick.
func (p *Pool) Refresh() {
	p.mu.Lock()
	p.refreshedAt = time.Time{}
	p.mu.Unlock()
}

// AverageLatency is the smoothed duration of one unit of work.
func (p *Pool) AverageLatency() time.Duration {
	return time.Duration(p.avgLatency.Load())
}

// Run starts the minimum workers and reconciles until ctx is done.
// It returns after every worker has exited.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("Pool started",
		slog.Int("min_workers", p.cfg.MinWorkers),
		slog.Int("max_workers", p.cfg.MaxWorkers))

	p.reconcile(ctx)
	ticker := time.NewTicker(p.cfg.ReconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.stopAll()
			p.wg.Wait()
			infra.GlobalMetrics.SetPoolWorkers(p.cfg.Name, 0)
			p.logger.Info("Pool stopped")
			return
		case <-ticker.C:
			p.reconcile(ctx)
		}
	}
}

// reconcile moves the worker count toward the goal.
func (p *Pool) reconcile(ctx context.Context) {
	keys := p.backlog()
	slow := p.cfg.SlowFetch > 0 && p.AverageLatency() > p.cfg.SlowFetch
	goal := Goal(len(keys), p.cfg.PerWorker, p.cfg.MinWorkers, p.cfg.MaxWorkers, slow)

	p.mu.Lock()
	p.setPendingLocked(keys)
	before := len(p.workers)
	for len(p.workers) < goal {
		p.startWorkerLocked(ctx)
	}
	for len(p.workers) > goal {
		// newest first
		w := p.workers[len(p.workers)-1]
		p.workers = p.workers[:len(p.workers)-1]
		close(w.quit)
	}
	after := len(p.workers)
	p.mu.Unlock()

	infra.GlobalMetrics.SetPoolWorkers(p.cfg.Name, after)
	if after != before {
		p.logger.Info("Pool rescaled",
			slog.Int("backlog", len(keys)),
			slog.Int("from", before),
			slog.Int("to", after),
			slog.Bool("slow", slow))
	}
}

func (p *Pool) setPendingLocked(keys []string) {
	p.pending = keys
	p.refreshedAt = p.now()
	if p.cursor >= len(keys) {
		p.cursor = 0
	}
	live := make(map[string]bool, len(keys))
	for _, k := range keys {
		live[k] = true
	}
	for k := range p.lastRun {
		if !live[k] && !p.inFlight[k] {
			delete(p.lastRun, k)
		}
	}
}

func (p *Pool) startWorkerLocked(ctx context.Context) {
	p.nextID++
	w := &worker{id: p.nextID, quit: make(chan struct{})}
	p.workers = append(p.workers, w)
	p.wg.Add(1)
	go p.workerLoop(ctx, w)
}

func (p *Pool) stopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		close(w.quit)
	}
	p.workers = nil
}

func (p *Pool) workerLoop(ctx context.Context, w *worker) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		default:
		}

		key, ok := p.claim()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.quit:
				return
			case <-time.After(p.cfg.Idle):
			}
			continue
		}
		p.runOne(ctx, w, key)
	}
}

// claim picks the next key that is not in flight and is due.
func (p *Pool) claim() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	refresh := p.cfg.MinInterval
	if refresh <= 0 || refresh > p.cfg.ReconcileEvery {
		refresh = p.cfg.ReconcileEvery
	}
	if now.Sub(p.refreshedAt) >= refresh {
		p.setPendingLocked(p.backlog())
	}

	n := len(p.pending)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		key := p.pending[idx]
		if p.inFlight[key] {
			continue
		}
		if last, ok := p.lastRun[key]; ok && now.Sub(last) < p.cfg.MinInterval {
			continue
		}
		p.cursor = (idx + 1) % n
		p.inFlight[key] = true
		return key, true
	}
	return "", false
}

func (p *Pool) complete(key string, finished time.Time) {
	p.mu.Lock()
	delete(p.inFlight, key)
	p.lastRun[key] = finished
	p.mu.Unlock()
}

func (p *Pool) runOne(ctx context.Context, w *worker, key string) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker panic recovered",
				slog.Int("worker", w.id),
				slog.String("key", key),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			infra.GlobalMetrics.RecordError(p.cfg.Name)
		}
		end := p.now()
		p.complete(key, end)
		p.observeLatency(end.Sub(start))
	}()

	if err := p.work(ctx, key); err != nil && ctx.Err() == nil {
		p.logger.Warn("Work failed",
			slog.Int("worker", w.id),
			slog.String("key", key),
			slog.Any("error", err))
		infra.GlobalMetrics.RecordError(p.cfg.Name)
	}
}

func (p *Pool) observeLatency(d time.Duration) {
	infra.GlobalMetrics.RecordObservation(p.cfg.Name, d.Nanoseconds())
	for {
		old := p.avgLatency.Load()
		next := d.Nanoseconds()
		if old > 0 {
			next = old + (next-old)/5
		}
		if p.avgLatency.CompareAndSwap(old, next) {
			return
		}
	}
}

// String describes the pool for logs.
func (p *Pool) String() string {
	return fmt.Sprintf("%s(%d workers)", p.cfg.Name, p.Workers())
}
