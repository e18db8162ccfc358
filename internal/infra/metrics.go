package infra

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics keeps cheap in-process counters for /healthz and mirrors them
// into the Prometheus collectors. Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	scanPasses        atomic.Uint64
	scanFailures      atomic.Uint64
	candidatesFound   atomic.Uint64
	observations      atomic.Uint64
	promotions        atomic.Uint64
	demotions         atomic.Uint64
	deaths            atomic.Uint64
	eventsPublished   atomic.Uint64
	deliveriesDropped atomic.Uint64
	errorsTotal       atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	circuitOpen       atomic.Int32 // 1 = open, 0 = closed

	mu          sync.Mutex
	poolWorkers map[string]int
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordScan records one primary scan pass.
func (m *Metrics) RecordScan(d time.Duration, symbols, failed, candidates int) {
	m.scanPasses.Add(1)
	m.candidatesFound.Add(uint64(candidates))
	scanDuration.Observe(d.Seconds())
	scanSymbols.WithLabelValues("ok").Add(float64(symbols - failed))
	scanSymbols.WithLabelValues("failed").Add(float64(failed))
	candidatesTotal.Add(float64(candidates))
}

// RecordScanFailure records an aborted pass.
func (m *Metrics) RecordScanFailure() {
	m.scanFailures.Add(1)
	scanAborts.Inc()
}

// RecordObservation records a book fetch made by a pool, with latency.
func (m *Metrics) RecordObservation(pool string, latencyNs int64) {
	m.observations.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
	fetchLatency.WithLabelValues(pool).Observe(float64(latencyNs) / float64(time.Second))
}

// RecordTransition records a lifecycle edge by target name.
func (m *Metrics) RecordTransition(name string) {
	switch name {
	case "promoted":
		m.promotions.Add(1)
	case "demoted":
		m.demotions.Add(1)
	case "died":
		m.deaths.Add(1)
	}
	transitionsTotal.WithLabelValues(name).Inc()
}

// RecordPublish records a publish event by kind.
func (m *Metrics) RecordPublish(kind string) {
	m.eventsPublished.Add(1)
	publishTotal.WithLabelValues(kind).Inc()
}

// RecordDrop records an event dropped for one subscriber.
func (m *Metrics) RecordDrop(tier, reason string) {
	m.deliveriesDropped.Add(1)
	dropsTotal.WithLabelValues(tier, reason).Inc()
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError(component string) {
	m.errorsTotal.Add(1)
	componentErrors.WithLabelValues(component).Inc()
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections(tier string) {
	m.activeConnections.Add(1)
	subscribersGauge.WithLabelValues(tier).Inc()
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections(tier string) {
	m.activeConnections.Add(-1)
	subscribersGauge.WithLabelValues(tier).Dec()
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	if open {
		m.circuitOpen.Store(1)
		circuitGauge.Set(1)
	} else {
		m.circuitOpen.Store(0)
		circuitGauge.Set(0)
	}
}

// SetPoolWorkers records the running worker count of a pool.
func (m *Metrics) SetPoolWorkers(pool string, n int) {
	m.mu.Lock()
	if m.poolWorkers == nil {
		m.poolWorkers = make(map[string]int)
	}
	m.poolWorkers[pool] = n
	m.mu.Unlock()
	poolWorkersGauge.WithLabelValues(pool).Set(float64(n))
}

// SetRegistryCounts publishes the per-state order counts.
func (m *Metrics) SetRegistryCounts(counts map[string]int) {
	for state, n := range counts {
		ordersGauge.WithLabelValues(state).Set(float64(n))
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	ScanPasses        uint64         `json:"scan_passes"`
	ScanFailures      uint64         `json:"scan_failures"`
	CandidatesFound   uint64         `json:"candidates_found"`
	Observations      uint64         `json:"observations"`
	Promotions        uint64         `json:"promotions"`
	Demotions         uint64         `json:"demotions"`
	Deaths            uint64         `json:"deaths"`
	EventsPublished   uint64         `json:"events_published"`
	DeliveriesDropped uint64         `json:"deliveries_dropped"`
	ErrorsTotal       uint64         `json:"errors_total"`
	AvgLatencyNs      int64          `json:"avg_fetch_latency_ns"`
	ActiveConnections int32          `json:"active_connections"`
	CircuitOpen       bool           `json:"circuit_open"`
	PoolWorkers       map[string]int `json:"pool_workers"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	m.mu.Lock()
	workers := make(map[string]int, len(m.poolWorkers))
	for k, v := range m.poolWorkers {
		workers[k] = v
	}
	m.mu.Unlock()

	return MetricsSnapshot{
		ScanPasses:        m.scanPasses.Load(),
		ScanFailures:      m.scanFailures.Load(),
		CandidatesFound:   m.candidatesFound.Load(),
		Observations:      m.observations.Load(),
		Promotions:        m.promotions.Load(),
		Demotions:         m.demotions.Load(),
		Deaths:            m.deaths.Load(),
		EventsPublished:   m.eventsPublished.Load(),
		DeliveriesDropped: m.deliveriesDropped.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		CircuitOpen:       m.circuitOpen.Load() == 1,
		PoolWorkers:       workers,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.scanPasses.Store(0)
	m.scanFailures.Store(0)
	m.candidatesFound.Store(0)
	m.observations.Store(0)
	m.promotions.Store(0)
	m.demotions.Store(0)
	m.deaths.Store(0)
	m.eventsPublished.Store(0)
	m.deliveriesDropped.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.circuitOpen.Store(0)
	m.mu.Lock()
	m.poolWorkers = nil
	m.mu.Unlock()
}
