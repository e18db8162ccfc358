package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "whale_scan_duration_seconds", Help: "Duration of primary scan passes", Buckets: prometheus.ExponentialBuckets(0.5, 2, 8)},
	)
	scanSymbols = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whale_scan_symbols_total", Help: "Symbols processed by primary scans"},
		[]string{"result"},
	)
	scanAborts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "whale_scan_aborts_total", Help: "Primary scan passes aborted by data source outage"},
	)
	candidatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "whale_candidates_total", Help: "Candidate orders inserted by primary scans"},
	)
	fetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "whale_book_fetch_seconds", Help: "Order book fetch latency per pool", Buckets: prometheus.DefBuckets},
		[]string{"pool"},
	)
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whale_transitions_total", Help: "Order lifecycle transitions"},
		[]string{"transition"},
	)
	publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whale_publish_events_total", Help: "Publish events emitted by the hot pool"},
		[]string{"kind"},
	)
	dropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whale_deliveries_dropped_total", Help: "Events dropped for a subscriber"},
		[]string{"tier", "reason"},
	)
	componentErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whale_errors_total", Help: "Contained errors by component"},
		[]string{"component"},
	)
	subscribersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "whale_subscribers", Help: "Connected subscribers per tier"},
		[]string{"tier"},
	)
	poolWorkersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "whale_pool_workers", Help: "Running workers per adaptive pool"},
		[]string{"pool"},
	)
	ordersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "whale_orders", Help: "Registry orders per state"},
		[]string{"state"},
	)
	circuitGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "whale_exchange_circuit_open", Help: "1 when the exchange circuit breaker is open"},
	)
)

func init() {
	prometheus.MustRegister(
		scanDuration, scanSymbols, scanAborts, candidatesTotal, fetchLatency,
		transitionsTotal, publishTotal, dropsTotal, componentErrors,
		subscribersGauge, poolWorkersGauge, ordersGauge, circuitGauge,
	)
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
