// Package metrics exposes Prometheus metrics for ledger operations, payouts
// and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

// Metrics collects escrowd metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	PayoutNet         prometheus.Histogram
	FeesTotal         *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_operations_total",
				Help: "Ledger operations by outcome code",
			},
			[]string{"op", "code"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_operation_duration_seconds",
				Help:    "Ledger operation latency including lock wait",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"op"},
		),
		PayoutNet: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "escrow_payout_net_units",
				Help:    "Net amount paid to winners per claim",
				Buckets: prometheus.ExponentialBuckets(1, 10, 13),
			},
		),
		FeesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_fees_units_total",
				Help: "Claim fees paid out by recipient",
			},
			[]string{"recipient"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.PayoutNet,
		m.FeesTotal,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one engine operation.
func (m *Metrics) ObserveOperation(op, code string, elapsed time.Duration) {
	m.OperationsTotal.WithLabelValues(op, code).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObservePayout records a winning claim.
func (m *Metrics) ObservePayout(p settlement.Payout) {
	m.PayoutNet.Observe(float64(p.Net))
	m.FeesTotal.WithLabelValues("creator").Add(float64(p.CreatorFee))
	m.FeesTotal.WithLabelValues("treasury").Add(float64(p.TreasuryFee))
}

// ObserveHTTP records one HTTP request. route is the mux pattern, not the
// raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
