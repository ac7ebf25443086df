package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/essaypay/internal/models"
)

type Metrics struct {
	registry *prometheus.Registry

	// Gateway callbacks by method and outcome ("ok" or error code)
	CallbacksTotal *prometheus.CounterVec

	// Transaction state transitions applied by the engine
	TransitionsTotal *prometheus.CounterVec

	CreditsGranted  prometheus.Counter
	CreditsReversed prometheus.Counter

	HTTPLatency *prometheus.HistogramVec
}

// New registers collectors on its own registry
// so several instances (tests) never clash
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merchant_callbacks_total",
				Help: "Total gateway callbacks",
			},
			[]string{"method", "outcome"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_transitions_total",
				Help: "Total transaction state transitions",
			},
			[]string{"from", "to"},
		),
		CreditsGranted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_granted_total",
				Help: "Credits added to accounts by paid transactions",
			},
		),
		CreditsReversed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_reversed_total",
				Help: "Credits taken back by transactions cancelled after payment",
			},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_requests_latency_seconds",
				Help:    "Latency of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CallbacksTotal,
		m.TransitionsTotal,
		m.CreditsGranted,
		m.CreditsReversed,
		m.HTTPLatency,
	)

	return m
}

// Handler for /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Callback(method string, outcome string) {
	m.CallbacksTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) Transition(from models.TransactionState, to models.TransactionState, credits int64) {
	m.TransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()

	switch to {
	case models.StatePaid:
		m.CreditsGranted.Add(float64(credits))
	case models.StateCancelledAfterPaid:
		m.CreditsReversed.Add(float64(credits))
	}
}

func (m *Metrics) ObserveHTTP(method string, route string, status int, took time.Duration) {
	m.HTTPLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(took.Seconds())
}
