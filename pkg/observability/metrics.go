// Package observability carries the service's Prometheus metrics and the
// OpenTelemetry tracer setup.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's instruments on a private registry, so tests
// can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal      *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	llmTokensTotal  *prometheus.CounterVec
	interruptsTotal prometheus.Counter
}

// NewMetrics builds and registers the instrument set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pendo_turns_total",
			Help: "Conversation turns processed, by serving specialist and outcome.",
		}, []string{"specialist", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pendo_turn_duration_seconds",
			Help:    "Wall time of one conversation turn.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"specialist"}),
		llmTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pendo_llm_tokens_total",
			Help: "LLM tokens consumed, by provider and kind (prompt or completion).",
		}, []string{"provider", "kind"}),
		interruptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pendo_interrupts_total",
			Help: "Workflow suspensions awaiting human steering input.",
		}),
	}
	m.registry.MustRegister(m.turnsTotal, m.turnDuration, m.llmTokensTotal, m.interruptsTotal)
	return m
}

// Turn outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSuspended = "suspended"
	OutcomeFailed    = "failed"
)

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(specialist, outcome string, d time.Duration) {
	m.turnsTotal.WithLabelValues(specialist, outcome).Inc()
	m.turnDuration.WithLabelValues(specialist).Observe(d.Seconds())
}

// AddTokens records LLM token consumption.
func (m *Metrics) AddTokens(provider, kind string, n int) {
	if n > 0 {
		m.llmTokensTotal.WithLabelValues(provider, kind).Add(float64(n))
	}
}

// IncInterrupts records one workflow suspension.
func (m *Metrics) IncInterrupts() { m.interruptsTotal.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
