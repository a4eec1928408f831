// Package observability exposes the consistency counters to Prometheus.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "librarian"

// Metrics implements ports.Metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sagaCompleted      *prometheus.CounterVec
	lendingActivated   prometheus.Counter
	conflictRetried    *prometheus.CounterVec
	resolveAttempts    *prometheus.CounterVec
	correlationExpired *prometheus.CounterVec
	messagesHandled    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sagaCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signup_sagas_completed_total",
			Help:      "Signup sagas that reached a terminal status.",
		}, []string{"status"}),
		lendingActivated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lendings_activated_total",
			Help:      "Lendings moved from PENDENT to VALIDATED.",
		}),
		conflictRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Optimistic-concurrency conflicts seen per operation.",
		}, []string{"operation"}),
		resolveAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_attempts_total",
			Help:      "Lookups of not yet replicated entities.",
		}, []string{"entity", "found"}),
		correlationExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlated_requests_expired_total",
			Help:      "Correlated requests removed by the expiry sweep.",
		}, []string{"kind"}),
		messagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Bus deliveries by message type and outcome.",
		}, []string{"type", "outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sagaCompleted,
		m.lendingActivated,
		m.conflictRetried,
		m.resolveAttempts,
		m.correlationExpired,
		m.messagesHandled,
	)
	return m
}

func (m *Metrics) SagaCompleted(status string) {
	m.sagaCompleted.WithLabelValues(status).Inc()
}

func (m *Metrics) LendingActivated() {
	m.lendingActivated.Inc()
}

func (m *Metrics) ConflictRetried(operation string) {
	m.conflictRetried.WithLabelValues(operation).Inc()
}

func (m *Metrics) ResolveAttempt(entity string, found bool) {
	m.resolveAttempts.WithLabelValues(entity, strconv.FormatBool(found)).Inc()
}

func (m *Metrics) CorrelationExpired(kind string) {
	m.correlationExpired.WithLabelValues(kind).Inc()
}

func (m *Metrics) MessageHandled(msgType, outcome string) {
	m.messagesHandled.WithLabelValues(msgType, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
