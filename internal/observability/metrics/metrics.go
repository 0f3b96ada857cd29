// Package metrics exposes Prometheus collectors for participant resolution,
// task lifecycle, history queries, engine calls and the identity-link cache.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linkflow/humantask/internal/engine"
)

const namespace = "humantask"

// Lifecycle outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeNotFound       = "not_found"
	OutcomeAlreadyClaimed = "already_claimed"
	OutcomeNoOpenTasks    = "no_open_tasks"
	OutcomeError          = "error"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	resolutions  *prometheus.CounterVec
	lifecycle    *prometheus.CounterVec
	history      *prometheus.CounterVec
	engineCalls  *prometheus.HistogramVec
	engineErrors *prometheus.CounterVec
	cache        *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Participant resolutions by operation and channel.",
		}, []string{"op", "channel"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_total",
			Help:      "Task lifecycle operations by outcome.",
		}, []string{"op", "outcome"}),
		history: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_queries_total",
			Help:      "Completed-task history queries by channel.",
		}, []string{"channel"}),
		engineCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_duration_seconds",
			Help:      "Latency of calls to the process engine.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"call"}),
		engineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_call_errors_total",
			Help:      "Failed calls to the process engine.",
		}, []string{"call"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Identity-link cache lookups by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.resolutions,
		m.lifecycle,
		m.history,
		m.engineCalls,
		m.engineErrors,
		m.cache,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ResolutionPerformed counts one resolver operation.
func (m *Metrics) ResolutionPerformed(op string, channel engine.Channel) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(op, channel.String()).Inc()
}

// LifecycleCompleted counts one lifecycle operation, classifying err.
func (m *Metrics) LifecycleCompleted(op string, err error) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(op, Outcome(err)).Inc()
}

// HistoryQueried counts one history query.
func (m *Metrics) HistoryQueried(channel engine.Channel) {
	if m == nil {
		return
	}
	m.history.WithLabelValues(channel.String()).Inc()
}

// ObserveEngineCall implements engine.CallObserver.
func (m *Metrics) ObserveEngineCall(call string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.engineCalls.WithLabelValues(call).Observe(d.Seconds())
	if err != nil {
		m.engineErrors.WithLabelValues(call).Inc()
	}
}

// CacheHit counts a cache hit.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cache.WithLabelValues("hit").Inc()
}

// CacheMiss counts a cache miss.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cache.WithLabelValues("miss").Inc()
}

// Outcome maps a lifecycle error onto its outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, engine.ErrTaskNotFound), errors.Is(err, engine.ErrInstanceNotFound):
		return OutcomeNotFound
	case errors.Is(err, engine.ErrAlreadyClaimed):
		return OutcomeAlreadyClaimed
	case errors.Is(err, engine.ErrNoOpenTasks):
		return OutcomeNoOpenTasks
	default:
		return OutcomeError
	}
}
