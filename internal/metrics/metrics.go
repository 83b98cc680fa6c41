// Package metrics exposes orchestrator counters and histograms in the
// Prometheus exposition format.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

const namespace = "pricepilot"

// Registry holds every collector. All methods are safe on a nil receiver so
// callers can run without metrics.
type Registry struct {
	reg *prometheus.Registry

	turns           *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	activeTurns     prometheus.Gauge
	workerCalls     *prometheus.CounterVec
	workerRetries   *prometheus.CounterVec
	workerDuration  *prometheus.HistogramVec
	sessionsEvicted prometheus.Counter
	rateLimited     prometheus.Counter
}

// New creates a registry with the Go runtime and process collectors
// attached.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns handled, by route and overall status.",
		}, []string{"route", "status"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		activeTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_turns",
			Help:      "Turns currently in flight.",
		}),
		workerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_calls_total",
			Help:      "Worker step invocations, by worker and step status.",
		}, []string{"worker", "status"}),
		workerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_retries_total",
			Help:      "Retries after the first attempt, by worker.",
		}, []string{"worker"}),
		workerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_call_duration_seconds",
			Help:      "Worker step latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"worker"}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed after exceeding the idle TTL.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.turns,
		r.turnDuration,
		r.activeTurns,
		r.workerCalls,
		r.workerRetries,
		r.workerDuration,
		r.sessionsEvicted,
		r.rateLimited,
	)
	return r
}

// Handler serves the registry for scraping.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// TurnStarted marks a turn in flight and returns the func that ends it.
func (r *Registry) TurnStarted() func() {
	if r == nil {
		return func() {}
	}
	r.activeTurns.Inc()
	return r.activeTurns.Dec
}

// ObserveTurn records a finished turn.
func (r *Registry) ObserveTurn(route string, status domain.OverallStatus, elapsed time.Duration) {
	if r == nil {
		return
	}
	route = labelOrUnknown(route)
	r.turns.WithLabelValues(route, string(status)).Inc()
	r.turnDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveWorkerCall implements worker.Recorder.
func (r *Registry) ObserveWorkerCall(worker string, status domain.StepStatus, attempts int, elapsed time.Duration) {
	if r == nil {
		return
	}
	worker = labelOrUnknown(worker)
	r.workerCalls.WithLabelValues(worker, string(status)).Inc()
	if attempts > 1 {
		r.workerRetries.WithLabelValues(worker).Add(float64(attempts - 1))
	}
	r.workerDuration.WithLabelValues(worker).Observe(elapsed.Seconds())
}

// SessionsEvicted counts n evicted sessions.
func (r *Registry) SessionsEvicted(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.sessionsEvicted.Add(float64(n))
}

// RateLimited counts one rejected request.
func (r *Registry) RateLimited() {
	if r == nil {
		return
	}
	r.rateLimited.Inc()
}

func labelOrUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}
