// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "points"

// Metrics holds every collector the engine records into.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Ledger ─────────────────────────────────────────────────────────────

	EntriesAppended *prometheus.CounterVec
	EntriesDeleted  prometheus.Counter
	Recomputes      prometheus.Counter

	// ─── Sprints ────────────────────────────────────────────────────────────

	SprintsAssigned  prometheus.Counter
	SprintsCompleted prometheus.Counter
	SprintRewards    prometheus.Histogram
	PenaltiesCharged prometheus.Counter
	PenaltyPoints    prometheus.Counter

	// ─── Achievements ───────────────────────────────────────────────────────

	BadgesAwarded  *prometheus.CounterVec
	BadgeAdjusts   prometheus.Counter
	AdjustedPoints prometheus.Counter

	// ─── Jobs ───────────────────────────────────────────────────────────────

	JobRuns     *prometheus.CounterVec
	JobErrors   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// ─── Event bus ──────────────────────────────────────────────────────────

	EventsPublished *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	HandlerFailures *prometheus.CounterVec

	// ─── HTTP ───────────────────────────────────────────────────────────────

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry. The Go runtime and
// process collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EntriesAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_appended_total",
			Help:      "Ledger entries appended, by category.",
		}, []string{"category"}),
		EntriesDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_deleted_total",
			Help:      "Ledger entries removed by undo.",
		}),
		Recomputes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "recomputes_total",
			Help:      "Balance recomputations committed.",
		}),

		SprintsAssigned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sprint",
			Name:      "assigned_total",
			Help:      "Skill sprints assigned.",
		}),
		SprintsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sprint",
			Name:      "completed_total",
			Help:      "Skill sprints completed.",
		}),
		SprintRewards: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sprint",
			Name:      "reward_points",
			Help:      "Points awarded on sprint completion after decay.",
			Buckets:   []float64{0, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		PenaltiesCharged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sprint",
			Name:      "penalties_charged_total",
			Help:      "Penalty days charged.",
		}),
		PenaltyPoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sprint",
			Name:      "penalty_points_total",
			Help:      "Points deducted by penalties.",
		}),

		BadgesAwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "achievement",
			Name:      "awards_total",
			Help:      "Badges awarded, by mode.",
		}, []string{"mode"}),
		BadgeAdjusts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "achievement",
			Name:      "adjustments_total",
			Help:      "Retroactive badge adjustments applied.",
		}),
		AdjustedPoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "achievement",
			Name:      "adjusted_points_abs_total",
			Help:      "Absolute points moved by retroactive adjustments.",
		}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Batch job runs, by job.",
		}, []string{"job"}),
		JobErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "item_errors_total",
			Help:      "Per-item failures inside batch jobs.",
		}, []string{"job"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Batch job wall time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "published_total",
			Help:      "Events published, by type.",
		}, []string{"type"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "handler_duration_seconds",
			Help:      "Event handler execution time.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"type"}),
		HandlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "handler_failures_total",
			Help:      "Event handler failures and panics, by type.",
		}, []string{"type"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePublish implements messaging.Observer.
func (m *Metrics) ObservePublish(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// ObserveHandler implements messaging.Observer.
func (m *Metrics) ObserveHandler(eventType string, d time.Duration, ok bool) {
	m.HandlerDuration.WithLabelValues(eventType).Observe(d.Seconds())
	if !ok {
		m.HandlerFailures.WithLabelValues(eventType).Inc()
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
