// Package metrics holds the prometheus collectors of the versioning and
// auto-integration services. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tessera"

type Metrics struct {
	registry *prometheus.Registry

	versionAssignments       *prometheus.CounterVec
	versionCollisions        prometheus.Counter
	versionCollisionExhausts prometheus.Counter
	matcherUnresolved        prometheus.Counter
	matcherDuration          prometheus.Histogram
	autoIntegrateOutcomes    *prometheus.CounterVec
	sweepBranches            *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		versionAssignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_assignments_total",
				Help:      "Number of version assignments reserved, by the lookup that produced them.",
			},
			[]string{"source"},
		),
		versionCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_collisions_total",
			Help:      "Number of computed versions already held by another assignment.",
		}),
		versionCollisionExhausts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_collision_exhausted_total",
			Help:      "Number of version requests that ran out of collision retries.",
		}),
		matcherUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matcher_unresolved_release_total",
			Help:      "Number of release references the product matcher could not resolve and treated as non-matching.",
		}),
		matcherDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matcher_duration_seconds",
			Help:      "Time taken to match a release set to an existing product release.",
			Buckets:   prometheus.DefBuckets,
		}),
		autoIntegrateOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "autointegrate_outcomes_total",
				Help:      "Number of auto-integration runs by outcome.",
			},
			[]string{"outcome"},
		),
		sweepBranches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_branches_total",
				Help:      "Number of feature sets visited by reconciliation sweeps, by result.",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.versionAssignments,
		m.versionCollisions,
		m.versionCollisionExhausts,
		m.matcherUnresolved,
		m.matcherDuration,
		m.autoIntegrateOutcomes,
		m.sweepBranches,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) VersionAssigned(source string) {
	if m == nil {
		return
	}
	m.versionAssignments.WithLabelValues(source).Inc()
}

func (m *Metrics) VersionCollision() {
	if m == nil {
		return
	}
	m.versionCollisions.Inc()
}

func (m *Metrics) VersionCollisionExhausted() {
	if m == nil {
		return
	}
	m.versionCollisionExhausts.Inc()
}

func (m *Metrics) MatcherUnresolved() {
	if m == nil {
		return
	}
	m.matcherUnresolved.Inc()
}

func (m *Metrics) ObserveMatch(seconds float64) {
	if m == nil {
		return
	}
	m.matcherDuration.Observe(seconds)
}

func (m *Metrics) AutoIntegrateOutcome(outcome string) {
	if m == nil {
		return
	}
	m.autoIntegrateOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SweepBranch(result string) {
	if m == nil {
		return
	}
	m.sweepBranches.WithLabelValues(result).Inc()
}
