package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics records the outcomes of provider webhook reconciliation.
type ReconcileMetrics struct {
	outcomes   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_events_total",
		Help: "Provider events processed, by provider and outcome.",
	}, []string{"provider", "outcome"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_duplicate_events_total",
		Help: "Provider events skipped as duplicates.",
	}, []string{"provider"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_version_conflicts_total",
		Help: "Goal aggregate version conflicts that triggered a retry.",
	}, []string{"provider"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconcile_duration_seconds",
		Help:    "Duration of webhook reconciliation in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	reg.MustRegister(outcomes, duplicates, conflicts, duration)
	return &ReconcileMetrics{
		outcomes:   outcomes,
		duplicates: duplicates,
		conflicts:  conflicts,
		duration:   duration,
	}
}

// IncOutcome counts a processed event by terminal outcome.
func (r *ReconcileMetrics) IncOutcome(provider, outcome string) {
	if r == nil || r.outcomes == nil {
		return
	}
	r.outcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// IncDuplicate counts an event discarded as a replay.
func (r *ReconcileMetrics) IncDuplicate(provider string) {
	if r == nil || r.duplicates == nil {
		return
	}
	r.duplicates.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncVersionConflict counts an optimistic-concurrency retry.
func (r *ReconcileMetrics) IncVersionConflict(provider string) {
	if r == nil || r.conflicts == nil {
		return
	}
	r.conflicts.WithLabelValues(normalizeLabel(provider)).Inc()
}

// ObserveDuration records how long a reconciliation took.
func (r *ReconcileMetrics) ObserveDuration(provider string, duration time.Duration) {
	if r == nil || r.duration == nil {
		return
	}
	r.duration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
