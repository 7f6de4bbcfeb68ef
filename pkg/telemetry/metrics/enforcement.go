package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sentinel/pkg/config"
)

// EnforcementMetrics tracks enforcement gate decisions.
//
// Metrics:
//   - sentinel_governance_enforcement_decisions_total: decisions by result code
//   - sentinel_governance_enforcement_duration_seconds: check latency
type EnforcementMetrics struct {
	decisionsTotal *prometheus.CounterVec
	duration       prometheus.Histogram
}

// NewEnforcementMetrics creates and registers enforcement metrics.
func NewEnforcementMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *EnforcementMetrics {
	em := &EnforcementMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "enforcement_decisions_total",
				Help:      "Total number of enforcement decisions by code",
			},
			[]string{"code"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "enforcement_duration_seconds",
				Help:      "Duration of enforcement checks in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
			},
		),
	}

	registry.MustRegister(em.decisionsTotal, em.duration)
	return em
}

// RecordDecision records one gate decision.
func (em *EnforcementMetrics) RecordDecision(code string, duration time.Duration) {
	em.decisionsTotal.WithLabelValues(code).Inc()
	em.duration.Observe(duration.Seconds())
}
