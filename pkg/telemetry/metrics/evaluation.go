package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sentinel/pkg/config"
)

// EvaluationMetrics tracks snapshot evaluation.
//
// Metrics:
//   - sentinel_governance_evaluations_total: snapshots evaluated by policy
//   - sentinel_governance_evaluation_duration_seconds: evaluate + dispatch time
//   - sentinel_governance_rules_triggered_total: triggered rules by rule and action kind
type EvaluationMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	triggeredTotal     *prometheus.CounterVec
}

// NewEvaluationMetrics creates and registers evaluation metrics.
func NewEvaluationMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *EvaluationMetrics {
	em := &EvaluationMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluations_total",
				Help:      "Total number of snapshots evaluated",
			},
			[]string{"policy_id", "triggered"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of snapshot evaluation including dispatch",
				Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"policy_id"},
		),
		triggeredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rules_triggered_total",
				Help:      "Total number of triggered rules",
			},
			[]string{"rule", "action"},
		),
	}

	registry.MustRegister(em.evaluationsTotal, em.evaluationDuration, em.triggeredTotal)
	return em
}

// RecordEvaluation records one evaluated snapshot.
func (em *EvaluationMetrics) RecordEvaluation(policyID string, triggered int, duration time.Duration) {
	label := "false"
	if triggered > 0 {
		label = "true"
	}
	em.evaluationsTotal.WithLabelValues(policyID, label).Inc()
	em.evaluationDuration.WithLabelValues(policyID).Observe(duration.Seconds())
}

// RecordTriggered records one triggered rule.
func (em *EvaluationMetrics) RecordTriggered(rule, action string) {
	em.triggeredTotal.WithLabelValues(rule, action).Inc()
}
