package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sentinel/pkg/config"
)

// RolloutMetrics tracks staged rollout progress.
//
// Metrics:
//   - sentinel_governance_rollout_advances_total: advance attempts by outcome
//   - sentinel_governance_rollout_stage_index: current stage index (-1 before the first advance)
//   - sentinel_governance_rollout_percent: current rollout percentage
type RolloutMetrics struct {
	advancesTotal *prometheus.CounterVec
	stageIndex    prometheus.Gauge
	percent       prometheus.Gauge
}

// NewRolloutMetrics creates and registers rollout metrics.
func NewRolloutMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RolloutMetrics {
	rm := &RolloutMetrics{
		advancesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rollout_advances_total",
				Help:      "Total number of rollout advance attempts by outcome",
			},
			[]string{"outcome"},
		),
		stageIndex: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rollout_stage_index",
				Help:      "Current rollout stage index",
			},
		),
		percent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rollout_percent",
				Help:      "Current rollout percentage",
			},
		),
	}
	rm.stageIndex.Set(-1)

	registry.MustRegister(rm.advancesTotal, rm.stageIndex, rm.percent)
	return rm
}
