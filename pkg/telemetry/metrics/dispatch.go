package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sentinel/pkg/config"
)

// DispatchMetrics tracks governance side effects.
//
// Metrics:
//   - sentinel_governance_actions_total: actions dispatched by kind
//   - sentinel_governance_notifications_total: channel sends by channel and status
//   - sentinel_governance_overrides_written_total: runtime override writes
//   - sentinel_governance_dispatch_failures_total: non-fatal capability failures by kind
//   - sentinel_governance_alerts_total: alert records by type and severity
type DispatchMetrics struct {
	actionsTotal       *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	overridesTotal     prometheus.Counter
	failuresTotal      *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec
}

// NewDispatchMetrics creates and registers dispatch metrics.
func NewDispatchMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DispatchMetrics {
	dm := &DispatchMetrics{
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "actions_total",
				Help:      "Total number of governance actions dispatched",
			},
			[]string{"kind"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "notifications_total",
				Help:      "Total number of alert notifications by outcome",
			},
			[]string{"channel", "status"},
		),
		overridesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "overrides_written_total",
				Help:      "Total number of runtime override writes",
			},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dispatch_failures_total",
				Help:      "Total number of non-fatal dispatch failures",
			},
			[]string{"kind"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "alerts_total",
				Help:      "Total number of alert records written",
			},
			[]string{"type", "severity"},
		),
	}

	registry.MustRegister(dm.actionsTotal, dm.notificationsTotal, dm.overridesTotal, dm.failuresTotal, dm.alertsTotal)
	return dm
}
