package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sentinel/pkg/config"
)

// AuditMetrics tracks audit ledger writes.
//
// Metrics:
//   - sentinel_governance_audit_writes_total: entries written by action and status
type AuditMetrics struct {
	writesTotal *prometheus.CounterVec
}

// NewAuditMetrics creates and registers audit metrics.
func NewAuditMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_writes_total",
				Help:      "Total number of audit entries written",
			},
			[]string{"action", "status"},
		),
	}
	registry.MustRegister(am.writesTotal)
	return am
}
