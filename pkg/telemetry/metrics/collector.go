package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sentinel/pkg/config"
)

// Collector owns the registry and every governance metric group.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	evaluation  *EvaluationMetrics
	dispatch    *DispatchMetrics
	enforcement *EnforcementMetrics
	rollout     *RolloutMetrics
	audit       *AuditMetrics

	ruleLimiter *CardinalityLimiter
}

// NewCollector creates a collector registering on registry, or on a fresh
// registry when nil.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "sentinel"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "governance"
	}

	return &Collector{
		config:      cfg,
		registry:    registry,
		evaluation:  NewEvaluationMetrics(cfg, registry),
		dispatch:    NewDispatchMetrics(cfg, registry),
		enforcement: NewEnforcementMetrics(cfg, registry),
		rollout:     NewRolloutMetrics(cfg, registry),
		audit:       NewAuditMetrics(cfg, registry),
		ruleLimiter: NewCardinalityLimiter(500),
	}
}

// RecordEvaluation records one evaluated snapshot.
func (c *Collector) RecordEvaluation(policyID string, triggered int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.evaluation.RecordEvaluation(policyID, triggered, duration)
}

// RecordTriggered records a triggered rule. Rules beyond the cardinality
// limit are aggregated as "other".
func (c *Collector) RecordTriggered(rule, action string) {
	if !c.config.Enabled {
		return
	}
	if !c.ruleLimiter.Allow(rule) {
		rule = "other"
	}
	c.evaluation.RecordTriggered(rule, action)
}

// RecordAction records one dispatched action of kind.
func (c *Collector) RecordAction(kind string) {
	if !c.config.Enabled {
		return
	}
	c.dispatch.actionsTotal.WithLabelValues(kind).Inc()
}

// RecordNotification records one channel send; status is "sent" or
// "failed".
func (c *Collector) RecordNotification(channel, status string) {
	if !c.config.Enabled {
		return
	}
	c.dispatch.notificationsTotal.WithLabelValues(channel, status).Inc()
}

// RecordOverrides adds n runtime override writes.
func (c *Collector) RecordOverrides(n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.dispatch.overridesTotal.Add(float64(n))
}

// RecordDispatchFailure records a non-fatal capability failure.
func (c *Collector) RecordDispatchFailure(kind string) {
	if !c.config.Enabled {
		return
	}
	c.dispatch.failuresTotal.WithLabelValues(kind).Inc()
}

// RecordAlert records an alert record write.
func (c *Collector) RecordAlert(alertType, severity string) {
	if !c.config.Enabled {
		return
	}
	c.dispatch.alertsTotal.WithLabelValues(alertType, severity).Inc()
}

// RecordEnforcement records one enforcement decision.
func (c *Collector) RecordEnforcement(code string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.enforcement.RecordDecision(code, duration)
}

// RecordRolloutAdvance records an advance attempt. outcome is "advanced"
// or a rejection code.
func (c *Collector) RecordRolloutAdvance(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.rollout.advancesTotal.WithLabelValues(outcome).Inc()
}

// SetRolloutStage updates the current stage gauges.
func (c *Collector) SetRolloutStage(index, percent int) {
	if !c.config.Enabled {
		return
	}
	c.rollout.stageIndex.Set(float64(index))
	c.rollout.percent.Set(float64(percent))
}

// RecordAuditWrite records one ledger write; status is "ok" or "error".
func (c *Collector) RecordAuditWrite(action, status string) {
	if !c.config.Enabled {
		return
	}
	c.audit.writesTotal.WithLabelValues(action, status).Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct values seen for a label.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting up to maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or fits under the limit.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
