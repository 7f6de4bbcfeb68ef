// Package snapshot models the periodic quality metrics the governance
// engine evaluates, and the pure rollup that produces them from raw events.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"
)

// Well-known metric keys produced by Rollup and read by the rollout gate.
const (
	MetricPassRate           = "passRate"
	MetricRegressionCount    = "regressionCount"
	MetricAvgLatency         = "avgLatency"
	MetricP95Latency         = "p95Latency"
	MetricErrorRate          = "errorRate"
	MetricCopilotReliability = "copilotReliability"
	MetricEventCount         = "eventCount"
)

// Snapshot is an immutable set of metric values for one date.
type Snapshot struct {
	// Date is the governance date, usually YYYY-MM-DD.
	Date string `json:"date"`

	// TeamID optionally scopes the snapshot to one team.
	TeamID string `json:"teamId,omitempty"`

	// Metrics maps metric names to observed values.
	Metrics map[string]float64 `json:"metrics"`

	// ReceivedAt is when the snapshot entered the engine.
	ReceivedAt time.Time `json:"receivedAt"`
}

// Value returns the metric and whether it is present.
func (s *Snapshot) Value(metric string) (float64, bool) {
	if s == nil || s.Metrics == nil {
		return 0, false
	}
	v, ok := s.Metrics[metric]
	return v, ok
}

// ValueOr returns the metric or fallback when absent.
func (s *Snapshot) ValueOr(metric string, fallback float64) float64 {
	if v, ok := s.Value(metric); ok {
		return v
	}
	return fallback
}

// UnmarshalJSON accepts both the nested form {"date", "metrics": {...}} and
// the flat producer form {"date": "...", "passRate": 0.93, ...} where every
// numeric top-level field is a metric.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Snapshot{Metrics: make(map[string]float64)}
	for key, value := range raw {
		switch key {
		case "date":
			if err := json.Unmarshal(value, &out.Date); err != nil {
				return fmt.Errorf("snapshot date: %w", err)
			}
		case "teamId":
			if err := json.Unmarshal(value, &out.TeamID); err != nil {
				return fmt.Errorf("snapshot teamId: %w", err)
			}
		case "receivedAt":
			if err := json.Unmarshal(value, &out.ReceivedAt); err != nil {
				return fmt.Errorf("snapshot receivedAt: %w", err)
			}
		case "metrics":
			var nested map[string]float64
			if err := json.Unmarshal(value, &nested); err != nil {
				return fmt.Errorf("snapshot metrics: %w", err)
			}
			for k, v := range nested {
				out.Metrics[k] = v
			}
		default:
			var f float64
			if err := json.Unmarshal(value, &f); err == nil {
				out.Metrics[key] = f
			}
		}
	}

	*s = out
	return nil
}
