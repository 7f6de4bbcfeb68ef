package snapshot

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Event is a raw quality observation emitted by the platform.
type Event struct {
	Timestamp time.Time `json:"ts"`
	TeamID    string    `json:"teamId,omitempty"`
	Type      string    `json:"type"`

	// Passed is set for evaluation events; nil events do not count toward passRate.
	Passed *bool `json:"passed,omitempty"`

	// Reliable is set for assistant answers; nil events do not count toward copilotReliability.
	Reliable *bool `json:"reliable,omitempty"`

	Regression bool    `json:"regression,omitempty"`
	LatencyMs  float64 `json:"latencyMs,omitempty"`
	Status     int     `json:"status,omitempty"`
}

// Rollup aggregates events into a snapshot for date. It is pure: the same
// events always yield the same metrics. Ratios with no denominator are
// omitted so rules on them never trigger.
func Rollup(date string, events []Event) Snapshot {
	snap := Snapshot{
		Date:    date,
		Metrics: map[string]float64{MetricEventCount: float64(len(events))},
	}

	var (
		passed, graded     int
		reliable, answered int
		regressions        int
		failures           int
		latencies          []float64
	)

	for _, e := range events {
		if e.Passed != nil {
			graded++
			if *e.Passed {
				passed++
			}
		}
		if e.Reliable != nil {
			answered++
			if *e.Reliable {
				reliable++
			}
		}
		if e.Regression {
			regressions++
		}
		if e.Status >= 400 {
			failures++
		}
		if e.LatencyMs > 0 {
			latencies = append(latencies, e.LatencyMs)
		}
	}

	snap.Metrics[MetricRegressionCount] = float64(regressions)
	if graded > 0 {
		snap.Metrics[MetricPassRate] = float64(passed) / float64(graded)
	}
	if answered > 0 {
		snap.Metrics[MetricCopilotReliability] = float64(reliable) / float64(answered)
	}
	if len(events) > 0 {
		snap.Metrics[MetricErrorRate] = float64(failures) / float64(len(events))
	}
	if len(latencies) > 0 {
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		snap.Metrics[MetricAvgLatency] = sum / float64(len(latencies))
		snap.Metrics[MetricP95Latency] = percentile95(latencies)
	}

	return snap
}

// percentile95 uses the nearest-rank index floor(n*0.95), clamped to the
// last element.
func percentile95(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	i := int(math.Floor(float64(len(sorted)) * 0.95))
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// Buffer collects events between scheduled rollups.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// NewBuffer creates an empty event buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends events to the buffer.
func (b *Buffer) Add(events ...Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
}

// Drain returns and clears the buffered events.
func (b *Buffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
