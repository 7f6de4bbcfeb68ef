package policy

import (
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Operator is a numeric comparison used by rules and thresholds.
type Operator string

const (
	// OpLessThan triggers when observed < target.
	OpLessThan Operator = "<"
	// OpGreaterThan triggers when observed > target.
	OpGreaterThan Operator = ">"
	// OpLessEqual triggers when observed <= target.
	OpLessEqual Operator = "<="
	// OpGreaterEqual triggers when observed >= target.
	OpGreaterEqual Operator = ">="
	// OpEqual triggers on exact float equality. Computed averages rarely
	// hit a literal exactly; no epsilon is applied.
	OpEqual Operator = "=="
)

// Valid reports whether o is one of the supported comparison operators.
func (o Operator) Valid() bool {
	switch o {
	case OpLessThan, OpGreaterThan, OpLessEqual, OpGreaterEqual, OpEqual:
		return true
	}
	return false
}

// ActionKind names one of the five graduated governance responses.
type ActionKind string

const (
	// ActionAlert notifies the configured channels.
	ActionAlert ActionKind = "alert"
	// ActionBlockRiskyOps disables the operations listed in disableIntent.
	ActionBlockRiskyOps ActionKind = "block_risky_ops"
	// ActionTuneSystem invokes the external tuning entry point.
	ActionTuneSystem ActionKind = "tune_system"
	// ActionBlockAll disables every guarded operation.
	ActionBlockAll ActionKind = "block_all"
	// ActionEscalate records escalation intent.
	ActionEscalate ActionKind = "escalate"
)

// ActionKinds lists every action kind in dispatch order. block_all is
// ordered after block_risky_ops so the wildcard override lands last.
var ActionKinds = []ActionKind{
	ActionAlert,
	ActionBlockRiskyOps,
	ActionTuneSystem,
	ActionBlockAll,
	ActionEscalate,
}

// Valid reports whether k is a declared action kind.
func (k ActionKind) Valid() bool {
	return slices.Contains(ActionKinds, k)
}

// Severity returns the risk an exercised action contributes to an alert.
func (k ActionKind) Severity() Severity {
	switch k {
	case ActionBlockAll:
		return SeverityCritical
	case ActionBlockRiskyOps:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Severity is the ordered risk level used by alerts and audit entries.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Rule is a single metric condition mapped to an action kind.
type Rule struct {
	// ID optionally names the rule for metrics and explanations.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	// Metric is the snapshot key the rule reads.
	Metric string `yaml:"metric" json:"metric"`

	// Operator compares the observed value against Value.
	Operator Operator `yaml:"operator" json:"operator"`

	// Value is the comparison target.
	Value float64 `yaml:"value" json:"value"`

	// Action is the response taken when the rule triggers.
	Action ActionKind `yaml:"action" json:"action"`
}

// String renders the rule as "metric op value", the form used in
// override reasons and audit matched-rule lists.
func (r Rule) String() string {
	return fmt.Sprintf("%s %s %s", r.Metric, r.Operator, FormatNumber(r.Value))
}

// Name returns the rule ID, or its rendered condition when no ID is set.
func (r Rule) Name() string {
	if r.ID != "" {
		return r.ID
	}
	return r.String()
}

// FormatNumber renders a float without trailing zeros ("0.9", "3").
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// AlertConfig configures the alert action.
type AlertConfig struct {
	NotifySlack bool `yaml:"notifySlack" json:"notifySlack"`
	NotifyEmail bool `yaml:"notifyEmail" json:"notifyEmail"`
}

// BlockRiskyOpsConfig configures the block_risky_ops action.
type BlockRiskyOpsConfig struct {
	// DisableIntent replaces the runtime disabled set when the action fires.
	DisableIntent []string `yaml:"disableIntent" json:"disableIntent"`
}

// TuneSystemConfig configures the tune_system action.
type TuneSystemConfig struct {
	// Invoke names the tuning entry point. Default: "tuningLoop"
	Invoke string `yaml:"invoke" json:"invoke"`
}

// BlockAllConfig configures the block_all action.
type BlockAllConfig struct {
	// Reason overrides the default emergency reason text.
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// EscalateConfig configures the escalate action.
type EscalateConfig struct {
	// Contacts lists who the escalation is addressed to.
	Contacts []string `yaml:"contacts,omitempty" json:"contacts,omitempty"`
}

// Actions holds typed configuration for each action kind.
type Actions struct {
	Alert         *AlertConfig         `yaml:"alert,omitempty" json:"alert,omitempty"`
	BlockRiskyOps *BlockRiskyOpsConfig `yaml:"block_risky_ops,omitempty" json:"block_risky_ops,omitempty"`
	TuneSystem    *TuneSystemConfig    `yaml:"tune_system,omitempty" json:"tune_system,omitempty"`
	BlockAll      *BlockAllConfig      `yaml:"block_all,omitempty" json:"block_all,omitempty"`
	Escalate      *EscalateConfig      `yaml:"escalate,omitempty" json:"escalate,omitempty"`
}

// DefaultTuningEntryPoint is invoked when tune_system has no explicit target.
const DefaultTuningEntryPoint = "tuningLoop"

// TuningEntryPoint returns the configured tuning target or the default.
func (a Actions) TuningEntryPoint() string {
	if a.TuneSystem != nil && a.TuneSystem.Invoke != "" {
		return a.TuneSystem.Invoke
	}
	return DefaultTuningEntryPoint
}

// Scope limits which services and teams a policy governs.
// Empty lists are unrestricted.
type Scope struct {
	Teams    []string `yaml:"teams,omitempty" json:"teams,omitempty"`
	Services []string `yaml:"services,omitempty" json:"services,omitempty"`
}

// Threshold is a named quality gate consulted by rollout and threshold checks.
type Threshold struct {
	Op    Operator `yaml:"op,omitempty" json:"op,omitempty"`
	Value *float64 `yaml:"value,omitempty" json:"value,omitempty"`
}

// Stage is one step of a staged rollout.
type Stage struct {
	Percent  int     `yaml:"percent" json:"percent"`
	MinHours float64 `yaml:"minHours" json:"minHours"`
}

// Rollout lists the ordered rollout stages.
type Rollout struct {
	Stages []Stage `yaml:"stages,omitempty" json:"stages,omitempty"`
}

// Document is a compiled governance policy.
type Document struct {
	ID         string               `yaml:"id" json:"id"`
	Version    string               `yaml:"version,omitempty" json:"version,omitempty"`
	Owners     []string             `yaml:"owners,omitempty" json:"owners,omitempty"`
	Scope      Scope                `yaml:"scope,omitempty" json:"scope"`
	Rules      []Rule               `yaml:"rules,omitempty" json:"rules"`
	Actions    Actions              `yaml:"actions,omitempty" json:"actions"`
	Thresholds map[string]Threshold `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	Rollout    Rollout              `yaml:"rollout,omitempty" json:"rollout"`

	// Compile metadata, set by Compile and never read from source.
	CompiledAt time.Time `yaml:"-" json:"compiledAt"`
	CompiledBy string    `yaml:"-" json:"compiledBy"`
	Source     string    `yaml:"-" json:"yamlSource,omitempty"`
}

// ServiceInScope reports whether the policy governs service.
func (d *Document) ServiceInScope(service string) bool {
	if len(d.Scope.Services) == 0 {
		return true
	}
	return slices.Contains(d.Scope.Services, service)
}

// TeamAllowed reports whether teamID may call guarded operations.
// An empty team list, the "*" wildcard, or an empty teamID all allow.
func (d *Document) TeamAllowed(teamID string) bool {
	if len(d.Scope.Teams) == 0 || teamID == "" {
		return true
	}
	return slices.Contains(d.Scope.Teams, "*") || slices.Contains(d.Scope.Teams, teamID)
}

// HasBlockingRules reports whether any rule maps to a blocking action.
func (d *Document) HasBlockingRules() bool {
	for _, r := range d.Rules {
		if r.Action == ActionBlockRiskyOps || r.Action == ActionBlockAll {
			return true
		}
	}
	return false
}

// Stage returns stage idx; out-of-range indexes yield a 100% stage.
func (d *Document) Stage(idx int) Stage {
	if idx < 0 || idx >= len(d.Rollout.Stages) {
		return Stage{Percent: 100}
	}
	return d.Rollout.Stages[idx]
}
