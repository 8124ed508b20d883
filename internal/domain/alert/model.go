package alert

import (
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/rule"
)

// Instance is one concrete, time-bounded occurrence of a rule's condition
// being met. At most one non-resolved instance exists per rule at any time.
type Instance struct {
	ID              string        `json:"id"`
	RuleID          int64         `json:"rule_id"`
	State           State         `json:"state"`
	Severity        rule.Severity `json:"severity"` // copied from the rule at trigger time
	TriggeredAt     time.Time     `json:"triggered_at"`
	MetricValue     float64       `json:"metric_value"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string        `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy      string        `json:"resolved_by,omitempty"`
	EscalationLevel int           `json:"escalation_level"`
	// Version increases on every committed mutation and backs conditional updates
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// State is the lifecycle state of an alert instance
type State string

const (
	StateTriggered    State = "triggered"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
)

// ResolvedBySystem marks automatic resolutions performed by the evaluator
const ResolvedBySystem = "system"

// IsValid checks if the state is known
func (s State) IsValid() bool {
	switch s {
	case StateTriggered, StateAcknowledged, StateResolved:
		return true
	default:
		return false
	}
}

// IsActive reports whether the instance has not yet been resolved
func (i *Instance) IsActive() bool {
	return i.State != StateResolved
}

// Filter contains instance filtering options
type Filter struct {
	RuleID   int64
	OwnerID  *int64 // filters by the owning user of the instance's rule
	State    State
	Severity rule.Severity
	From     *time.Time
	To       *time.Time
}

// Dashboard is an aggregate view over alert instances
type Dashboard struct {
	CountsByState    map[State]int         `json:"counts_by_state"`
	ActiveBySeverity map[rule.Severity]int `json:"active_by_severity"`
	Recent           []*Instance           `json:"recent"`
}

// BulkOperation names a bulk action over instances
type BulkOperation string

const (
	BulkAcknowledge BulkOperation = "acknowledge"
	BulkResolve     BulkOperation = "resolve"
	BulkDelete      BulkOperation = "delete"
)

// IsValid checks if the bulk operation is known
func (op BulkOperation) IsValid() bool {
	switch op {
	case BulkAcknowledge, BulkResolve, BulkDelete:
		return true
	default:
		return false
	}
}

// BulkResult reports the per-instance outcome of a bulk operation
type BulkResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// EvaluationRecord is the per-rule outcome of an evaluation sweep
type EvaluationRecord struct {
	RuleID         int64   `json:"rule_id"`
	MetricValue    float64 `json:"metric_value"`
	ThresholdValue float64 `json:"threshold_value"`
	Triggered      bool    `json:"alert_triggered"`
	InstanceID     string  `json:"instance_id,omitempty"`
	Error          string  `json:"error,omitempty"`
}
