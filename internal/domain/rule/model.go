package rule

import "time"

// AlertRule is a persisted threshold definition over a metric
type AlertRule struct {
	ID                int64     `json:"id"`
	UserID            *int64    `json:"user_id,omitempty"` // nil means the rule is global
	Name              string    `json:"name" validate:"required,min=1,max=255"`
	AlertType         string    `json:"alert_type" validate:"required"`
	MetricType        string    `json:"metric_type" validate:"required"`
	ThresholdValue    float64   `json:"threshold_value"`
	ThresholdOperator Operator  `json:"threshold_operator"`
	Severity          Severity  `json:"severity"`
	Enabled           bool      `json:"enabled"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// Operator is a threshold comparison operator
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLessThan       Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
)

// IsValid checks if the operator is one of the enumerated set
func (o Operator) IsValid() bool {
	switch o {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// Compare applies the operator to (value, threshold). Equality operators are
// exact; no epsilon tolerance is applied to floating-point metrics.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreaterThan:
		return value > threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	default:
		return false
	}
}

// Severity is an ordered alert severity level
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is known
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank returns the ordering of the severity, higher is more severe
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Filter contains rule filtering options
type Filter struct {
	AlertType string
	Severity  Severity
	Enabled   *bool
}

// IsOwnedBy reports whether the rule is scoped to the given user.
// Global rules are readable by anyone.
func (r *AlertRule) IsOwnedBy(userID int64) bool {
	return r.UserID != nil && *r.UserID == userID
}

// IsGlobal reports whether the rule has no owning user
func (r *AlertRule) IsGlobal() bool {
	return r.UserID == nil
}
