package rule

import "context"

// TestParams contains parameters for a dry-run evaluation of a rule
type TestParams struct {
	// MetricValue overrides the live metric value when set
	MetricValue *float64 `json:"metric_value,omitempty"`
}

// TestResult is the outcome of a dry-run evaluation
type TestResult struct {
	RuleID         int64    `json:"rule_id"`
	MetricValue    float64  `json:"metric_value"`
	ThresholdValue float64  `json:"threshold_value"`
	Decision       Decision `json:"decision"`
	WouldTrigger   bool     `json:"would_trigger"`
}

// Service defines the interface for rule business logic
type Service interface {
	// Create creates a new rule owned by userID
	Create(ctx context.Context, userID int64, r *AlertRule) (int64, error)

	// GetByID retrieves a rule visible to userID
	GetByID(ctx context.Context, userID int64, id int64) (*AlertRule, error)

	// Update applies field updates to a rule
	Update(ctx context.Context, userID int64, id int64, updates map[string]interface{}) (*AlertRule, error)

	// Delete deletes a rule. Without cascade the delete is rejected while
	// active instances reference the rule.
	Delete(ctx context.Context, userID int64, id int64, cascade bool) error

	// List retrieves rules with filters and pagination
	List(ctx context.Context, userID int64, filter Filter, limit, offset int) ([]*AlertRule, int64, error)

	// Test runs a dry-run evaluation without persisting an instance or
	// sending notifications
	Test(ctx context.Context, userID int64, id int64, params TestParams) (*TestResult, error)
}
