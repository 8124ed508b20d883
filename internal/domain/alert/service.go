package alert

import "context"

// Service defines the interface for alert lifecycle business logic
type Service interface {
	// EvaluateAll evaluates every enabled rule against its current metric
	// value, commits trigger/clear transitions, and hands new or refreshed
	// instances to the notification dispatcher. One rule's failure never
	// aborts the remaining rules.
	EvaluateAll(ctx context.Context) ([]EvaluationRecord, error)

	// Acknowledge transitions a triggered instance to acknowledged
	Acknowledge(ctx context.Context, userID int64, id string) (*Instance, error)

	// Resolve transitions a triggered or acknowledged instance to resolved
	Resolve(ctx context.Context, userID int64, id string) (*Instance, error)

	// BulkOperate applies an operation to a set of instances, isolating
	// per-instance failures
	BulkOperate(ctx context.Context, userID int64, ids []string, op BulkOperation) []BulkResult

	// GetByID retrieves an instance visible to userID
	GetByID(ctx context.Context, userID int64, id string) (*Instance, error)

	// List retrieves instances with filters and pagination
	List(ctx context.Context, userID int64, filter Filter, limit, offset int) ([]*Instance, int64, error)

	// GetDashboard composes the aggregate alert view for a user
	GetDashboard(ctx context.Context, userID int64) (*Dashboard, error)

	// GetHistory retrieves resolved instances within a time range
	GetHistory(ctx context.Context, userID int64, filter Filter, limit, offset int) ([]*Instance, int64, error)

	// EscalateStale bumps the escalation level of instances left triggered
	// beyond their severity's escalation window and re-dispatches them
	EscalateStale(ctx context.Context) (int, error)
}
