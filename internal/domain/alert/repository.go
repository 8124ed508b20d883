package alert

import (
	"context"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/rule"
)

// Repository defines the interface for alert instance data access.
// State-changing operations are conditional: they fail with a concurrency
// error when the stored version no longer matches the expected one.
type Repository interface {
	// Create persists a new instance. It fails with a conflict error when an
	// active instance already exists for the same rule.
	Create(ctx context.Context, i *Instance) error

	// GetByID retrieves an instance by ID
	GetByID(ctx context.Context, id string) (*Instance, error)

	// GetActiveByRule retrieves the non-resolved instance for a rule, or nil
	// when none exists
	GetActiveByRule(ctx context.Context, ruleID int64) (*Instance, error)

	// UpdateConditional commits the instance only when the stored version
	// still equals expectedVersion, bumping Version by one on success
	UpdateConditional(ctx context.Context, i *Instance, expectedVersion int64) error

	// Delete removes an instance
	Delete(ctx context.Context, id string) error

	// List retrieves instances with filters and pagination, newest first
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Instance, int64, error)

	// CountActiveByRule counts non-resolved instances referencing a rule
	CountActiveByRule(ctx context.Context, ruleID int64) (int, error)

	// CountByState counts instances by state, optionally scoped to an owner
	CountByState(ctx context.Context, ownerID *int64) (map[State]int, error)

	// CountActiveBySeverity counts non-resolved instances by severity,
	// optionally scoped to an owner
	CountActiveBySeverity(ctx context.Context, ownerID *int64) (map[rule.Severity]int, error)

	// ListTriggeredBefore retrieves instances still in the triggered state
	// whose trigger time is older than the cutoff
	ListTriggeredBefore(ctx context.Context, cutoff time.Time) ([]*Instance, error)
}
