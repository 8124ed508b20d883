package rule

import "context"

// Repository defines the interface for rule data access
type Repository interface {
	// Create creates a new rule
	Create(ctx context.Context, r *AlertRule) (int64, error)

	// GetByID retrieves a rule by ID
	GetByID(ctx context.Context, id int64) (*AlertRule, error)

	// Update updates a rule
	Update(ctx context.Context, r *AlertRule) error

	// Delete deletes a rule
	Delete(ctx context.Context, id int64) error

	// List retrieves rules visible to userID (owned plus global) with filters and pagination
	List(ctx context.Context, userID int64, filter Filter, limit, offset int) ([]*AlertRule, int64, error)

	// ListEnabled retrieves every enabled rule regardless of owner
	ListEnabled(ctx context.Context) ([]*AlertRule, error)
}
