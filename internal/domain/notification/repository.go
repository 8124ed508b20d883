package notification

import (
	"context"
	"time"
)

// Repository defines the interface for channel, association, and delivery
// data access
type Repository interface {
	// CreateChannel creates a new channel
	CreateChannel(ctx context.Context, c *Channel) (int64, error)

	// GetChannel retrieves a channel by ID
	GetChannel(ctx context.Context, id int64) (*Channel, error)

	// UpdateChannel updates a channel
	UpdateChannel(ctx context.Context, c *Channel) error

	// DeleteChannel deletes a channel and its associations
	DeleteChannel(ctx context.Context, id int64) error

	// ListChannels retrieves channels visible to userID with filters and pagination
	ListChannels(ctx context.Context, userID int64, filter ChannelFilter, limit, offset int) ([]*Channel, int64, error)

	// ListChannelsForRule retrieves the enabled channels associated with a rule
	ListChannelsForRule(ctx context.Context, ruleID int64) ([]*Channel, error)

	// Associate links a rule to a channel; linking an existing pair is a no-op
	Associate(ctx context.Context, ruleID, channelID int64) error

	// Dissociate unlinks a rule from a channel; unlinking an absent pair is a no-op
	Dissociate(ctx context.Context, ruleID, channelID int64) error

	// ListAssociations retrieves the associations for a rule
	ListAssociations(ctx context.Context, ruleID int64) ([]*Association, error)

	// CreateDelivery persists a new delivery record
	CreateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery retrieves a delivery by ID
	GetDelivery(ctx context.Context, id string) (*Delivery, error)

	// UpdateDelivery updates a delivery record
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// ClaimDelivery conditionally transitions a delivery from one status to
	// another, reporting whether this caller won the claim
	ClaimDelivery(ctx context.Context, id string, from, to DeliveryStatus) (bool, error)

	// ListDueDeliveries retrieves retry-scheduled deliveries whose retry time
	// has passed
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)

	// ListDeliveries retrieves deliveries with filters and pagination
	ListDeliveries(ctx context.Context, filter DeliveryFilter, limit, offset int) ([]*Delivery, int64, error)
}
