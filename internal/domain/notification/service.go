package notification

import (
	"context"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
)

// RetrySummary reports the outcome of one retry sweep
type RetrySummary struct {
	Due         int `json:"due"`
	Claimed     int `json:"claimed"`
	Succeeded   int `json:"succeeded"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
}

// Service defines the interface for channel management and notification
// dispatch
type Service interface {
	// CreateChannel creates a new channel owned by userID
	CreateChannel(ctx context.Context, userID int64, c *Channel) (int64, error)

	// GetChannel retrieves a channel visible to userID
	GetChannel(ctx context.Context, userID int64, id int64) (*Channel, error)

	// UpdateChannel applies field updates to a channel
	UpdateChannel(ctx context.Context, userID int64, id int64, updates map[string]interface{}) (*Channel, error)

	// DeleteChannel deletes a channel and its rule associations
	DeleteChannel(ctx context.Context, userID int64, id int64) error

	// ListChannels retrieves channels with filters and pagination
	ListChannels(ctx context.Context, userID int64, filter ChannelFilter, limit, offset int) ([]*Channel, int64, error)

	// TestChannel sends a synthetic payload through a stored channel without
	// recording a delivery
	TestChannel(ctx context.Context, userID int64, id int64) error

	// Associate links a channel to a rule; repeating an existing link succeeds
	Associate(ctx context.Context, userID int64, ruleID, channelID int64) error

	// Dissociate unlinks a channel from a rule; repeating succeeds
	Dissociate(ctx context.Context, userID int64, ruleID, channelID int64) error

	// Dispatch fans a new or escalated instance out to the rule's enabled
	// channels, recording one delivery per channel. One channel's failure
	// never affects the others.
	Dispatch(ctx context.Context, inst *alert.Instance, r *rule.AlertRule) error

	// RetryFailedDeliveries sweeps due retry-scheduled deliveries, claiming
	// each before sending so overlapping sweeps cannot double-send
	RetryFailedDeliveries(ctx context.Context) (*RetrySummary, error)

	// ListDeliveries retrieves delivery records with filters and pagination
	ListDeliveries(ctx context.Context, userID int64, filter DeliveryFilter, limit, offset int) ([]*Delivery, int64, error)
}
