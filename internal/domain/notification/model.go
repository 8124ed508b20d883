package notification

import (
	"encoding/json"
	"time"
)

// Channel is a configured destination notifications are sent to
type Channel struct {
	ID        int64           `json:"id"`
	UserID    *int64          `json:"user_id,omitempty"` // nil means the channel is global
	Name      string          `json:"name" validate:"required,min=1,max=255"`
	Type      ChannelType     `json:"type"`
	Config    json.RawMessage `json:"config,omitempty"` // opaque per-type configuration
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// ChannelType tags the closed set of supported channel variants
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
)

// IsValid checks if the channel type is known
func (t ChannelType) IsValid() bool {
	switch t {
	case ChannelEmail, ChannelWebhook, ChannelSlack:
		return true
	default:
		return false
	}
}

// EmailConfig is the stored configuration for an email channel
type EmailConfig struct {
	To []string `json:"to" validate:"required,min=1,dive,email"`
}

// WebhookConfig is the stored configuration for a webhook channel
type WebhookConfig struct {
	URL    string `json:"url" validate:"required,url"`
	Secret string `json:"secret,omitempty"`
}

// SlackConfig is the stored configuration for a Slack channel
type SlackConfig struct {
	WebhookURL string `json:"webhook_url" validate:"required,url"`
	Channel    string `json:"channel,omitempty"`
}

// Association links a rule to a channel, many-to-many
type Association struct {
	RuleID    int64     `json:"rule_id"`
	ChannelID int64     `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery is one attempt record of sending a notification for an instance
// through a channel
type Delivery struct {
	ID           string          `json:"id"`
	InstanceID   string          `json:"instance_id"`
	ChannelID    int64           `json:"channel_id"`
	Status       DeliveryStatus  `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	LastError    string          `json:"last_error,omitempty"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"` // set only when retry is scheduled
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at,omitempty"`
}

// DeliveryStatus is the lifecycle state of a delivery
type DeliveryStatus string

const (
	DeliveryPending        DeliveryStatus = "pending"
	DeliverySucceeded      DeliveryStatus = "succeeded"
	DeliveryFailed         DeliveryStatus = "failed"
	DeliveryRetryScheduled DeliveryStatus = "retry_scheduled"
	// DeliverySending marks a delivery claimed by a retry sweep so an
	// overlapping sweep cannot double-send it
	DeliverySending DeliveryStatus = "sending"
)

// ChannelFilter contains channel filtering options
type ChannelFilter struct {
	Type    ChannelType
	Enabled *bool
}

// DeliveryFilter contains delivery filtering options
type DeliveryFilter struct {
	InstanceID string
	ChannelID  int64
	OwnerID    *int64 // filters by the owning user of the delivery's channel
	Status     DeliveryStatus
	From       *time.Time
	To         *time.Time
}

// RetryPolicy controls delivery retry scheduling
type RetryPolicy struct {
	MaxAttempts  int
	BaseInterval time.Duration
	MaxInterval  time.Duration
}

// DefaultRetryPolicy returns the conservative default retry policy:
// 3 attempts, exponential base 30s, capped at 15 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseInterval: 30 * time.Second,
		MaxInterval:  15 * time.Minute,
	}
}

// Backoff returns the delay before the next attempt after attempt failures
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseInterval
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// IsOwnedBy reports whether the channel is scoped to the given user
func (c *Channel) IsOwnedBy(userID int64) bool {
	return c.UserID != nil && *c.UserID == userID
}

// IsGlobal reports whether the channel has no owning user
func (c *Channel) IsGlobal() bool {
	return c.UserID == nil
}
