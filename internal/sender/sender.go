package sender

import (
	"context"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
)

// Payload is the notification content handed to a channel sender
type Payload struct {
	InstanceID        string    `json:"instance_id"`
	RuleName          string    `json:"rule_name"`
	AlertType         string    `json:"alert_type"`
	Severity          string    `json:"severity"`
	State             string    `json:"state"`
	MetricType        string    `json:"metric_type"`
	MetricValue       float64   `json:"metric_value"`
	ThresholdOperator string    `json:"threshold_operator"`
	ThresholdValue    float64   `json:"threshold_value"`
	EscalationLevel   int       `json:"escalation_level,omitempty"`
	TriggeredAt       time.Time `json:"triggered_at"`
	Message           string    `json:"message"`
}

// Sender attempts delivery of a payload through a configured channel
type Sender interface {
	Send(ctx context.Context, ch *notification.Channel, p Payload) error
}

// Registry selects the sender implementation by the channel's stored type
// tag. The set of variants is closed; there is no runtime plugin loading.
type Registry struct {
	senders map[notification.ChannelType]Sender
}

// NewRegistry creates a registry over the given implementations
func NewRegistry(senders map[notification.ChannelType]Sender) *Registry {
	return &Registry{senders: senders}
}

// Send implements Sender by dispatching on channel type
func (r *Registry) Send(ctx context.Context, ch *notification.Channel, p Payload) error {
	s, ok := r.senders[ch.Type]
	if !ok {
		return errors.Validation("unsupported channel type", string(ch.Type))
	}
	return s.Send(ctx, ch, p)
}
