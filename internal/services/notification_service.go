package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
	"github.com/pratik-mahalle/vigil/internal/pkg/metrics"
	"github.com/pratik-mahalle/vigil/internal/pkg/utils"
	"github.com/pratik-mahalle/vigil/internal/pkg/validator"
	"github.com/pratik-mahalle/vigil/internal/sender"
)

const retrySweepBatchSize = 100

// NotificationService implements notification.Service
type NotificationService struct {
	repo        notification.Repository
	rules       rule.Repository
	sender      sender.Sender
	policy      notification.RetryPolicy
	sendTimeout time.Duration
	validate    *validator.Validator
	logger      *logger.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	repo notification.Repository,
	rules rule.Repository,
	snd sender.Sender,
	policy notification.RetryPolicy,
	sendTimeout time.Duration,
	validate *validator.Validator,
	log *logger.Logger,
) notification.Service {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &NotificationService{
		repo:        repo,
		rules:       rules,
		sender:      snd,
		policy:      policy,
		sendTimeout: sendTimeout,
		validate:    validate,
		logger:      log,
	}
}

// CreateChannel creates a new channel owned by userID
func (s *NotificationService) CreateChannel(ctx context.Context, userID int64, c *notification.Channel) (int64, error) {
	if errs := s.validate.Validate(c); len(errs) > 0 {
		return 0, errors.Validation("invalid channel", errs)
	}
	if !c.Type.IsValid() {
		return 0, errors.Validation("invalid channel type", string(c.Type))
	}
	if err := validateChannelConfig(c.Type, c.Config); err != nil {
		return 0, err
	}

	if c.UserID == nil {
		c.UserID = &userID
	}
	c.CreatedAt = time.Now()

	id, err := s.repo.CreateChannel(ctx, c)
	if err != nil {
		return 0, err
	}

	s.logger.WithFields(map[string]interface{}{
		"channel_id": id,
		"type":       c.Type,
		"user_id":    userID,
	}).Info("Notification channel created")

	return id, nil
}

// validateChannelConfig checks that the opaque config decodes into the
// variant the type tag names
func validateChannelConfig(t notification.ChannelType, raw json.RawMessage) error {
	if len(raw) == 0 {
		return errors.Validation("channel config is required", nil)
	}
	var target interface{}
	switch t {
	case notification.ChannelEmail:
		target = &notification.EmailConfig{}
	case notification.ChannelWebhook:
		target = &notification.WebhookConfig{}
	case notification.ChannelSlack:
		target = &notification.SlackConfig{}
	default:
		return errors.Validation("unsupported channel type", string(t))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.Validation("malformed channel config", err.Error())
	}
	if errs := configValidator.Validate(target); len(errs) > 0 {
		return errors.Validation("invalid channel config", errs)
	}
	return nil
}

var configValidator = validator.New()

// GetChannel retrieves a channel visible to userID
func (s *NotificationService) GetChannel(ctx context.Context, userID int64, id int64) (*notification.Channel, error) {
	c, err := s.repo.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsGlobal() && !c.IsOwnedBy(userID) {
		return nil, errors.Authorization("channel belongs to another user")
	}
	return c, nil
}

// UpdateChannel applies field updates to a channel
func (s *NotificationService) UpdateChannel(ctx context.Context, userID int64, id int64, updates map[string]interface{}) (*notification.Channel, error) {
	c, err := s.GetChannel(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	for field, value := range updates {
		switch field {
		case "name":
			if v, ok := value.(string); ok {
				c.Name = v
			}
		case "enabled":
			if v, ok := value.(bool); ok {
				c.Enabled = v
			}
		case "config":
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, errors.Validation("malformed channel config", err.Error())
			}
			c.Config = raw
		default:
			return nil, errors.Validation(fmt.Sprintf("field %q cannot be updated", field), nil)
		}
	}

	if errs := s.validate.Validate(c); len(errs) > 0 {
		return nil, errors.Validation("invalid channel", errs)
	}
	if err := validateChannelConfig(c.Type, c.Config); err != nil {
		return nil, err
	}

	c.UpdatedAt = time.Now()
	if err := s.repo.UpdateChannel(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteChannel deletes a channel and its rule associations
func (s *NotificationService) DeleteChannel(ctx context.Context, userID int64, id int64) error {
	if _, err := s.GetChannel(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.DeleteChannel(ctx, id); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"channel_id": id,
		"user_id":    userID,
	}).Info("Notification channel deleted")
	return nil
}

// ListChannels retrieves channels with filters and pagination
func (s *NotificationService) ListChannels(ctx context.Context, userID int64, filter notification.ChannelFilter, limit, offset int) ([]*notification.Channel, int64, error) {
	limit, offset = utils.ClampPagination(limit, offset)
	return s.repo.ListChannels(ctx, userID, filter, limit, offset)
}

// TestChannel sends a synthetic payload through a stored channel. No
// delivery record is written; the result is reported directly.
func (s *NotificationService) TestChannel(ctx context.Context, userID int64, id int64) error {
	c, err := s.GetChannel(ctx, userID, id)
	if err != nil {
		return err
	}

	p := sender.Payload{
		InstanceID:  "test",
		RuleName:    "Test notification",
		Severity:    string(rule.SeverityLow),
		State:       string(alert.StateTriggered),
		TriggeredAt: time.Now(),
		Message:     "This is a test notification from vigil.",
	}

	sctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	if err := s.sender.Send(sctx, c, p); err != nil {
		return errors.Upstream(fmt.Sprintf("%s channel", c.Type), err)
	}
	return nil
}

// Associate links a channel to a rule. Both endpoints must be visible to
// the caller; repeating an existing link succeeds.
func (s *NotificationService) Associate(ctx context.Context, userID int64, ruleID, channelID int64) error {
	if err := s.checkAssociationEndpoints(ctx, userID, ruleID, channelID); err != nil {
		return err
	}
	return s.repo.Associate(ctx, ruleID, channelID)
}

// Dissociate unlinks a channel from a rule; unlinking an absent pair succeeds
func (s *NotificationService) Dissociate(ctx context.Context, userID int64, ruleID, channelID int64) error {
	if err := s.checkAssociationEndpoints(ctx, userID, ruleID, channelID); err != nil {
		return err
	}
	return s.repo.Dissociate(ctx, ruleID, channelID)
}

func (s *NotificationService) checkAssociationEndpoints(ctx context.Context, userID, ruleID, channelID int64) error {
	r, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return err
	}
	if !r.IsGlobal() && !r.IsOwnedBy(userID) {
		return errors.Authorization("rule belongs to another user")
	}
	if _, err := s.GetChannel(ctx, userID, channelID); err != nil {
		return err
	}
	return nil
}

// Dispatch fans an instance out to the rule's enabled channels. Each channel
// gets its own delivery record and goroutine; one channel failing or timing
// out never affects the others.
func (s *NotificationService) Dispatch(ctx context.Context, inst *alert.Instance, r *rule.AlertRule) error {
	channels, err := s.repo.ListChannelsForRule(ctx, r.ID)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return nil
	}

	payload := buildPayload(inst, r)
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Internal("failed to encode notification payload", err)
	}

	var wg sync.WaitGroup
	for _, c := range channels {
		d := &notification.Delivery{
			ID:         uuid.New().String(),
			InstanceID: inst.ID,
			ChannelID:  c.ID,
			Status:     notification.DeliveryPending,
			Payload:    raw,
			CreatedAt:  time.Now(),
		}
		if err := s.repo.CreateDelivery(ctx, d); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"instance_id": inst.ID,
				"channel_id":  c.ID,
			}).ErrorWithErr(err, "Failed to record delivery")
			continue
		}

		wg.Add(1)
		go func(c *notification.Channel, d *notification.Delivery) {
			defer wg.Done()
			s.attempt(ctx, c, d, payload)
		}(c, d)
	}
	wg.Wait()

	return nil
}

// buildPayload assembles the notification content for an instance
func buildPayload(inst *alert.Instance, r *rule.AlertRule) sender.Payload {
	return sender.Payload{
		InstanceID:        inst.ID,
		RuleName:          r.Name,
		AlertType:         r.AlertType,
		Severity:          string(inst.Severity),
		State:             string(inst.State),
		MetricType:        r.MetricType,
		MetricValue:       inst.MetricValue,
		ThresholdOperator: string(r.ThresholdOperator),
		ThresholdValue:    r.ThresholdValue,
		EscalationLevel:   inst.EscalationLevel,
		TriggeredAt:       inst.TriggeredAt,
		Message: fmt.Sprintf("%s: %s %s %g (current value %g)",
			r.Name, r.MetricType, r.ThresholdOperator, r.ThresholdValue, inst.MetricValue),
	}
}

// attempt runs one delivery attempt and records its outcome
func (s *NotificationService) attempt(ctx context.Context, c *notification.Channel, d *notification.Delivery, p sender.Payload) {
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	err := s.sender.Send(sctx, c, p)

	d.AttemptCount++
	d.UpdatedAt = time.Now()

	if err == nil {
		d.Status = notification.DeliverySucceeded
		d.LastError = ""
		d.NextRetryAt = nil
		metrics.RecordDelivery(string(c.Type), "succeeded", time.Since(start))
	} else if d.AttemptCount >= s.policy.MaxAttempts {
		d.Status = notification.DeliveryFailed
		d.LastError = err.Error()
		d.NextRetryAt = nil
		metrics.RecordDelivery(string(c.Type), "failed", time.Since(start))
		s.logger.WithFields(map[string]interface{}{
			"delivery_id": d.ID,
			"channel_id":  c.ID,
			"attempts":    d.AttemptCount,
		}).ErrorWithErr(err, "Delivery failed permanently")
	} else {
		next := time.Now().Add(s.policy.Backoff(d.AttemptCount))
		d.Status = notification.DeliveryRetryScheduled
		d.LastError = err.Error()
		d.NextRetryAt = &next
		metrics.RecordDelivery(string(c.Type), "retry_scheduled", time.Since(start))
		metrics.RecordRetryScheduled()
		s.logger.WithFields(map[string]interface{}{
			"delivery_id": d.ID,
			"channel_id":  c.ID,
			"attempt":     d.AttemptCount,
			"next_retry":  next.Format(time.RFC3339),
		}).Warn("Delivery failed, retry scheduled")
	}

	if uerr := s.repo.UpdateDelivery(ctx, d); uerr != nil {
		s.logger.WithFields(map[string]interface{}{
			"delivery_id": d.ID,
		}).ErrorWithErr(uerr, "Failed to record delivery outcome")
	}
}

// RetryFailedDeliveries sweeps due retry-scheduled deliveries. Each delivery
// is claimed with a conditional status transition before sending, so an
// overlapping sweep skips it instead of double-sending.
func (s *NotificationService) RetryFailedDeliveries(ctx context.Context) (*notification.RetrySummary, error) {
	due, err := s.repo.ListDueDeliveries(ctx, time.Now(), retrySweepBatchSize)
	if err != nil {
		return nil, err
	}

	summary := &notification.RetrySummary{Due: len(due)}
	for _, d := range due {
		claimed, err := s.repo.ClaimDelivery(ctx, d.ID, notification.DeliveryRetryScheduled, notification.DeliverySending)
		if err != nil {
			s.logger.WithFields(map[string]interface{}{
				"delivery_id": d.ID,
			}).ErrorWithErr(err, "Failed to claim delivery")
			continue
		}
		if !claimed {
			continue
		}
		summary.Claimed++
		d.Status = notification.DeliverySending

		c, err := s.repo.GetChannel(ctx, d.ChannelID)
		if err != nil {
			// Channel went away; terminal failure.
			d.Status = notification.DeliveryFailed
			d.LastError = err.Error()
			d.NextRetryAt = nil
			d.UpdatedAt = time.Now()
			_ = s.repo.UpdateDelivery(ctx, d)
			summary.Failed++
			continue
		}

		var p sender.Payload
		if err := json.Unmarshal(d.Payload, &p); err != nil {
			d.Status = notification.DeliveryFailed
			d.LastError = fmt.Sprintf("malformed stored payload: %v", err)
			d.NextRetryAt = nil
			d.UpdatedAt = time.Now()
			_ = s.repo.UpdateDelivery(ctx, d)
			summary.Failed++
			continue
		}

		s.attempt(ctx, c, d, p)
		switch d.Status {
		case notification.DeliverySucceeded:
			summary.Succeeded++
		case notification.DeliveryRetryScheduled:
			summary.Rescheduled++
		default:
			summary.Failed++
		}
	}

	if summary.Claimed > 0 {
		s.logger.WithFields(map[string]interface{}{
			"due":         summary.Due,
			"claimed":     summary.Claimed,
			"succeeded":   summary.Succeeded,
			"rescheduled": summary.Rescheduled,
			"failed":      summary.Failed,
		}).Info("Retry sweep completed")
	}

	return summary, nil
}

// ListDeliveries retrieves delivery records with filters and pagination
func (s *NotificationService) ListDeliveries(ctx context.Context, userID int64, filter notification.DeliveryFilter, limit, offset int) ([]*notification.Delivery, int64, error) {
	filter.OwnerID = &userID
	limit, offset = utils.ClampPagination(limit, offset)
	return s.repo.ListDeliveries(ctx, filter, limit, offset)
}
