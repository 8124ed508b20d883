package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
	"github.com/pratik-mahalle/vigil/internal/pkg/validator"
	"github.com/pratik-mahalle/vigil/internal/testutil"
)

func newNotificationServiceForTest(snd *testutil.MockSender) (notification.Service, *testutil.MockNotificationRepository, *testutil.MockRuleRepository) {
	repo := testutil.NewMockNotificationRepository()
	rules := testutil.NewMockRuleRepository()
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	svc := NewNotificationService(repo, rules, snd, notification.DefaultRetryPolicy(), time.Second, validator.New(), log)
	return svc, repo, rules
}

func seedChannel(t *testing.T, svc notification.Service, userID int64, name string, chType notification.ChannelType, config string) int64 {
	t.Helper()
	id, err := svc.CreateChannel(context.Background(), userID, &notification.Channel{
		Name:    name,
		Type:    chType,
		Config:  json.RawMessage(config),
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("failed to seed channel: %v", err)
	}
	return id
}

func seedDispatchFixture(t *testing.T, rules *testutil.MockRuleRepository) (*alert.Instance, *rule.AlertRule) {
	t.Helper()
	userID := int64(1)
	r := &rule.AlertRule{
		UserID:            &userID,
		Name:              "High CPU",
		AlertType:         "system",
		MetricType:        "cpu_usage",
		ThresholdValue:    80,
		ThresholdOperator: rule.OpGreaterThan,
		Severity:          rule.SeverityHigh,
		Enabled:           true,
	}
	if _, err := rules.Create(context.Background(), r); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}
	inst := &alert.Instance{
		ID:          "inst-1",
		RuleID:      r.ID,
		State:       alert.StateTriggered,
		Severity:    r.Severity,
		TriggeredAt: time.Now(),
		MetricValue: 95,
		Version:     1,
	}
	return inst, r
}

func TestNotificationService_CreateChannel(t *testing.T) {
	svc, _, _ := newNotificationServiceForTest(&testutil.MockSender{})
	ctx := context.Background()

	tests := []struct {
		name     string
		channel  *notification.Channel
		wantCode string
	}{
		{
			name: "valid webhook channel",
			channel: &notification.Channel{
				Name:    "Ops Webhook",
				Type:    notification.ChannelWebhook,
				Config:  json.RawMessage(`{"url":"https://hooks.example.com/alerts","secret":"s3cret"}`),
				Enabled: true,
			},
		},
		{
			name: "valid email channel",
			channel: &notification.Channel{
				Name:    "Oncall Email",
				Type:    notification.ChannelEmail,
				Config:  json.RawMessage(`{"to":["oncall@example.com"]}`),
				Enabled: true,
			},
		},
		{
			name: "unknown channel type",
			channel: &notification.Channel{
				Name:   "Pager",
				Type:   notification.ChannelType("pager"),
				Config: json.RawMessage(`{}`),
			},
			wantCode: errors.ErrCodeValidation,
		},
		{
			name: "webhook without url",
			channel: &notification.Channel{
				Name:   "Broken",
				Type:   notification.ChannelWebhook,
				Config: json.RawMessage(`{"secret":"s"}`),
			},
			wantCode: errors.ErrCodeValidation,
		},
		{
			name: "email with malformed address",
			channel: &notification.Channel{
				Name:   "Broken",
				Type:   notification.ChannelEmail,
				Config: json.RawMessage(`{"to":["not-an-email"]}`),
			},
			wantCode: errors.ErrCodeValidation,
		},
		{
			name: "missing config",
			channel: &notification.Channel{
				Name: "Empty",
				Type: notification.ChannelSlack,
			},
			wantCode: errors.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := svc.CreateChannel(ctx, 1, tt.channel)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("CreateChannel() error = %v", err)
				}
				if id == 0 {
					t.Error("CreateChannel() returned 0 id")
				}
				return
			}
			if !errors.IsCode(err, tt.wantCode) {
				t.Errorf("CreateChannel() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestNotificationService_ChannelAuthorization(t *testing.T) {
	svc, _, _ := newNotificationServiceForTest(&testutil.MockSender{})
	ctx := context.Background()

	id := seedChannel(t, svc, 1, "Mine", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)

	if _, err := svc.GetChannel(ctx, 1, id); err != nil {
		t.Errorf("owner GetChannel() error = %v", err)
	}
	if _, err := svc.GetChannel(ctx, 2, id); !errors.IsCode(err, errors.ErrCodeAuthorization) {
		t.Errorf("other user GetChannel() error = %v, want AUTHORIZATION_ERROR", err)
	}
	if err := svc.DeleteChannel(ctx, 2, id); !errors.IsCode(err, errors.ErrCodeAuthorization) {
		t.Errorf("other user DeleteChannel() error = %v, want AUTHORIZATION_ERROR", err)
	}
}

func TestNotificationService_Associate(t *testing.T) {
	svc, repo, rules := newNotificationServiceForTest(&testutil.MockSender{})
	ctx := context.Background()

	_, r := seedDispatchFixture(t, rules)
	id := seedChannel(t, svc, 1, "Ops", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)

	if err := svc.Associate(ctx, 1, r.ID, id); err != nil {
		t.Fatalf("Associate() error = %v", err)
	}
	// Repeating the link is a no-op, not an error
	if err := svc.Associate(ctx, 1, r.ID, id); err != nil {
		t.Errorf("repeated Associate() error = %v", err)
	}
	if got := len(repo.Associations[r.ID]); got != 1 {
		t.Errorf("association count = %d, want 1", got)
	}

	if err := svc.Dissociate(ctx, 1, r.ID, id); err != nil {
		t.Fatalf("Dissociate() error = %v", err)
	}
	if err := svc.Dissociate(ctx, 1, r.ID, id); err != nil {
		t.Errorf("repeated Dissociate() error = %v", err)
	}
	if got := len(repo.Associations[r.ID]); got != 0 {
		t.Errorf("association count = %d, want 0", got)
	}
}

func TestNotificationService_Dispatch_FanOut(t *testing.T) {
	snd := &testutil.MockSender{}
	svc, repo, rules := newNotificationServiceForTest(snd)
	ctx := context.Background()

	inst, r := seedDispatchFixture(t, rules)
	first := seedChannel(t, svc, 1, "Ops Webhook", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)
	second := seedChannel(t, svc, 1, "Oncall Email", notification.ChannelEmail, `{"to":["oncall@example.com"]}`)
	disabled := seedChannel(t, svc, 1, "Muted", notification.ChannelSlack, `{"webhook_url":"https://hooks.slack.com/x"}`)
	svc.UpdateChannel(ctx, 1, disabled, map[string]interface{}{"enabled": false})

	for _, id := range []int64{first, second, disabled} {
		svc.Associate(ctx, 1, r.ID, id)
	}

	if err := svc.Dispatch(ctx, inst, r); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// Disabled channels are skipped
	if snd.SentCount() != 2 {
		t.Errorf("sent %d notifications, want 2", snd.SentCount())
	}
	if len(repo.Deliveries) != 2 {
		t.Errorf("recorded %d deliveries, want 2", len(repo.Deliveries))
	}
	for _, d := range repo.Deliveries {
		if d.Status != notification.DeliverySucceeded {
			t.Errorf("delivery status = %v, want succeeded", d.Status)
		}
		if d.AttemptCount != 1 {
			t.Errorf("attempt count = %d, want 1", d.AttemptCount)
		}
	}
}

func TestNotificationService_Dispatch_FailureSchedulesRetry(t *testing.T) {
	snd := &testutil.MockSender{FailTimes: 1}
	svc, repo, rules := newNotificationServiceForTest(snd)
	ctx := context.Background()

	inst, r := seedDispatchFixture(t, rules)
	id := seedChannel(t, svc, 1, "Flaky", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)
	svc.Associate(ctx, 1, r.ID, id)

	if err := svc.Dispatch(ctx, inst, r); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	var d *notification.Delivery
	for _, v := range repo.Deliveries {
		d = v
	}
	if d.Status != notification.DeliveryRetryScheduled {
		t.Fatalf("delivery status = %v, want retry_scheduled", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", d.AttemptCount)
	}
	if d.NextRetryAt == nil {
		t.Fatal("NextRetryAt not set")
	}
	if d.LastError == "" {
		t.Error("LastError not recorded")
	}

	// First retry backs off by the base interval
	delay := time.Until(*d.NextRetryAt)
	if delay < 25*time.Second || delay > 35*time.Second {
		t.Errorf("retry delay = %v, want ~30s", delay)
	}
}

func TestNotificationService_RetrySucceedsOnSecondAttempt(t *testing.T) {
	snd := &testutil.MockSender{FailTimes: 1}
	svc, repo, rules := newNotificationServiceForTest(snd)
	ctx := context.Background()

	inst, r := seedDispatchFixture(t, rules)
	id := seedChannel(t, svc, 1, "Flaky", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)
	svc.Associate(ctx, 1, r.ID, id)
	svc.Dispatch(ctx, inst, r)

	// Make the scheduled retry due now
	for _, d := range repo.Deliveries {
		due := time.Now().Add(-time.Second)
		d.NextRetryAt = &due
	}

	summary, err := svc.RetryFailedDeliveries(ctx)
	if err != nil {
		t.Fatalf("RetryFailedDeliveries() error = %v", err)
	}
	if summary.Due != 1 || summary.Claimed != 1 || summary.Succeeded != 1 {
		t.Errorf("summary = %+v, want 1 due, 1 claimed, 1 succeeded", summary)
	}

	for _, d := range repo.Deliveries {
		if d.Status != notification.DeliverySucceeded {
			t.Errorf("delivery status = %v, want succeeded", d.Status)
		}
		if d.AttemptCount != 2 {
			t.Errorf("attempt count = %d, want 2", d.AttemptCount)
		}
		if d.NextRetryAt != nil {
			t.Error("NextRetryAt should be cleared on success")
		}
	}
}

func TestNotificationService_RetryExhaustsAttempts(t *testing.T) {
	snd := &testutil.MockSender{FailTimes: 10}
	svc, repo, rules := newNotificationServiceForTest(snd)
	ctx := context.Background()

	inst, r := seedDispatchFixture(t, rules)
	id := seedChannel(t, svc, 1, "Dead", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)
	svc.Associate(ctx, 1, r.ID, id)
	svc.Dispatch(ctx, inst, r)

	// Two retry sweeps exhaust the 3-attempt budget
	for i := 0; i < 2; i++ {
		for _, d := range repo.Deliveries {
			if d.NextRetryAt != nil {
				due := time.Now().Add(-time.Second)
				d.NextRetryAt = &due
			}
		}
		if _, err := svc.RetryFailedDeliveries(ctx); err != nil {
			t.Fatalf("RetryFailedDeliveries() sweep %d error = %v", i+1, err)
		}
	}

	for _, d := range repo.Deliveries {
		if d.Status != notification.DeliveryFailed {
			t.Errorf("delivery status = %v, want failed", d.Status)
		}
		if d.AttemptCount != 3 {
			t.Errorf("attempt count = %d, want 3", d.AttemptCount)
		}
		if d.NextRetryAt != nil {
			t.Error("terminal failure should not schedule another retry")
		}
	}

	// A further sweep finds nothing due
	summary, _ := svc.RetryFailedDeliveries(ctx)
	if summary.Due != 0 {
		t.Errorf("summary.Due = %d after terminal failure, want 0", summary.Due)
	}
}

func TestNotificationService_RetryClaimPreventsDoubleSend(t *testing.T) {
	snd := &testutil.MockSender{FailTimes: 1}
	svc, repo, rules := newNotificationServiceForTest(snd)
	ctx := context.Background()

	inst, r := seedDispatchFixture(t, rules)
	id := seedChannel(t, svc, 1, "Flaky", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)
	svc.Associate(ctx, 1, r.ID, id)
	svc.Dispatch(ctx, inst, r)

	// A competing sweep already claimed the delivery
	var deliveryID string
	for _, d := range repo.Deliveries {
		deliveryID = d.ID
		due := time.Now().Add(-time.Second)
		d.NextRetryAt = &due
		d.Status = notification.DeliverySending
	}

	claimed, err := repo.ClaimDelivery(ctx, deliveryID, notification.DeliveryRetryScheduled, notification.DeliverySending)
	if err != nil {
		t.Fatalf("ClaimDelivery() error = %v", err)
	}
	if claimed {
		t.Error("claim from wrong status should not succeed")
	}
	if snd.SentCount() != 0 {
		t.Errorf("sent %d notifications, want 0", snd.SentCount())
	}
}

func TestNotificationService_ListDeliveriesScopedToOwner(t *testing.T) {
	snd := &testutil.MockSender{FailTimes: 1}
	svc, _, rules := newNotificationServiceForTest(snd)
	ctx := context.Background()

	inst, r := seedDispatchFixture(t, rules)
	id := seedChannel(t, svc, 1, "Private", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)
	svc.Associate(ctx, 1, r.ID, id)

	if err := svc.Dispatch(ctx, inst, r); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// The channel owner sees the failed delivery, including its error
	deliveries, total, err := svc.ListDeliveries(ctx, 1, notification.DeliveryFilter{ChannelID: id}, 20, 0)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if total != 1 || len(deliveries) != 1 {
		t.Fatalf("owner ListDeliveries() = %d deliveries, want 1", total)
	}

	// Another user does not
	deliveries, total, err = svc.ListDeliveries(ctx, 2, notification.DeliveryFilter{ChannelID: id}, 20, 0)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if total != 0 || len(deliveries) != 0 {
		t.Errorf("non-owner ListDeliveries() = %d deliveries, want 0", total)
	}
}

func TestNotificationService_TestChannel(t *testing.T) {
	snd := &testutil.MockSender{}
	svc, repo, _ := newNotificationServiceForTest(snd)
	ctx := context.Background()

	id := seedChannel(t, svc, 1, "Ops", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)

	if err := svc.TestChannel(ctx, 1, id); err != nil {
		t.Fatalf("TestChannel() error = %v", err)
	}
	if snd.SentCount() != 1 {
		t.Errorf("sent %d test notifications, want 1", snd.SentCount())
	}
	// A test send never leaves a delivery record
	if len(repo.Deliveries) != 0 {
		t.Errorf("recorded %d deliveries for a test send, want 0", len(repo.Deliveries))
	}

	failing := &testutil.MockSender{FailTimes: 1}
	svc2, _, _ := newNotificationServiceForTest(failing)
	id2 := seedChannel(t, svc2, 1, "Broken", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)
	if err := svc2.TestChannel(ctx, 1, id2); !errors.IsCode(err, errors.ErrCodeUpstream) {
		t.Errorf("TestChannel() error = %v, want UPSTREAM_ERROR", err)
	}
}

func TestNotificationService_UpdateChannel(t *testing.T) {
	svc, _, _ := newNotificationServiceForTest(&testutil.MockSender{})
	ctx := context.Background()

	id := seedChannel(t, svc, 1, "Ops", notification.ChannelWebhook, `{"url":"https://hooks.example.com/a"}`)

	c, err := svc.UpdateChannel(ctx, 1, id, map[string]interface{}{
		"name":    "Ops Renamed",
		"enabled": false,
	})
	if err != nil {
		t.Fatalf("UpdateChannel() error = %v", err)
	}
	if c.Name != "Ops Renamed" || c.Enabled {
		t.Errorf("UpdateChannel() = %+v, updates not applied", c)
	}

	if _, err := svc.UpdateChannel(ctx, 1, id, map[string]interface{}{"type": "email"}); !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Errorf("UpdateChannel() with immutable field error = %v, want VALIDATION_ERROR", err)
	}
}
