package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
	"github.com/pratik-mahalle/vigil/internal/repository/postgres"
	"github.com/pratik-mahalle/vigil/internal/testutil"
)

func seedChannelRow(t *testing.T, repo notification.Repository, userID *int64) *notification.Channel {
	t.Helper()
	ch := &notification.Channel{
		UserID:  userID,
		Name:    "ops-webhook",
		Type:    notification.ChannelWebhook,
		Config:  json.RawMessage(`{"url":"https://hooks.example.com/ops"}`),
		Enabled: true,
	}
	if _, err := repo.CreateChannel(context.Background(), ch); err != nil {
		t.Fatalf("failed to seed channel: %v", err)
	}
	return ch
}

func TestNotificationRepository_ChannelCRUD(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := postgres.NewNotificationRepository(db)
	ctx := context.Background()

	owner := int64(1)
	ch := seedChannelRow(t, repo, &owner)

	got, err := repo.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetChannel() error = %v", err)
	}
	if got.Name != "ops-webhook" || got.Type != notification.ChannelWebhook {
		t.Errorf("GetChannel() = %+v", got)
	}

	got.Name = "ops-webhook-renamed"
	got.Enabled = false
	if err := repo.UpdateChannel(ctx, got); err != nil {
		t.Fatalf("UpdateChannel() error = %v", err)
	}
	got, _ = repo.GetChannel(ctx, ch.ID)
	if got.Name != "ops-webhook-renamed" || got.Enabled {
		t.Errorf("UpdateChannel() not persisted: %+v", got)
	}

	if err := repo.DeleteChannel(ctx, ch.ID); err != nil {
		t.Fatalf("DeleteChannel() error = %v", err)
	}
	if _, err := repo.GetChannel(ctx, ch.ID); !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("GetChannel() after delete error = %v, want NOT_FOUND", err)
	}
}

func TestNotificationRepository_Associations(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	rules := postgres.NewRuleRepository(db)
	repo := postgres.NewNotificationRepository(db)
	ctx := context.Background()

	r := seedRuleRow(t, rules, nil)
	ch := seedChannelRow(t, repo, nil)

	if err := repo.Associate(ctx, r.ID, ch.ID); err != nil {
		t.Fatalf("Associate() error = %v", err)
	}
	// Associating again is a no-op
	if err := repo.Associate(ctx, r.ID, ch.ID); err != nil {
		t.Fatalf("repeat Associate() error = %v", err)
	}

	channels, err := repo.ListChannelsForRule(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListChannelsForRule() error = %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("ListChannelsForRule() = %d channels, want 1", len(channels))
	}

	// Disabled channels drop out of dispatch
	ch.Enabled = false
	repo.UpdateChannel(ctx, ch)
	channels, _ = repo.ListChannelsForRule(ctx, r.ID)
	if len(channels) != 0 {
		t.Errorf("ListChannelsForRule() = %d channels with channel disabled, want 0", len(channels))
	}

	if err := repo.Dissociate(ctx, r.ID, ch.ID); err != nil {
		t.Fatalf("Dissociate() error = %v", err)
	}
	if err := repo.Dissociate(ctx, r.ID, ch.ID); err != nil {
		t.Fatalf("repeat Dissociate() error = %v", err)
	}
}

func TestNotificationRepository_ClaimDelivery(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := postgres.NewNotificationRepository(db)
	ctx := context.Background()

	ch := seedChannelRow(t, repo, nil)

	d := &notification.Delivery{
		ID:         uuid.New().String(),
		InstanceID: uuid.New().String(),
		ChannelID:  ch.ID,
		Status:     notification.DeliveryRetryScheduled,
		Payload:    json.RawMessage(`{"message":"test"}`),
	}
	if err := repo.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("CreateDelivery() error = %v", err)
	}

	claimed, err := repo.ClaimDelivery(ctx, d.ID, notification.DeliveryRetryScheduled, notification.DeliverySending)
	if err != nil {
		t.Fatalf("ClaimDelivery() error = %v", err)
	}
	if !claimed {
		t.Fatal("ClaimDelivery() = false, want true")
	}

	// The second sweeper loses the race
	claimed, err = repo.ClaimDelivery(ctx, d.ID, notification.DeliveryRetryScheduled, notification.DeliverySending)
	if err != nil {
		t.Fatalf("second ClaimDelivery() error = %v", err)
	}
	if claimed {
		t.Error("second ClaimDelivery() = true, want false")
	}

	got, _ := repo.GetDelivery(ctx, d.ID)
	if got.Status != notification.DeliverySending {
		t.Errorf("status = %v, want %v", got.Status, notification.DeliverySending)
	}
}

func TestNotificationRepository_ListDeliveriesScopedToOwner(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := postgres.NewNotificationRepository(db)
	ctx := context.Background()

	owner := int64(1)
	ch := seedChannelRow(t, repo, &owner)

	d := &notification.Delivery{
		ID:         uuid.New().String(),
		InstanceID: uuid.New().String(),
		ChannelID:  ch.ID,
		Status:     notification.DeliveryFailed,
		LastError:  "connection refused",
		Payload:    json.RawMessage(`{}`),
	}
	if err := repo.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("CreateDelivery() error = %v", err)
	}

	deliveries, total, err := repo.ListDeliveries(ctx, notification.DeliveryFilter{OwnerID: &owner}, 20, 0)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if total != 1 || len(deliveries) != 1 {
		t.Fatalf("owner ListDeliveries() = %d deliveries, want 1", total)
	}

	other := int64(2)
	deliveries, total, err = repo.ListDeliveries(ctx, notification.DeliveryFilter{OwnerID: &other}, 20, 0)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if total != 0 || len(deliveries) != 0 {
		t.Fatalf("non-owner ListDeliveries() = %d deliveries, want 0", total)
	}

	// Deliveries of a deleted channel stay visible
	if err := repo.DeleteChannel(ctx, ch.ID); err != nil {
		t.Fatalf("DeleteChannel() error = %v", err)
	}
	_, total, err = repo.ListDeliveries(ctx, notification.DeliveryFilter{OwnerID: &other}, 20, 0)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if total != 1 {
		t.Errorf("orphaned ListDeliveries() = %d deliveries, want 1", total)
	}
}

func TestNotificationRepository_ListDueDeliveries(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := postgres.NewNotificationRepository(db)
	ctx := context.Background()

	ch := seedChannelRow(t, repo, nil)

	mkDelivery := func(status notification.DeliveryStatus, next *time.Time) *notification.Delivery {
		d := &notification.Delivery{
			ID:          uuid.New().String(),
			InstanceID:  uuid.New().String(),
			ChannelID:   ch.ID,
			Status:      status,
			Payload:     json.RawMessage(`{}`),
			NextRetryAt: next,
		}
		if err := repo.CreateDelivery(ctx, d); err != nil {
			t.Fatalf("CreateDelivery() error = %v", err)
		}
		return d
	}

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	due := mkDelivery(notification.DeliveryRetryScheduled, &past)
	mkDelivery(notification.DeliveryRetryScheduled, &future)
	mkDelivery(notification.DeliveryFailed, &past)

	got, err := repo.ListDueDeliveries(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListDueDeliveries() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListDueDeliveries() = %d deliveries, want 1", len(got))
	}
	if got[0].ID != due.ID {
		t.Errorf("ListDueDeliveries() returned %s, want %s", got[0].ID, due.ID)
	}
}
