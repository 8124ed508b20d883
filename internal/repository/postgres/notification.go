package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
)

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) notification.Repository {
	return &NotificationRepository{db: db}
}

const channelColumns = `id, user_id, name, type, config, enabled, created_at, updated_at`

func (r *NotificationRepository) CreateChannel(ctx context.Context, c *notification.Channel) (int64, error) {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	query := `
		INSERT INTO notification_channels (user_id, name, type, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		c.UserID, c.Name, string(c.Type), string(c.Config), c.Enabled,
		now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, errors.DatabaseError("Failed to create channel", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.DatabaseError("Failed to get channel ID", err)
	}
	c.ID = id

	return id, nil
}

func (r *NotificationRepository) GetChannel(ctx context.Context, id int64) (*notification.Channel, error) {
	query := fmt.Sprintf(`SELECT %s FROM notification_channels WHERE id = ?`, channelColumns)

	c, err := scanChannel(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Channel")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get channel", err)
	}

	return c, nil
}

func (r *NotificationRepository) UpdateChannel(ctx context.Context, c *notification.Channel) error {
	c.UpdatedAt = time.Now()

	query := `
		UPDATE notification_channels
		SET name = ?, config = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		c.Name, string(c.Config), c.Enabled,
		c.UpdatedAt.UTC().Format(time.RFC3339), c.ID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to update channel", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Channel")
	}

	return nil
}

func (r *NotificationRepository) DeleteChannel(ctx context.Context, id int64) error {
	// Associations go with the channel
	if _, err := r.db.ExecContext(ctx, "DELETE FROM rule_channels WHERE channel_id = ?", id); err != nil {
		return errors.DatabaseError("Failed to delete channel associations", err)
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM notification_channels WHERE id = ?", id)
	if err != nil {
		return errors.DatabaseError("Failed to delete channel", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Channel")
	}

	return nil
}

func (r *NotificationRepository) ListChannels(ctx context.Context, userID int64, filter notification.ChannelFilter, limit, offset int) ([]*notification.Channel, int64, error) {
	where := []string{"(user_id = ? OR user_id IS NULL)"}
	args := []interface{}{userID}

	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM notification_channels WHERE %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.DatabaseError("Failed to count channels", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM notification_channels WHERE %s ORDER BY id DESC LIMIT ? OFFSET ?
	`, channelColumns, whereClause)

	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.DatabaseError("Failed to list channels", err)
	}
	defer rows.Close()

	channels := make([]*notification.Channel, 0, limit)
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, 0, errors.DatabaseError("Failed to scan channel", err)
		}
		channels = append(channels, c)
	}

	return channels, total, rows.Err()
}

func (r *NotificationRepository) ListChannelsForRule(ctx context.Context, ruleID int64) ([]*notification.Channel, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notification_channels c
		JOIN rule_channels rc ON rc.channel_id = c.id
		WHERE rc.rule_id = ? AND c.enabled = ?
		ORDER BY c.id
	`, prefixColumns("c", channelColumns))

	rows, err := r.db.QueryContext(ctx, query, ruleID, true)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list channels for rule", err)
	}
	defer rows.Close()

	var channels []*notification.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, errors.DatabaseError("Failed to scan channel", err)
		}
		channels = append(channels, c)
	}

	return channels, rows.Err()
}

// Associate links a rule to a channel. The guarded insert makes repeated
// links a no-op instead of a constraint violation.
func (r *NotificationRepository) Associate(ctx context.Context, ruleID, channelID int64) error {
	query := `
		INSERT INTO rule_channels (rule_id, channel_id, created_at)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM rule_channels WHERE rule_id = ? AND channel_id = ?
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		ruleID, channelID, time.Now().UTC().Format(time.RFC3339),
		ruleID, channelID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to associate rule and channel", err)
	}

	return nil
}

func (r *NotificationRepository) Dissociate(ctx context.Context, ruleID, channelID int64) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM rule_channels WHERE rule_id = ? AND channel_id = ?",
		ruleID, channelID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to dissociate rule and channel", err)
	}
	return nil
}

func (r *NotificationRepository) ListAssociations(ctx context.Context, ruleID int64) ([]*notification.Association, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT rule_id, channel_id, created_at FROM rule_channels WHERE rule_id = ? ORDER BY channel_id",
		ruleID,
	)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list associations", err)
	}
	defer rows.Close()

	var assocs []*notification.Association
	for rows.Next() {
		var a notification.Association
		var createdAt string
		if err := rows.Scan(&a.RuleID, &a.ChannelID, &createdAt); err != nil {
			return nil, errors.DatabaseError("Failed to scan association", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		assocs = append(assocs, &a)
	}

	return assocs, rows.Err()
}

const deliveryColumns = `id, instance_id, channel_id, status, attempt_count, last_error, next_retry_at, payload, created_at, updated_at`

func (r *NotificationRepository) CreateDelivery(ctx context.Context, d *notification.Delivery) error {
	now := time.Now()
	d.CreatedAt = now

	query := `
		INSERT INTO notification_deliveries (id, instance_id, channel_id, status, attempt_count, last_error, next_retry_at, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.InstanceID, d.ChannelID, string(d.Status), d.AttemptCount,
		nullString(d.LastError), nullTime(d.NextRetryAt), string(d.Payload),
		now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.DatabaseError("Failed to create delivery", err)
	}

	return nil
}

func (r *NotificationRepository) GetDelivery(ctx context.Context, id string) (*notification.Delivery, error) {
	query := fmt.Sprintf(`SELECT %s FROM notification_deliveries WHERE id = ?`, deliveryColumns)

	d, err := scanDelivery(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Delivery")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get delivery", err)
	}

	return d, nil
}

func (r *NotificationRepository) UpdateDelivery(ctx context.Context, d *notification.Delivery) error {
	d.UpdatedAt = time.Now()

	query := `
		UPDATE notification_deliveries
		SET status = ?, attempt_count = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(d.Status), d.AttemptCount, nullString(d.LastError),
		nullTime(d.NextRetryAt), d.UpdatedAt.UTC().Format(time.RFC3339), d.ID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to update delivery", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Delivery")
	}

	return nil
}

// ClaimDelivery conditionally transitions a delivery between statuses. The
// single guarded update is the mutual exclusion between overlapping retry
// sweeps: exactly one caller observes a row change.
func (r *NotificationRepository) ClaimDelivery(ctx context.Context, id string, from, to notification.DeliveryStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE notification_deliveries SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), time.Now().UTC().Format(time.RFC3339), id, string(from),
	)
	if err != nil {
		return false, errors.DatabaseError("Failed to claim delivery", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.DatabaseError("Failed to get affected rows", err)
	}

	return rows > 0, nil
}

func (r *NotificationRepository) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*notification.Delivery, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notification_deliveries
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY next_retry_at LIMIT ?
	`, deliveryColumns)

	rows, err := r.db.QueryContext(ctx, query,
		string(notification.DeliveryRetryScheduled), now.UTC().Format(time.RFC3339), limit,
	)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list due deliveries", err)
	}
	defer rows.Close()

	var deliveries []*notification.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, errors.DatabaseError("Failed to scan delivery", err)
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, rows.Err()
}

func (r *NotificationRepository) ListDeliveries(ctx context.Context, filter notification.DeliveryFilter, limit, offset int) ([]*notification.Delivery, int64, error) {
	where := []string{"1=1"}
	var args []interface{}

	if filter.InstanceID != "" {
		where = append(where, "d.instance_id = ?")
		args = append(args, filter.InstanceID)
	}
	if filter.ChannelID != 0 {
		where = append(where, "d.channel_id = ?")
		args = append(args, filter.ChannelID)
	}
	if filter.OwnerID != nil {
		// Deliveries of a deleted channel stay visible, like orphaned instances
		where = append(where, "(c.user_id = ? OR c.user_id IS NULL OR c.id IS NULL)")
		args = append(args, *filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "d.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.From != nil {
		where = append(where, "d.created_at >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		where = append(where, "d.created_at <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}

	whereClause := strings.Join(where, " AND ")
	fromClause := "notification_deliveries d LEFT JOIN notification_channels c ON c.id = d.channel_id"

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", fromClause, whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.DatabaseError("Failed to count deliveries", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE %s ORDER BY d.created_at DESC LIMIT ? OFFSET ?
	`, prefixColumns("d", deliveryColumns), fromClause, whereClause)

	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.DatabaseError("Failed to list deliveries", err)
	}
	defer rows.Close()

	deliveries := make([]*notification.Delivery, 0, limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, errors.DatabaseError("Failed to scan delivery", err)
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, total, rows.Err()
}

func scanChannel(row rowScanner) (*notification.Channel, error) {
	var c notification.Channel
	var chType, config, createdAt string
	var updatedAt sql.NullString

	err := row.Scan(&c.ID, &c.UserID, &c.Name, &chType, &config, &c.Enabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.Type = notification.ChannelType(chType)
	c.Config = json.RawMessage(config)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if updatedAt.Valid {
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}

	return &c, nil
}

func scanDelivery(row rowScanner) (*notification.Delivery, error) {
	var d notification.Delivery
	var status, payload, createdAt string
	var lastError, nextRetryAt, updatedAt sql.NullString

	err := row.Scan(
		&d.ID, &d.InstanceID, &d.ChannelID, &status, &d.AttemptCount,
		&lastError, &nextRetryAt, &payload, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = notification.DeliveryStatus(status)
	d.LastError = lastError.String
	if nextRetryAt.Valid {
		t, _ := time.Parse(time.RFC3339, nextRetryAt.String)
		d.NextRetryAt = &t
	}
	d.Payload = json.RawMessage(payload)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if updatedAt.Valid {
		d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}

	return &d, nil
}
