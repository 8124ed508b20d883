package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
)

type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) alert.Repository {
	return &AlertRepository{db: db}
}

const instanceColumns = `id, rule_id, state, severity, triggered_at, metric_value, acknowledged_at, acknowledged_by, resolved_at, resolved_by, escalation_level, version, created_at, updated_at`

// Create inserts a new instance unless a non-resolved one already exists for
// the rule. The guarded insert and the partial unique index on
// (rule_id) WHERE state != 'resolved' together keep the single-active
// invariant under concurrent evaluations.
func (r *AlertRepository) Create(ctx context.Context, i *alert.Instance) error {
	now := time.Now()
	i.CreatedAt = now
	if i.Version == 0 {
		i.Version = 1
	}

	query := `
		INSERT INTO alert_instances (id, rule_id, state, severity, triggered_at, metric_value, escalation_level, version, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM alert_instances WHERE rule_id = ? AND state != 'resolved'
		)
	`

	result, err := r.db.ExecContext(ctx, query,
		i.ID, i.RuleID, string(i.State), string(i.Severity),
		i.TriggeredAt.UTC().Format(time.RFC3339), i.MetricValue,
		i.EscalationLevel, i.Version,
		now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339),
		i.RuleID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to create alert instance", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.Conflict("an active alert instance already exists for this rule")
	}

	return nil
}

func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alert.Instance, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_instances WHERE id = ?`, instanceColumns)

	i, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Alert instance")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get alert instance", err)
	}

	return i, nil
}

func (r *AlertRepository) GetActiveByRule(ctx context.Context, ruleID int64) (*alert.Instance, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_instances WHERE rule_id = ? AND state != 'resolved'`, instanceColumns)

	i, err := scanInstance(r.db.QueryRowContext(ctx, query, ruleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get active alert instance", err)
	}

	return i, nil
}

// UpdateConditional commits the instance only when the stored version still
// equals expectedVersion. A zero-row update on an existing instance means a
// concurrent writer won the race.
func (r *AlertRepository) UpdateConditional(ctx context.Context, i *alert.Instance, expectedVersion int64) error {
	i.UpdatedAt = time.Now()

	query := `
		UPDATE alert_instances
		SET state = ?, severity = ?, metric_value = ?, acknowledged_at = ?, acknowledged_by = ?, resolved_at = ?, resolved_by = ?, escalation_level = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(i.State), string(i.Severity), i.MetricValue,
		nullTime(i.AcknowledgedAt), nullString(i.AcknowledgedBy),
		nullTime(i.ResolvedAt), nullString(i.ResolvedBy),
		i.EscalationLevel, i.UpdatedAt.UTC().Format(time.RFC3339),
		i.ID, expectedVersion,
	)
	if err != nil {
		return errors.DatabaseError("Failed to update alert instance", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_instances WHERE id = ?", i.ID).Scan(&exists); err != nil {
			return errors.DatabaseError("Failed to check alert instance", err)
		}
		if exists == 0 {
			return errors.NotFound("Alert instance")
		}
		return errors.Concurrency("alert instance was modified concurrently")
	}

	i.Version = expectedVersion + 1
	return nil
}

func (r *AlertRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_instances WHERE id = ?", id)
	if err != nil {
		return errors.DatabaseError("Failed to delete alert instance", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Alert instance")
	}

	return nil
}

func (r *AlertRepository) List(ctx context.Context, filter alert.Filter, limit, offset int) ([]*alert.Instance, int64, error) {
	where, args := instanceFilter(filter)
	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM alert_instances i
		LEFT JOIN alert_rules r ON r.id = i.rule_id
		WHERE %s
	`, whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.DatabaseError("Failed to count alert instances", err)
	}

	cols := prefixColumns("i", instanceColumns)
	query := fmt.Sprintf(`
		SELECT %s FROM alert_instances i
		LEFT JOIN alert_rules r ON r.id = i.rule_id
		WHERE %s ORDER BY i.triggered_at DESC LIMIT ? OFFSET ?
	`, cols, whereClause)

	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.DatabaseError("Failed to list alert instances", err)
	}
	defer rows.Close()

	instances := make([]*alert.Instance, 0, limit)
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, 0, errors.DatabaseError("Failed to scan alert instance", err)
		}
		instances = append(instances, i)
	}

	return instances, total, rows.Err()
}

func (r *AlertRepository) CountActiveByRule(ctx context.Context, ruleID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alert_instances WHERE rule_id = ? AND state != 'resolved'", ruleID,
	).Scan(&count)
	if err != nil {
		return 0, errors.DatabaseError("Failed to count active alert instances", err)
	}
	return count, nil
}

func (r *AlertRepository) CountByState(ctx context.Context, ownerID *int64) (map[alert.State]int, error) {
	query := `
		SELECT i.state, COUNT(*) FROM alert_instances i
		LEFT JOIN alert_rules r ON r.id = i.rule_id
	`
	var args []interface{}
	if ownerID != nil {
		query += " WHERE (r.user_id = ? OR r.user_id IS NULL OR r.id IS NULL)"
		args = append(args, *ownerID)
	}
	query += " GROUP BY i.state"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.DatabaseError("Failed to count alert instances by state", err)
	}
	defer rows.Close()

	counts := make(map[alert.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, errors.DatabaseError("Failed to scan count", err)
		}
		counts[alert.State(state)] = count
	}

	return counts, rows.Err()
}

func (r *AlertRepository) CountActiveBySeverity(ctx context.Context, ownerID *int64) (map[rule.Severity]int, error) {
	query := `
		SELECT i.severity, COUNT(*) FROM alert_instances i
		LEFT JOIN alert_rules r ON r.id = i.rule_id
		WHERE i.state != 'resolved'
	`
	var args []interface{}
	if ownerID != nil {
		query += " AND (r.user_id = ? OR r.user_id IS NULL OR r.id IS NULL)"
		args = append(args, *ownerID)
	}
	query += " GROUP BY i.severity"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.DatabaseError("Failed to count alert instances by severity", err)
	}
	defer rows.Close()

	counts := make(map[rule.Severity]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, errors.DatabaseError("Failed to scan count", err)
		}
		counts[rule.Severity(severity)] = count
	}

	return counts, rows.Err()
}

func (r *AlertRepository) ListTriggeredBefore(ctx context.Context, cutoff time.Time) ([]*alert.Instance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alert_instances
		WHERE state = 'triggered' AND triggered_at < ?
		ORDER BY triggered_at
	`, instanceColumns)

	rows, err := r.db.QueryContext(ctx, query, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.DatabaseError("Failed to list stale alert instances", err)
	}
	defer rows.Close()

	var instances []*alert.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, errors.DatabaseError("Failed to scan alert instance", err)
		}
		instances = append(instances, i)
	}

	return instances, rows.Err()
}

func instanceFilter(filter alert.Filter) ([]string, []interface{}) {
	where := []string{"1=1"}
	var args []interface{}

	if filter.RuleID != 0 {
		where = append(where, "i.rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.OwnerID != nil {
		where = append(where, "(r.user_id = ? OR r.user_id IS NULL OR r.id IS NULL)")
		args = append(args, *filter.OwnerID)
	}
	if filter.State != "" {
		where = append(where, "i.state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Severity != "" {
		where = append(where, "i.severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.From != nil {
		where = append(where, "i.triggered_at >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		where = append(where, "i.triggered_at <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}

	return where, args
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + "." + p
	}
	return strings.Join(parts, ", ")
}

func scanInstance(row rowScanner) (*alert.Instance, error) {
	var i alert.Instance
	var state, severity string
	var triggeredAt, createdAt string
	var acknowledgedAt, acknowledgedBy, resolvedAt, resolvedBy, updatedAt sql.NullString

	err := row.Scan(
		&i.ID, &i.RuleID, &state, &severity, &triggeredAt, &i.MetricValue,
		&acknowledgedAt, &acknowledgedBy, &resolvedAt, &resolvedBy,
		&i.EscalationLevel, &i.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.State = alert.State(state)
	i.Severity = rule.Severity(severity)
	i.TriggeredAt, _ = time.Parse(time.RFC3339, triggeredAt)
	i.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if acknowledgedAt.Valid {
		t, _ := time.Parse(time.RFC3339, acknowledgedAt.String)
		i.AcknowledgedAt = &t
	}
	i.AcknowledgedBy = acknowledgedBy.String
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339, resolvedAt.String)
		i.ResolvedAt = &t
	}
	i.ResolvedBy = resolvedBy.String
	if updatedAt.Valid {
		i.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}

	return &i, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
