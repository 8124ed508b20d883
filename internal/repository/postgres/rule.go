package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
)

type RuleRepository struct {
	db *sql.DB
}

func NewRuleRepository(db *sql.DB) rule.Repository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, user_id, name, alert_type, metric_type, threshold_value, threshold_operator, severity, enabled, created_at, updated_at`

func (r *RuleRepository) Create(ctx context.Context, ar *rule.AlertRule) (int64, error) {
	now := time.Now()
	ar.CreatedAt = now
	ar.UpdatedAt = now

	query := `
		INSERT INTO alert_rules (user_id, name, alert_type, metric_type, threshold_value, threshold_operator, severity, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		ar.UserID, ar.Name, ar.AlertType, ar.MetricType, ar.ThresholdValue,
		string(ar.ThresholdOperator), string(ar.Severity), ar.Enabled,
		now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, errors.DatabaseError("Failed to create rule", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.DatabaseError("Failed to get rule ID", err)
	}
	ar.ID = id

	return id, nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*rule.AlertRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_rules WHERE id = ?`, ruleColumns)

	ar, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Rule")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get rule", err)
	}

	return ar, nil
}

func (r *RuleRepository) Update(ctx context.Context, ar *rule.AlertRule) error {
	ar.UpdatedAt = time.Now()

	query := `
		UPDATE alert_rules
		SET name = ?, alert_type = ?, metric_type = ?, threshold_value = ?, threshold_operator = ?, severity = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		ar.Name, ar.AlertType, ar.MetricType, ar.ThresholdValue,
		string(ar.ThresholdOperator), string(ar.Severity), ar.Enabled,
		ar.UpdatedAt.UTC().Format(time.RFC3339), ar.ID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to update rule", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Rule")
	}

	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return errors.DatabaseError("Failed to delete rule", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Rule")
	}

	return nil
}

func (r *RuleRepository) List(ctx context.Context, userID int64, filter rule.Filter, limit, offset int) ([]*rule.AlertRule, int64, error) {
	// Owned rules plus global rules are visible
	where := []string{"(user_id = ? OR user_id IS NULL)"}
	args := []interface{}{userID}

	if filter.AlertType != "" {
		where = append(where, "alert_type = ?")
		args = append(args, filter.AlertType)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM alert_rules WHERE %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.DatabaseError("Failed to count rules", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM alert_rules WHERE %s ORDER BY id DESC LIMIT ? OFFSET ?
	`, ruleColumns, whereClause)

	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.DatabaseError("Failed to list rules", err)
	}
	defer rows.Close()

	rules := make([]*rule.AlertRule, 0, limit)
	for rows.Next() {
		ar, err := scanRule(rows)
		if err != nil {
			return nil, 0, errors.DatabaseError("Failed to scan rule", err)
		}
		rules = append(rules, ar)
	}

	return rules, total, rows.Err()
}

func (r *RuleRepository) ListEnabled(ctx context.Context) ([]*rule.AlertRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_rules WHERE enabled = ? ORDER BY id`, ruleColumns)

	rows, err := r.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list enabled rules", err)
	}
	defer rows.Close()

	var rules []*rule.AlertRule
	for rows.Next() {
		ar, err := scanRule(rows)
		if err != nil {
			return nil, errors.DatabaseError("Failed to scan rule", err)
		}
		rules = append(rules, ar)
	}

	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*rule.AlertRule, error) {
	var ar rule.AlertRule
	var operator, severity string
	var createdAt, updatedAt string

	err := row.Scan(
		&ar.ID, &ar.UserID, &ar.Name, &ar.AlertType, &ar.MetricType,
		&ar.ThresholdValue, &operator, &severity, &ar.Enabled,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ar.ThresholdOperator = rule.Operator(operator)
	ar.Severity = rule.Severity(severity)
	ar.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	ar.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &ar, nil
}
