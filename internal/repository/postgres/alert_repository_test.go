package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
	"github.com/pratik-mahalle/vigil/internal/repository/postgres"
	"github.com/pratik-mahalle/vigil/internal/testutil"
)

func seedRuleRow(t *testing.T, repo rule.Repository, userID *int64) *rule.AlertRule {
	t.Helper()
	r := &rule.AlertRule{
		UserID:            userID,
		Name:              "High CPU",
		AlertType:         "system",
		MetricType:        "cpu_usage",
		ThresholdValue:    80,
		ThresholdOperator: rule.OpGreaterThan,
		Severity:          rule.SeverityHigh,
		Enabled:           true,
	}
	if _, err := repo.Create(context.Background(), r); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}
	return r
}

func newInstance(ruleID int64) *alert.Instance {
	return &alert.Instance{
		ID:          uuid.New().String(),
		RuleID:      ruleID,
		State:       alert.StateTriggered,
		Severity:    rule.SeverityHigh,
		TriggeredAt: time.Now(),
		MetricValue: 95,
	}
}

func TestAlertRepository_CreateEnforcesSingleActive(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	rules := postgres.NewRuleRepository(db)
	repo := postgres.NewAlertRepository(db)
	ctx := context.Background()

	r := seedRuleRow(t, rules, nil)

	first := newInstance(r.ID)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// A second active instance for the same rule is rejected
	second := newInstance(r.ID)
	if err := repo.Create(ctx, second); !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Errorf("Create() duplicate error = %v, want CONFLICT", err)
	}

	// Resolving the first frees the slot
	got, _ := repo.GetByID(ctx, first.ID)
	got.State = alert.StateResolved
	now := time.Now()
	got.ResolvedAt = &now
	got.ResolvedBy = alert.ResolvedBySystem
	if err := repo.UpdateConditional(ctx, got, got.Version); err != nil {
		t.Fatalf("UpdateConditional() error = %v", err)
	}
	if err := repo.Create(ctx, second); err != nil {
		t.Errorf("Create() after resolve error = %v", err)
	}
}

func TestAlertRepository_UpdateConditional(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	rules := postgres.NewRuleRepository(db)
	repo := postgres.NewAlertRepository(db)
	ctx := context.Background()

	r := seedRuleRow(t, rules, nil)
	inst := newInstance(r.ID)
	if err := repo.Create(ctx, inst); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, inst.ID)
	if got.Version != 1 {
		t.Fatalf("initial version = %d, want 1", got.Version)
	}

	got.State = alert.StateAcknowledged
	now := time.Now()
	got.AcknowledgedAt = &now
	got.AcknowledgedBy = "1"
	if err := repo.UpdateConditional(ctx, got, 1); err != nil {
		t.Fatalf("UpdateConditional() error = %v", err)
	}
	if got.Version != 2 {
		t.Errorf("version after update = %d, want 2", got.Version)
	}

	// A writer holding the old version loses
	stale := *got
	stale.State = alert.StateResolved
	if err := repo.UpdateConditional(ctx, &stale, 1); !errors.IsCode(err, errors.ErrCodeConcurrency) {
		t.Errorf("stale UpdateConditional() error = %v, want CONCURRENCY_ERROR", err)
	}

	reread, _ := repo.GetByID(ctx, inst.ID)
	if reread.State != alert.StateAcknowledged {
		t.Errorf("state = %v, the stale write must not land", reread.State)
	}
	if reread.AcknowledgedBy != "1" {
		t.Errorf("AcknowledgedBy = %q, want %q", reread.AcknowledgedBy, "1")
	}

	missing := newInstance(r.ID)
	missing.ID = uuid.New().String()
	if err := repo.UpdateConditional(ctx, missing, 1); !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("UpdateConditional() on missing error = %v, want NOT_FOUND", err)
	}
}

func TestAlertRepository_GetActiveByRule(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	rules := postgres.NewRuleRepository(db)
	repo := postgres.NewAlertRepository(db)
	ctx := context.Background()

	r := seedRuleRow(t, rules, nil)

	active, err := repo.GetActiveByRule(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetActiveByRule() error = %v", err)
	}
	if active != nil {
		t.Error("GetActiveByRule() = instance, want nil with no instances")
	}

	inst := newInstance(r.ID)
	repo.Create(ctx, inst)

	active, err = repo.GetActiveByRule(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetActiveByRule() error = %v", err)
	}
	if active == nil || active.ID != inst.ID {
		t.Errorf("GetActiveByRule() = %v, want %s", active, inst.ID)
	}
}

func TestAlertRepository_ListAndCounts(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	rules := postgres.NewRuleRepository(db)
	repo := postgres.NewAlertRepository(db)
	ctx := context.Background()

	owner := int64(1)
	mine := seedRuleRow(t, rules, &owner)
	other := int64(2)
	theirs := seedRuleRow(t, rules, &other)

	myInst := newInstance(mine.ID)
	repo.Create(ctx, myInst)
	theirInst := newInstance(theirs.ID)
	repo.Create(ctx, theirInst)

	// Owner scoping hides the other user's instances
	instances, total, err := repo.List(ctx, alert.Filter{OwnerID: &owner}, 20, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 || len(instances) != 1 {
		t.Fatalf("List() = %d instances, want 1", total)
	}
	if instances[0].ID != myInst.ID {
		t.Errorf("List() returned %s, want %s", instances[0].ID, myInst.ID)
	}

	counts, err := repo.CountByState(ctx, &owner)
	if err != nil {
		t.Fatalf("CountByState() error = %v", err)
	}
	if counts[alert.StateTriggered] != 1 {
		t.Errorf("triggered count = %d, want 1", counts[alert.StateTriggered])
	}

	bySeverity, err := repo.CountActiveBySeverity(ctx, &owner)
	if err != nil {
		t.Fatalf("CountActiveBySeverity() error = %v", err)
	}
	if bySeverity[rule.SeverityHigh] != 1 {
		t.Errorf("high severity count = %d, want 1", bySeverity[rule.SeverityHigh])
	}

	active, err := repo.CountActiveByRule(ctx, mine.ID)
	if err != nil {
		t.Fatalf("CountActiveByRule() error = %v", err)
	}
	if active != 1 {
		t.Errorf("CountActiveByRule() = %d, want 1", active)
	}
}

func TestAlertRepository_ListTriggeredBefore(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	rules := postgres.NewRuleRepository(db)
	repo := postgres.NewAlertRepository(db)
	ctx := context.Background()

	r := seedRuleRow(t, rules, nil)
	inst := newInstance(r.ID)
	inst.TriggeredAt = time.Now().Add(-30 * time.Minute)
	repo.Create(ctx, inst)

	stale, err := repo.ListTriggeredBefore(ctx, time.Now().Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("ListTriggeredBefore() error = %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("ListTriggeredBefore() = %d instances, want 1", len(stale))
	}

	// Acknowledged instances are not stale
	got := stale[0]
	got.State = alert.StateAcknowledged
	now := time.Now()
	got.AcknowledgedAt = &now
	got.AcknowledgedBy = "1"
	if err := repo.UpdateConditional(ctx, got, got.Version); err != nil {
		t.Fatalf("UpdateConditional() error = %v", err)
	}

	stale, _ = repo.ListTriggeredBefore(ctx, time.Now().Add(-15*time.Minute))
	if len(stale) != 0 {
		t.Errorf("ListTriggeredBefore() = %d instances after acknowledge, want 0", len(stale))
	}
}
