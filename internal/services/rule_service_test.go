package services

import (
	"context"
	"testing"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
	"github.com/pratik-mahalle/vigil/internal/testutil"
)

func newRuleServiceForTest() (rule.Service, *testutil.MockRuleRepository, *testutil.MockInstanceRepository, *testutil.MockMetricProvider) {
	rules := testutil.NewMockRuleRepository()
	instances := testutil.NewMockInstanceRepository()
	provider := testutil.NewMockMetricProvider()
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	svc := NewRuleService(rules, instances, provider, log)
	return svc, rules, instances, provider
}

func TestRuleService_Create(t *testing.T) {
	svc, _, _, _ := newRuleServiceForTest()
	ctx := context.Background()

	tests := []struct {
		name    string
		rule    *rule.AlertRule
		wantErr bool
	}{
		{
			name: "valid cpu rule",
			rule: &rule.AlertRule{
				Name:              "High CPU",
				AlertType:         "system",
				MetricType:        "cpu_usage",
				ThresholdValue:    80,
				ThresholdOperator: rule.OpGreaterThan,
				Severity:          rule.SeverityHigh,
				Enabled:           true,
			},
		},
		{
			name: "valid cost rule",
			rule: &rule.AlertRule{
				Name:              "Monthly spend",
				AlertType:         "cost",
				MetricType:        "monthly_cost",
				ThresholdValue:    1000,
				ThresholdOperator: rule.OpGreaterOrEqual,
				Severity:          rule.SeverityCritical,
				Enabled:           true,
			},
		},
		{
			name: "missing name",
			rule: &rule.AlertRule{
				AlertType:         "system",
				MetricType:        "cpu_usage",
				ThresholdOperator: rule.OpGreaterThan,
				Severity:          rule.SeverityHigh,
			},
			wantErr: true,
		},
		{
			name: "unknown operator",
			rule: &rule.AlertRule{
				Name:              "Broken",
				AlertType:         "system",
				MetricType:        "cpu_usage",
				ThresholdOperator: rule.Operator("~"),
				Severity:          rule.SeverityHigh,
			},
			wantErr: true,
		},
		{
			name: "unknown severity",
			rule: &rule.AlertRule{
				Name:              "Broken",
				AlertType:         "system",
				MetricType:        "cpu_usage",
				ThresholdOperator: rule.OpGreaterThan,
				Severity:          rule.Severity("catastrophic"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := svc.Create(ctx, 1, tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("Create() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if id == 0 {
					t.Error("Create() returned 0 id")
				}
				if tt.rule.UserID == nil || *tt.rule.UserID != 1 {
					t.Error("Create() did not default owner to caller")
				}
			}
		})
	}
}

func TestRuleService_GetByID_Visibility(t *testing.T) {
	svc, rules, _, _ := newRuleServiceForTest()
	ctx := context.Background()

	owner := int64(1)
	owned := &rule.AlertRule{
		UserID:            &owner,
		Name:              "Owned",
		AlertType:         "system",
		MetricType:        "cpu_usage",
		ThresholdOperator: rule.OpGreaterThan,
		Severity:          rule.SeverityLow,
	}
	global := &rule.AlertRule{
		Name:              "Global",
		AlertType:         "system",
		MetricType:        "cpu_usage",
		ThresholdOperator: rule.OpGreaterThan,
		Severity:          rule.SeverityLow,
	}
	ownedID, _ := rules.Create(ctx, owned)
	globalID, _ := rules.Create(ctx, global)

	if _, err := svc.GetByID(ctx, 1, ownedID); err != nil {
		t.Errorf("owner GetByID() error = %v", err)
	}
	if _, err := svc.GetByID(ctx, 2, ownedID); !errors.IsCode(err, errors.ErrCodeAuthorization) {
		t.Errorf("other user GetByID() error = %v, want AUTHORIZATION_ERROR", err)
	}
	// Global rules are readable by anyone
	if _, err := svc.GetByID(ctx, 2, globalID); err != nil {
		t.Errorf("GetByID() on global rule error = %v", err)
	}
	if _, err := svc.GetByID(ctx, 1, 999); !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("GetByID() on missing rule error = %v, want NOT_FOUND", err)
	}
}

func TestRuleService_Update(t *testing.T) {
	svc, _, _, _ := newRuleServiceForTest()
	ctx := context.Background()

	id, _ := svc.Create(ctx, 1, &rule.AlertRule{
		Name:              "High CPU",
		AlertType:         "system",
		MetricType:        "cpu_usage",
		ThresholdValue:    80,
		ThresholdOperator: rule.OpGreaterThan,
		Severity:          rule.SeverityHigh,
		Enabled:           true,
	})

	r, err := svc.Update(ctx, 1, id, map[string]interface{}{
		"threshold_value": 90.0,
		"severity":        "critical",
		"enabled":         false,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if r.ThresholdValue != 90 {
		t.Errorf("threshold = %v, want 90", r.ThresholdValue)
	}
	if r.Severity != rule.SeverityCritical {
		t.Errorf("severity = %v, want critical", r.Severity)
	}
	if r.Enabled {
		t.Error("rule still enabled")
	}

	if _, err := svc.Update(ctx, 1, id, map[string]interface{}{"severity": "catastrophic"}); !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Errorf("Update() with bad severity error = %v, want VALIDATION_ERROR", err)
	}
}

func TestRuleService_Delete(t *testing.T) {
	svc, _, instances, _ := newRuleServiceForTest()
	ctx := context.Background()

	id, _ := svc.Create(ctx, 1, &rule.AlertRule{
		Name:              "High CPU",
		AlertType:         "system",
		MetricType:        "cpu_usage",
		ThresholdValue:    80,
		ThresholdOperator: rule.OpGreaterThan,
		Severity:          rule.SeverityHigh,
		Enabled:           true,
	})

	inst := &alert.Instance{
		ID:          "inst-1",
		RuleID:      id,
		State:       alert.StateTriggered,
		Severity:    rule.SeverityHigh,
		TriggeredAt: time.Now(),
		MetricValue: 95,
	}
	if err := instances.Create(ctx, inst); err != nil {
		t.Fatalf("failed to seed instance: %v", err)
	}

	// Blocked while an active instance references the rule
	if err := svc.Delete(ctx, 1, id, false); !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Errorf("Delete() error = %v, want CONFLICT", err)
	}

	// Cascade resolves the active instance first
	if err := svc.Delete(ctx, 1, id, true); err != nil {
		t.Fatalf("cascade Delete() error = %v", err)
	}

	resolved, _ := instances.GetByID(ctx, "inst-1")
	if resolved.State != alert.StateResolved {
		t.Errorf("instance state = %v, want resolved after cascade", resolved.State)
	}
	if resolved.ResolvedBy != alert.ResolvedBySystem {
		t.Errorf("ResolvedBy = %q, want %q", resolved.ResolvedBy, alert.ResolvedBySystem)
	}
}

func TestRuleService_Test(t *testing.T) {
	svc, _, instances, provider := newRuleServiceForTest()
	ctx := context.Background()

	id, _ := svc.Create(ctx, 1, &rule.AlertRule{
		Name:              "High CPU",
		AlertType:         "system",
		MetricType:        "cpu_usage",
		ThresholdValue:    80,
		ThresholdOperator: rule.OpGreaterThan,
		Severity:          rule.SeverityHigh,
		Enabled:           true,
	})

	supplied := 95.0
	res, err := svc.Test(ctx, 1, id, rule.TestParams{MetricValue: &supplied})
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if !res.WouldTrigger || res.Decision != rule.DecisionTriggerNew {
		t.Errorf("Test() = %+v, want trigger_new", res)
	}
	// A dry run leaves no instance behind
	if len(instances.Instances) != 0 {
		t.Errorf("Test() persisted %d instances, want 0", len(instances.Instances))
	}

	provider.Set("cpu_usage", 40)
	res, err = svc.Test(ctx, 1, id, rule.TestParams{})
	if err != nil {
		t.Fatalf("Test() with live value error = %v", err)
	}
	if res.WouldTrigger || res.Decision != rule.DecisionNone {
		t.Errorf("Test() = %+v, want none", res)
	}
	if res.MetricValue != 40 {
		t.Errorf("Test() metric value = %v, want live 40", res.MetricValue)
	}
}
