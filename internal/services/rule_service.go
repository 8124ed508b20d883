package services

import (
	"context"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/metric"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
	"github.com/pratik-mahalle/vigil/internal/pkg/utils"
	"github.com/pratik-mahalle/vigil/internal/pkg/validator"
)

// RuleService implements rule.Service
type RuleService struct {
	repo      rule.Repository
	instances alert.Repository
	provider  metric.Provider
	validate  *validator.Validator
	logger    *logger.Logger
}

// NewRuleService creates a new rule service
func NewRuleService(
	repo rule.Repository,
	instances alert.Repository,
	provider metric.Provider,
	log *logger.Logger,
) rule.Service {
	return &RuleService{
		repo:      repo,
		instances: instances,
		provider:  provider,
		validate:  validator.New(),
		logger:    log,
	}
}

// Create creates a new rule owned by userID
func (s *RuleService) Create(ctx context.Context, userID int64, r *rule.AlertRule) (int64, error) {
	if verrs := s.validate.Validate(r); len(verrs) > 0 {
		return 0, errors.Validation("invalid rule", verrs)
	}
	if !r.ThresholdOperator.IsValid() {
		return 0, errors.Validation("unknown threshold operator", string(r.ThresholdOperator))
	}
	if !r.Severity.IsValid() {
		return 0, errors.Validation("unknown severity", string(r.Severity))
	}

	if r.UserID == nil {
		r.UserID = &userID
	}

	id, err := s.repo.Create(ctx, r)
	if err != nil {
		s.logger.ErrorWithErr(err, "Failed to create rule")
		return 0, err
	}

	s.logger.WithFields(map[string]interface{}{
		"rule_id":     id,
		"user_id":     userID,
		"metric_type": r.MetricType,
		"severity":    r.Severity,
	}).Info("Alert rule created")

	return id, nil
}

// GetByID retrieves a rule visible to userID
func (s *RuleService) GetByID(ctx context.Context, userID int64, id int64) (*rule.AlertRule, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsGlobal() && !r.IsOwnedBy(userID) {
		return nil, errors.Authorization("rule belongs to another user")
	}
	return r, nil
}

// Update applies field updates to a rule
func (s *RuleService) Update(ctx context.Context, userID int64, id int64, updates map[string]interface{}) (*rule.AlertRule, error) {
	r, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if name, ok := updates["name"].(string); ok {
		r.Name = name
	}
	if alertType, ok := updates["alert_type"].(string); ok {
		r.AlertType = alertType
	}
	if metricType, ok := updates["metric_type"].(string); ok {
		r.MetricType = metricType
	}
	if threshold, ok := updates["threshold_value"].(float64); ok {
		r.ThresholdValue = threshold
	}
	if op, ok := updates["threshold_operator"].(string); ok {
		r.ThresholdOperator = rule.Operator(op)
	}
	if severity, ok := updates["severity"].(string); ok {
		r.Severity = rule.Severity(severity)
	}
	if enabled, ok := updates["enabled"].(bool); ok {
		r.Enabled = enabled
	}

	if verrs := s.validate.Validate(r); len(verrs) > 0 {
		return nil, errors.Validation("invalid rule", verrs)
	}
	if !r.ThresholdOperator.IsValid() {
		return nil, errors.Validation("unknown threshold operator", string(r.ThresholdOperator))
	}
	if !r.Severity.IsValid() {
		return nil, errors.Validation("unknown severity", string(r.Severity))
	}

	if err := s.repo.Update(ctx, r); err != nil {
		s.logger.ErrorWithErr(err, "Failed to update rule")
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"rule_id": id,
		"user_id": userID,
	}).Info("Alert rule updated")

	return r, nil
}

// Delete deletes a rule. Without cascade the delete is rejected while active
// instances reference the rule; with cascade the active instances are
// resolved by the system first. Historical resolved instances are preserved.
func (s *RuleService) Delete(ctx context.Context, userID int64, id int64, cascade bool) error {
	r, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}

	active, err := s.instances.CountActiveByRule(ctx, r.ID)
	if err != nil {
		return err
	}
	if active > 0 {
		if !cascade {
			return errors.Conflict("rule has active alert instances")
		}
		if err := s.resolveActive(ctx, r.ID); err != nil {
			return err
		}
	}

	if err := s.repo.Delete(ctx, r.ID); err != nil {
		s.logger.ErrorWithErr(err, "Failed to delete rule")
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"rule_id": id,
		"user_id": userID,
		"cascade": cascade,
	}).Info("Alert rule deleted")

	return nil
}

// resolveActive system-resolves the active instance of a rule before a
// cascading delete
func (s *RuleService) resolveActive(ctx context.Context, ruleID int64) error {
	inst, err := s.instances.GetActiveByRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}
	resolveInstance(inst, alert.ResolvedBySystem)
	if err := s.instances.UpdateConditional(ctx, inst, inst.Version); err != nil {
		// A concurrent manual resolve achieved the same outcome.
		if errors.IsCode(err, errors.ErrCodeConcurrency) {
			return nil
		}
		return err
	}
	return nil
}

// List retrieves rules with filters and pagination
func (s *RuleService) List(ctx context.Context, userID int64, filter rule.Filter, limit, offset int) ([]*rule.AlertRule, int64, error) {
	limit, offset = utils.ClampPagination(limit, offset)
	return s.repo.List(ctx, userID, filter, limit, offset)
}

// Test runs a dry-run evaluation against a supplied or live metric value.
// No instance is persisted and no notification is sent.
func (s *RuleService) Test(ctx context.Context, userID int64, id int64, params rule.TestParams) (*rule.TestResult, error) {
	r, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	var value float64
	if params.MetricValue != nil {
		value = *params.MetricValue
	} else {
		value, err = s.provider.CurrentValue(ctx, r.MetricType, "")
		if err != nil {
			return nil, errors.Upstream("metric provider", err)
		}
	}

	active, err := s.instances.GetActiveByRule(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	decision := rule.Evaluate(r, value, active != nil)
	return &rule.TestResult{
		RuleID:         r.ID,
		MetricValue:    value,
		ThresholdValue: r.ThresholdValue,
		Decision:       decision,
		WouldTrigger:   decision == rule.DecisionTriggerNew,
	}, nil
}
