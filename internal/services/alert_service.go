package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/metric"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
	"github.com/pratik-mahalle/vigil/internal/pkg/metrics"
	"github.com/pratik-mahalle/vigil/internal/pkg/utils"
)

// Escalation windows: how long an instance may sit unacknowledged in the
// triggered state before each escalation step.
const (
	escalationWindowCritical = 15 * time.Minute
	escalationWindowHigh     = 30 * time.Minute
	escalationWindowDefault  = 60 * time.Minute
)

// Dispatcher hands new or escalated instances to the notification layer
type Dispatcher interface {
	Dispatch(ctx context.Context, inst *alert.Instance, r *rule.AlertRule) error
}

// AlertService implements alert.Service
type AlertService struct {
	rules      rule.Repository
	instances  alert.Repository
	provider   metric.Provider
	dispatcher Dispatcher
	workers    int
	logger     *logger.Logger
}

// NewAlertService creates a new alert lifecycle service
func NewAlertService(
	rules rule.Repository,
	instances alert.Repository,
	provider metric.Provider,
	dispatcher Dispatcher,
	workers int,
	log *logger.Logger,
) alert.Service {
	if workers < 1 {
		workers = 8
	}
	return &AlertService{
		rules:      rules,
		instances:  instances,
		provider:   provider,
		dispatcher: dispatcher,
		workers:    workers,
		logger:     log,
	}
}

// EvaluateAll evaluates every enabled rule against its current metric value.
// Rules are independent and evaluated concurrently on a bounded pool; one
// rule's failure is recorded in its evaluation record and never aborts the
// remaining rules.
func (s *AlertService) EvaluateAll(ctx context.Context) ([]alert.EvaluationRecord, error) {
	start := time.Now()

	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]alert.EvaluationRecord, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, r := range rules {
		i, r := i, r
		g.Go(func() error {
			records[i] = s.evaluateRule(gctx, r)
			return nil
		})
	}
	_ = g.Wait()

	metrics.RecordEvaluationSweep(time.Since(start))

	s.logger.WithFields(map[string]interface{}{
		"rules":    len(rules),
		"duration": time.Since(start).String(),
	}).Info("Evaluation sweep completed")

	return records, nil
}

// evaluateRule evaluates a single rule and commits the resulting transition
func (s *AlertService) evaluateRule(ctx context.Context, r *rule.AlertRule) alert.EvaluationRecord {
	rec := alert.EvaluationRecord{RuleID: r.ID, ThresholdValue: r.ThresholdValue}

	value, err := s.provider.CurrentValue(ctx, r.MetricType, "")
	if err != nil {
		rec.Error = errors.Upstream("metric provider", err).Error()
		metrics.RecordEvaluation("provider_error")
		s.logger.WithFields(map[string]interface{}{
			"rule_id":     r.ID,
			"metric_type": r.MetricType,
		}).ErrorWithErr(err, "Metric fetch failed for rule")
		return rec
	}
	rec.MetricValue = value

	active, err := s.instances.GetActiveByRule(ctx, r.ID)
	if err != nil {
		rec.Error = err.Error()
		metrics.RecordEvaluation("store_error")
		return rec
	}

	switch rule.Evaluate(r, value, active != nil) {
	case rule.DecisionTriggerNew:
		inst, err := s.triggerNew(ctx, r, value)
		if err != nil {
			rec.Error = err.Error()
			metrics.RecordEvaluation("trigger_error")
			return rec
		}
		rec.Triggered = true
		rec.InstanceID = inst.ID
		metrics.RecordEvaluation("triggered")

	case rule.DecisionAlreadyActive:
		// Track the freshest breaching value; losing the race to a manual
		// action is benign.
		active.MetricValue = value
		if err := s.instances.UpdateConditional(ctx, active, active.Version); err != nil &&
			!errors.IsCode(err, errors.ErrCodeConcurrency) {
			rec.Error = err.Error()
		}
		rec.Triggered = true
		rec.InstanceID = active.ID
		metrics.RecordEvaluation("already_active")

	case rule.DecisionClear:
		s.autoResolve(ctx, active)
		rec.InstanceID = active.ID
		metrics.RecordEvaluation("cleared")

	default:
		metrics.RecordEvaluation("none")
	}

	return rec
}

// triggerNew creates a new triggered instance and fans it out to the rule's
// channels. A conflict on create means a concurrent evaluation won the
// trigger race; the existing instance is reported instead.
func (s *AlertService) triggerNew(ctx context.Context, r *rule.AlertRule, value float64) (*alert.Instance, error) {
	now := time.Now()
	inst := &alert.Instance{
		ID:          uuid.New().String(),
		RuleID:      r.ID,
		State:       alert.StateTriggered,
		Severity:    r.Severity,
		TriggeredAt: now,
		MetricValue: value,
		Version:     1,
		CreatedAt:   now,
	}

	if err := s.instances.Create(ctx, inst); err != nil {
		if errors.IsCode(err, errors.ErrCodeConflict) {
			existing, gerr := s.instances.GetActiveByRule(ctx, r.ID)
			if gerr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	metrics.RecordAlertTriggered(string(r.Severity))

	s.logger.WithFields(map[string]interface{}{
		"rule_id":      r.ID,
		"instance_id":  inst.ID,
		"severity":     r.Severity,
		"metric_value": value,
	}).Info("Alert triggered")

	if err := s.dispatcher.Dispatch(ctx, inst, r); err != nil {
		// Delivery failures are retried by the notification layer; they
		// never fail the evaluation.
		s.logger.WithFields(map[string]interface{}{
			"instance_id": inst.ID,
		}).ErrorWithErr(err, "Notification dispatch failed")
	}

	return inst, nil
}

// autoResolve system-resolves an instance whose condition stopped holding.
// The conditional update keeps a concurrent manual action authoritative: if
// the version moved, the auto-resolve is abandoned.
func (s *AlertService) autoResolve(ctx context.Context, inst *alert.Instance) {
	resolveInstance(inst, alert.ResolvedBySystem)
	if err := s.instances.UpdateConditional(ctx, inst, inst.Version); err != nil {
		if errors.IsCode(err, errors.ErrCodeConcurrency) {
			s.logger.WithFields(map[string]interface{}{
				"instance_id": inst.ID,
			}).Debug("Auto-resolve abandoned, manual action won")
			return
		}
		s.logger.ErrorWithErr(err, "Failed to auto-resolve instance")
		return
	}

	metrics.RecordAlertResolved(alert.ResolvedBySystem)

	s.logger.WithFields(map[string]interface{}{
		"instance_id": inst.ID,
		"rule_id":     inst.RuleID,
	}).Info("Alert auto-resolved")
}

// resolveInstance applies the resolved state to an instance in memory
func resolveInstance(inst *alert.Instance, by string) {
	now := time.Now()
	inst.State = alert.StateResolved
	inst.ResolvedAt = &now
	inst.ResolvedBy = by
}

// Acknowledge transitions a triggered instance to acknowledged
func (s *AlertService) Acknowledge(ctx context.Context, userID int64, id string) (*alert.Instance, error) {
	inst, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if inst.State != alert.StateTriggered {
		return nil, errors.InvalidState(fmt.Sprintf("cannot acknowledge instance in state %s", inst.State))
	}

	now := time.Now()
	inst.State = alert.StateAcknowledged
	inst.AcknowledgedAt = &now
	inst.AcknowledgedBy = strconv.FormatInt(userID, 10)

	if err := s.instances.UpdateConditional(ctx, inst, inst.Version); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"instance_id": id,
		"user_id":     userID,
	}).Info("Alert acknowledged")

	return s.instances.GetByID(ctx, id)
}

// Resolve transitions a triggered or acknowledged instance to resolved.
// Resolving an already-resolved instance fails so callers can detect stale
// state.
func (s *AlertService) Resolve(ctx context.Context, userID int64, id string) (*alert.Instance, error) {
	inst, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if inst.State == alert.StateResolved {
		return nil, errors.InvalidState("instance is already resolved")
	}

	resolveInstance(inst, strconv.FormatInt(userID, 10))

	if err := s.instances.UpdateConditional(ctx, inst, inst.Version); err != nil {
		return nil, err
	}

	metrics.RecordAlertResolved("user")

	s.logger.WithFields(map[string]interface{}{
		"instance_id": id,
		"user_id":     userID,
	}).Info("Alert resolved")

	return s.instances.GetByID(ctx, id)
}

// BulkOperate applies an operation to a set of instances. Each instance is
// processed independently; partial failure is expected and reported per ID.
func (s *AlertService) BulkOperate(ctx context.Context, userID int64, ids []string, op alert.BulkOperation) []alert.BulkResult {
	results := make([]alert.BulkResult, 0, len(ids))

	for _, id := range ids {
		var err error
		switch op {
		case alert.BulkAcknowledge:
			_, err = s.Acknowledge(ctx, userID, id)
		case alert.BulkResolve:
			_, err = s.Resolve(ctx, userID, id)
		case alert.BulkDelete:
			err = s.deleteInstance(ctx, userID, id)
		default:
			err = errors.Validation("unknown bulk operation", string(op))
		}

		res := alert.BulkResult{ID: id, Success: err == nil}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}

	return results
}

// deleteInstance removes an instance after an ownership check
func (s *AlertService) deleteInstance(ctx context.Context, userID int64, id string) error {
	if _, err := s.GetByID(ctx, userID, id); err != nil {
		return err
	}
	return s.instances.Delete(ctx, id)
}

// GetByID retrieves an instance visible to userID. Visibility follows the
// owning rule: global rules' instances are readable by anyone.
func (s *AlertService) GetByID(ctx context.Context, userID int64, id string) (*alert.Instance, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r, err := s.rules.GetByID(ctx, inst.RuleID)
	if err != nil {
		// The rule was deleted; the historical instance remains visible.
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return inst, nil
		}
		return nil, err
	}
	if !r.IsGlobal() && !r.IsOwnedBy(userID) {
		return nil, errors.Authorization("alert instance belongs to another user")
	}

	return inst, nil
}

// List retrieves instances with filters and pagination
func (s *AlertService) List(ctx context.Context, userID int64, filter alert.Filter, limit, offset int) ([]*alert.Instance, int64, error) {
	limit, offset = utils.ClampPagination(limit, offset)
	filter.OwnerID = &userID
	return s.instances.List(ctx, filter, limit, offset)
}

// GetDashboard composes the aggregate alert view for a user
func (s *AlertService) GetDashboard(ctx context.Context, userID int64) (*alert.Dashboard, error) {
	counts, err := s.instances.CountByState(ctx, &userID)
	if err != nil {
		return nil, err
	}

	bySeverity, err := s.instances.CountActiveBySeverity(ctx, &userID)
	if err != nil {
		return nil, err
	}
	for sev, n := range bySeverity {
		metrics.SetActiveAlerts(string(sev), float64(n))
	}

	recent, _, err := s.instances.List(ctx, alert.Filter{OwnerID: &userID}, utils.DefaultPageSize, 0)
	if err != nil {
		return nil, err
	}

	return &alert.Dashboard{
		CountsByState:    counts,
		ActiveBySeverity: bySeverity,
		Recent:           recent,
	}, nil
}

// GetHistory retrieves resolved instances within a time range
func (s *AlertService) GetHistory(ctx context.Context, userID int64, filter alert.Filter, limit, offset int) ([]*alert.Instance, int64, error) {
	limit, offset = utils.ClampPagination(limit, offset)
	filter.OwnerID = &userID
	filter.State = alert.StateResolved
	return s.instances.List(ctx, filter, limit, offset)
}

// EscalateStale bumps the escalation level of instances left triggered
// beyond their severity's window and re-dispatches them to their channels.
// The escalation is CAS-guarded so a concurrent acknowledge wins.
func (s *AlertService) EscalateStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-escalationWindowCritical)
	stale, err := s.instances.ListTriggeredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var escalated int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, inst := range stale {
		inst := inst
		g.Go(func() error {
			if !s.escalateOne(gctx, inst) {
				return nil
			}
			mu.Lock()
			escalated++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return escalated, nil
}

// escalateOne escalates a single stale instance, reporting whether it did
func (s *AlertService) escalateOne(ctx context.Context, inst *alert.Instance) bool {
	window := escalationWindow(inst.Severity)
	elapsed := time.Since(inst.TriggeredAt)
	if elapsed < window*time.Duration(inst.EscalationLevel+1) {
		return false
	}

	inst.EscalationLevel++
	if err := s.instances.UpdateConditional(ctx, inst, inst.Version); err != nil {
		if !errors.IsCode(err, errors.ErrCodeConcurrency) {
			s.logger.ErrorWithErr(err, "Failed to escalate instance")
		}
		return false
	}

	metrics.RecordAlertEscalated()

	s.logger.WithFields(map[string]interface{}{
		"instance_id": inst.ID,
		"rule_id":     inst.RuleID,
		"level":       inst.EscalationLevel,
	}).Warn("Alert escalated")

	r, err := s.rules.GetByID(ctx, inst.RuleID)
	if err != nil {
		return true
	}
	if err := s.dispatcher.Dispatch(ctx, inst, r); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"instance_id": inst.ID,
		}).ErrorWithErr(err, "Escalation dispatch failed")
	}
	return true
}

// escalationWindow returns the severity's escalation window
func escalationWindow(sev rule.Severity) time.Duration {
	switch sev {
	case rule.SeverityCritical:
		return escalationWindowCritical
	case rule.SeverityHigh:
		return escalationWindowHigh
	default:
		return escalationWindowDefault
	}
}
