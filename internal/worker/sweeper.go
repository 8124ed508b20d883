package worker

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/pratik-mahalle/vigil/internal/config"
	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
)

// Sweeper drives the periodic engine work: rule evaluation sweeps, delivery
// retry sweeps, and escalation of stale alerts
type Sweeper struct {
	alerts        alert.Service
	notifications notification.Service
	cfg           config.AlertingConfig
	cron          *cron.Cron
	logger        *logger.Logger
}

// NewSweeper creates a new sweeper worker
func NewSweeper(
	alerts alert.Service,
	notifications notification.Service,
	cfg config.AlertingConfig,
	log *logger.Logger,
) *Sweeper {
	return &Sweeper{
		alerts:        alerts,
		notifications: notifications,
		cfg:           cfg,
		// A slow sweep must not stack up behind itself
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: log,
	}
}

// Start registers the sweep schedules and starts the scheduler
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.EvaluationSchedule, func() { s.evaluate(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.RetrySchedule, func() { s.retry(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.EscalationSchedule, func() { s.escalate(ctx) }); err != nil {
		return err
	}

	s.cron.Start()

	s.logger.WithFields(map[string]interface{}{
		"evaluation": s.cfg.EvaluationSchedule,
		"retry":      s.cfg.RetrySchedule,
		"escalation": s.cfg.EscalationSchedule,
	}).Info("Sweeper started")

	return nil
}

// Stop stops the scheduler and waits for running sweeps to finish
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) evaluate(ctx context.Context) {
	records, err := s.alerts.EvaluateAll(ctx)
	if err != nil {
		s.logger.ErrorWithErr(err, "Evaluation sweep failed")
		return
	}

	triggered := 0
	for _, rec := range records {
		if rec.Triggered {
			triggered++
		}
	}
	if triggered > 0 {
		s.logger.WithFields(map[string]interface{}{
			"evaluated": len(records),
			"breaching": triggered,
		}).Info("Evaluation sweep found breaching rules")
	}
}

func (s *Sweeper) retry(ctx context.Context) {
	if _, err := s.notifications.RetryFailedDeliveries(ctx); err != nil {
		s.logger.ErrorWithErr(err, "Retry sweep failed")
	}
}

func (s *Sweeper) escalate(ctx context.Context) {
	count, err := s.alerts.EscalateStale(ctx)
	if err != nil {
		s.logger.ErrorWithErr(err, "Escalation sweep failed")
		return
	}
	if count > 0 {
		s.logger.WithFields(map[string]interface{}{
			"escalated": count,
		}).Info("Escalation sweep escalated stale alerts")
	}
}
