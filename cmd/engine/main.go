package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pratik-mahalle/vigil/internal/config"
	"github.com/pratik-mahalle/vigil/internal/domain/metric"
	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
	"github.com/pratik-mahalle/vigil/internal/pkg/metrics"
	"github.com/pratik-mahalle/vigil/internal/pkg/validator"
	"github.com/pratik-mahalle/vigil/internal/repository/postgres"
	"github.com/pratik-mahalle/vigil/internal/sender"
	"github.com/pratik-mahalle/vigil/internal/services"
	"github.com/pratik-mahalle/vigil/internal/worker"
	"github.com/pratik-mahalle/vigil/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	db, err := postgres.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, migrations.GetFS()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	ruleRepo := postgres.NewRuleRepository(db)
	alertRepo := postgres.NewAlertRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Metric values are pushed by an external collector
	provider := metric.NewStaticProvider()

	// Channel senders
	registry := sender.NewRegistry(map[notification.ChannelType]sender.Sender{
		notification.ChannelEmail: sender.NewEmailSender(sender.EmailOptions{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.Alerting.SendTimeout,
		}, log),
		notification.ChannelWebhook: sender.NewWebhookSender(cfg.Alerting.SendTimeout, log),
		notification.ChannelSlack:   sender.NewSlackSender(cfg.Alerting.SendTimeout, cfg.Slack.WebhookURL, log),
	})

	// Services
	policy := notification.RetryPolicy{
		MaxAttempts:  cfg.Alerting.MaxAttempts,
		BaseInterval: cfg.Alerting.BackoffBase,
		MaxInterval:  cfg.Alerting.BackoffCap,
	}
	notificationService := services.NewNotificationService(
		notificationRepo, ruleRepo, registry, policy,
		cfg.Alerting.SendTimeout, validator.New(), log,
	)
	alertService := services.NewAlertService(
		ruleRepo, alertRepo, provider, notificationService,
		cfg.Alerting.EvaluationWorkers, log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := worker.NewSweeper(alertService, notificationService, cfg.Alerting, log)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatalf("Failed to start sweeper: %v", err)
	}

	// Operational endpoints
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("Operational server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Operational server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithErr(err, "Operational server shutdown failed")
	}

	log.Info("Shutdown complete")
}
