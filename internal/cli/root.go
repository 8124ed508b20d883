package cli

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pratik-mahalle/vigil/internal/config"
	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/metric"
	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
	"github.com/pratik-mahalle/vigil/internal/pkg/validator"
	"github.com/pratik-mahalle/vigil/internal/repository/postgres"
	"github.com/pratik-mahalle/vigil/internal/sender"
	"github.com/pratik-mahalle/vigil/internal/services"
)

var (
	cfgFile      string
	outputFormat string
	actingUser   int64
	backend      *engineBackend
)

// engineBackend wires the service layer straight onto the engine database.
// The CLI is an administrative surface, there is no server between it and
// the store.
type engineBackend struct {
	db            *sql.DB
	rules         rule.Service
	alerts        alert.Service
	notifications notification.Service
}

func (b *engineBackend) Close() error {
	return b.db.Close()
}

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil CLI - threshold alerting engine administration",
	Long: `Vigil CLI manages alert rules, notification channels, and alert
instances directly against the engine database: define thresholds, wire
channels to rules, and acknowledge or resolve what fires.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Config commands work without a database
		if cmd.Parent() != nil && cmd.Parent().Name() == "config" {
			return nil
		}
		return initBackend()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if backend != nil {
			return backend.Close()
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.vigil/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().Int64VarP(&actingUser, "user", "u", 0, "acting user ID (overrides config)")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("user_id", rootCmd.PersistentFlags().Lookup("user"))

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newRuleCmd())
	rootCmd.AddCommand(newAlertCmd())
	rootCmd.AddCommand(newChannelCmd())
	rootCmd.AddCommand(newDeliveryCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.vigil")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetEnvPrefix("VIGIL")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

func initBackend() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Keep engine logging out of command output
	log := logger.New(logger.Config{Level: "error", Format: "console"})

	db, err := postgres.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	ruleRepo := postgres.NewRuleRepository(db)
	alertRepo := postgres.NewAlertRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

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

	policy := notification.RetryPolicy{
		MaxAttempts:  cfg.Alerting.MaxAttempts,
		BaseInterval: cfg.Alerting.BackoffBase,
		MaxInterval:  cfg.Alerting.BackoffCap,
	}
	provider := metric.NewStaticProvider()
	notificationService := services.NewNotificationService(
		notificationRepo, ruleRepo, registry, policy,
		cfg.Alerting.SendTimeout, validator.New(), log,
	)
	alertService := services.NewAlertService(
		ruleRepo, alertRepo, provider, notificationService,
		cfg.Alerting.EvaluationWorkers, log,
	)

	backend = &engineBackend{
		db:            db,
		rules:         services.NewRuleService(ruleRepo, alertRepo, provider, log),
		alerts:        alertService,
		notifications: notificationService,
	}
	return nil
}

// userID resolves the acting user: the --user flag wins, then the config
// file, then user 1.
func userID() int64 {
	if actingUser != 0 {
		return actingUser
	}
	if id := viper.GetInt64("user_id"); id != 0 {
		return id
	}
	return 1
}
