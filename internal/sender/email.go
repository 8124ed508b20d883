package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
)

// EmailOptions configures the SMTP transport shared by all email channels
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailSender delivers notifications over SMTP. Recipient addresses come
// from the channel's stored configuration.
type EmailSender struct {
	opts   EmailOptions
	logger *logger.Logger
}

// NewEmailSender creates an email sender
func NewEmailSender(opts EmailOptions, log *logger.Logger) *EmailSender {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &EmailSender{opts: opts, logger: log}
}

// Send implements Sender
func (s *EmailSender) Send(ctx context.Context, ch *notification.Channel, p Payload) error {
	var cfg notification.EmailConfig
	if err := json.Unmarshal(ch.Config, &cfg); err != nil {
		return fmt.Errorf("invalid email channel config: %w", err)
	}
	if len(cfg.To) == 0 {
		return fmt.Errorf("no recipients configured")
	}
	if s.opts.Host == "" {
		return fmt.Errorf("no SMTP host configured")
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(p.Severity), p.RuleName)
	if p.EscalationLevel > 0 {
		subject = fmt.Sprintf("[%s][ESCALATED x%d] %s", strings.ToUpper(p.Severity), p.EscalationLevel, p.RuleName)
	}
	msg := buildEmailMessage(s.opts.From, cfg.To, subject, p)

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	var auth smtp.Auth
	if s.opts.Username != "" {
		auth = smtp.PlainAuth("", s.opts.Username, s.opts.Password, s.opts.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.opts.From, cfg.To, msg)
	}()

	// net/smtp has no context support, so bound the attempt ourselves
	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
	case <-timer.C:
		return fmt.Errorf("smtp send timed out after %s", s.opts.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.WithFields(map[string]interface{}{
		"channel_id":  ch.ID,
		"instance_id": p.InstanceID,
		"recipients":  len(cfg.To),
	}).Info("Email notification sent")

	return nil
}

func buildEmailMessage(from string, to []string, subject string, p Payload) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(p.Message + "\r\n\r\n")
	fmt.Fprintf(&b, "Metric: %s\r\n", p.MetricType)
	fmt.Fprintf(&b, "Observed value: %g (threshold %s %g)\r\n", p.MetricValue, p.ThresholdOperator, p.ThresholdValue)
	fmt.Fprintf(&b, "Triggered at: %s\r\n", p.TriggeredAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Alert instance: %s\r\n", p.InstanceID)
	return []byte(b.String())
}
