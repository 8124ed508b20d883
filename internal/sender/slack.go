package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
)

// SlackSender delivers notifications to a Slack incoming webhook
type SlackSender struct {
	httpClient *http.Client
	// fallbackURL is used when the channel config carries no webhook URL
	fallbackURL string
	logger      *logger.Logger
}

// NewSlackSender creates a Slack sender with a per-attempt timeout
func NewSlackSender(timeout time.Duration, fallbackURL string, log *logger.Logger) *SlackSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackSender{
		httpClient:  &http.Client{Timeout: timeout},
		fallbackURL: fallbackURL,
		logger:      log,
	}
}

// Send implements Sender
func (s *SlackSender) Send(ctx context.Context, ch *notification.Channel, p Payload) error {
	var cfg notification.SlackConfig
	if len(ch.Config) > 0 {
		if err := json.Unmarshal(ch.Config, &cfg); err != nil {
			return fmt.Errorf("invalid slack channel config: %w", err)
		}
	}

	webhookURL := cfg.WebhookURL
	if webhookURL == "" {
		webhookURL = s.fallbackURL
	}
	if webhookURL == "" {
		return fmt.Errorf("no Slack webhook URL configured")
	}

	body, err := json.Marshal(buildSlackMessage(p, cfg.Channel))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Slack API error: %s", string(respBody))
	}

	s.logger.WithFields(map[string]interface{}{
		"channel_id":  ch.ID,
		"instance_id": p.InstanceID,
	}).Info("Slack notification sent")

	return nil
}

// buildSlackMessage builds a Slack attachment payload
func buildSlackMessage(p Payload, slackChannel string) map[string]interface{} {
	color := "#36a64f" // green
	switch p.Severity {
	case "critical":
		color = "#ff0000"
	case "high":
		color = "#ff8c00"
	case "medium":
		color = "#ffcc00"
	}

	title := fmt.Sprintf(":rotating_light: %s", p.RuleName)
	if p.EscalationLevel > 0 {
		title = fmt.Sprintf(":arrow_double_up: %s (escalation %d)", p.RuleName, p.EscalationLevel)
	}

	msg := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  title,
				"text":   p.Message,
				"footer": "Vigil",
				"ts":     time.Now().Unix(),
				"fields": []map[string]interface{}{
					{"title": "Severity", "value": p.Severity, "short": true},
					{"title": "Metric", "value": p.MetricType, "short": true},
					{"title": "Value", "value": fmt.Sprintf("%g %s %g", p.MetricValue, p.ThresholdOperator, p.ThresholdValue), "short": true},
				},
			},
		},
	}
	if slackChannel != "" {
		msg["channel"] = slackChannel
	}
	return msg
}
