package sender

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
)

// WebhookSender delivers notifications as JSON POST requests. Payloads are
// signed with HMAC-SHA256 when the channel carries a secret.
type WebhookSender struct {
	httpClient *http.Client
	logger     *logger.Logger
}

// NewWebhookSender creates a webhook sender with a per-attempt timeout
func NewWebhookSender(timeout time.Duration, log *logger.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// Send implements Sender
func (s *WebhookSender) Send(ctx context.Context, ch *notification.Channel, p Payload) error {
	var cfg notification.WebhookConfig
	if err := json.Unmarshal(ch.Config, &cfg); err != nil {
		return fmt.Errorf("invalid webhook channel config: %w", err)
	}
	if cfg.URL == "" {
		return fmt.Errorf("no webhook URL configured")
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vigil-Alert", p.InstanceID)
	req.Header.Set("X-Vigil-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if cfg.Secret != "" {
		req.Header.Set("X-Vigil-Signature", signPayload(body, cfg.Secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned error status %d: %s", resp.StatusCode, string(respBody))
	}

	s.logger.WithFields(map[string]interface{}{
		"channel_id":  ch.ID,
		"instance_id": p.InstanceID,
		"status":      resp.StatusCode,
	}).Info("Webhook delivered")

	return nil
}

// signPayload signs the payload with HMAC-SHA256
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
