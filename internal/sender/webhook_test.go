package sender

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/logger"
)

func testPayload() Payload {
	return Payload{
		InstanceID:        "inst-1",
		RuleName:          "High CPU",
		AlertType:         "system",
		Severity:          "high",
		State:             "triggered",
		MetricType:        "cpu_usage",
		MetricValue:       95,
		ThresholdOperator: ">",
		ThresholdValue:    80,
		TriggeredAt:       time.Now(),
		Message:           "High CPU: cpu_usage > 80 (current value 95)",
	}
}

func webhookChannel(url, secret string) *notification.Channel {
	cfg, _ := json.Marshal(notification.WebhookConfig{URL: url, Secret: secret})
	return &notification.Channel{
		ID:      1,
		Name:    "Ops",
		Type:    notification.ChannelWebhook,
		Config:  cfg,
		Enabled: true,
	}
}

func TestWebhookSender_Send(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: "json"})

	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(time.Second, log)
	if err := s.Send(context.Background(), webhookChannel(srv.URL, "s3cret"), testPayload()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", gotHeaders.Get("Content-Type"))
	}
	if gotHeaders.Get("X-Vigil-Alert") != "inst-1" {
		t.Errorf("X-Vigil-Alert = %q, want inst-1", gotHeaders.Get("X-Vigil-Alert"))
	}

	// The signature must verify against the delivered body
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got := gotHeaders.Get("X-Vigil-Signature"); got != want {
		t.Errorf("X-Vigil-Signature = %q, want %q", got, want)
	}

	var decoded Payload
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("delivered body is not valid JSON: %v", err)
	}
	if decoded.InstanceID != "inst-1" || decoded.MetricValue != 95 {
		t.Errorf("delivered payload = %+v", decoded)
	}
}

func TestWebhookSender_SendWithoutSecret(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: "json"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vigil-Signature") != "" {
			t.Error("signature present without a channel secret")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(time.Second, log)
	if err := s.Send(context.Background(), webhookChannel(srv.URL, ""), testPayload()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: "json"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSender(time.Second, log)
	if err := s.Send(context.Background(), webhookChannel(srv.URL, ""), testPayload()); err == nil {
		t.Error("Send() should fail on a 5xx response")
	}
}

func TestWebhookSender_MissingURL(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	s := NewWebhookSender(time.Second, log)

	ch := &notification.Channel{
		Type:   notification.ChannelWebhook,
		Config: json.RawMessage(`{}`),
	}
	if err := s.Send(context.Background(), ch, testPayload()); err == nil {
		t.Error("Send() should fail without a URL")
	}
}

func TestSlackSender_Send(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: "json"})

	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg, _ := json.Marshal(notification.SlackConfig{WebhookURL: srv.URL, Channel: "#alerts"})
	ch := &notification.Channel{ID: 2, Type: notification.ChannelSlack, Config: cfg}

	s := NewSlackSender(time.Second, "", log)
	if err := s.Send(context.Background(), ch, testPayload()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got["channel"] != "#alerts" {
		t.Errorf("channel = %v, want #alerts", got["channel"])
	}
	attachments, ok := got["attachments"].([]interface{})
	if !ok || len(attachments) != 1 {
		t.Fatalf("attachments = %v", got["attachments"])
	}
	att := attachments[0].(map[string]interface{})
	if att["color"] != "#ff8c00" {
		t.Errorf("color = %v, want high severity orange", att["color"])
	}
}

func TestSlackSender_FallbackURL(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: "json"})

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := &notification.Channel{Type: notification.ChannelSlack, Config: json.RawMessage(`{}`)}

	s := NewSlackSender(time.Second, srv.URL, log)
	if err := s.Send(context.Background(), ch, testPayload()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !called {
		t.Error("fallback webhook URL was not used")
	}

	// No config URL and no fallback is an error
	bare := NewSlackSender(time.Second, "", log)
	if err := bare.Send(context.Background(), ch, testPayload()); err == nil {
		t.Error("Send() should fail without any webhook URL")
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry(map[notification.ChannelType]Sender{})
	ch := &notification.Channel{Type: notification.ChannelType("pager")}
	if err := r.Send(context.Background(), ch, testPayload()); err == nil {
		t.Error("Send() should fail for an unregistered channel type")
	}
}
