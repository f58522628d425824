package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sparrowvision/accessgov/internal/models"
)

func TestShouldNotify(t *testing.T) {
	s := NewService(Config{}, nil)

	tests := []struct {
		actual  models.ViolationSeverity
		minimum models.ViolationSeverity
		want    bool
	}{
		{models.SeverityCritical, models.SeverityHigh, true},
		{models.SeverityHigh, models.SeverityHigh, true},
		{models.SeverityMedium, models.SeverityHigh, false},
		{models.SeverityLow, models.SeverityCritical, false},
		{models.SeverityLow, models.SeverityLow, true},
	}

	for _, tt := range tests {
		if got := s.shouldNotify(tt.actual, tt.minimum); got != tt.want {
			t.Errorf("shouldNotify(%s, %s) = %v, want %v", tt.actual, tt.minimum, got, tt.want)
		}
	}
}

func TestSendSlackPayload(t *testing.T) {
	var payload SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewService(Config{
		Slack: SlackConfig{
			Enabled:     true,
			WebhookURL:  srv.URL,
			Channel:     "#governance",
			Username:    "Access Governance Bot",
			MinSeverity: models.SeverityLow,
		},
	}, nil)

	notif := &Notification{
		Type:     NotifyViolation,
		Title:    "New CRITICAL Policy Violation",
		Message:  "External domain access detected",
		Severity: models.SeverityCritical,
		Data: map[string]interface{}{
			"user_email": "x@external.com",
			"tool":       "GitHub",
		},
		Timestamp: time.Now(),
	}

	if err := s.Send(context.Background(), notif); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if payload.Channel != "#governance" {
		t.Errorf("Channel = %q", payload.Channel)
	}
	if len(payload.Attachments) != 1 {
		t.Fatalf("Attachments = %d, want 1", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Title != notif.Title {
		t.Errorf("Title = %q", att.Title)
	}
	if att.Color != "#FF0000" {
		t.Errorf("Color = %q, want red for critical", att.Color)
	}
	if len(att.Fields) != 2 {
		t.Errorf("Fields = %d, want user and tool", len(att.Fields))
	}
}

func TestSendSkipsBelowMinSeverity(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewService(Config{
		Slack: SlackConfig{
			Enabled:     true,
			WebhookURL:  srv.URL,
			MinSeverity: models.SeverityHigh,
		},
	}, nil)

	notif := &Notification{
		Type:     NotifySyncComplete,
		Title:    "Directory Sync Complete",
		Severity: models.SeverityLow,
	}

	if err := s.Send(context.Background(), notif); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if called {
		t.Error("webhook called for notification below min severity")
	}
}

func TestSendSlackErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewService(Config{
		Slack: SlackConfig{Enabled: true, WebhookURL: srv.URL, MinSeverity: models.SeverityLow},
	}, nil)

	err := s.Send(context.Background(), &Notification{
		Type:     NotifySyncFailed,
		Title:    "Directory Sync Failed",
		Severity: models.SeverityHigh,
	})
	if err == nil {
		t.Fatal("Send() error = nil, want error on non-200 webhook status")
	}
}

func TestUpdateSettingsPreservesSecrets(t *testing.T) {
	s := NewService(Config{
		Slack: SlackConfig{WebhookURL: "https://hooks.example.com/T/B/x"},
		Email: EmailConfig{Password: "smtp-secret"},
	}, nil)

	// A round-tripped Settings() payload has blanked secrets.
	updated := s.Settings()
	updated.Email.From = "alerts@example.com"
	updated.Slack.WebhookURL = ""
	s.UpdateSettings(updated)

	if s.config.Email.Password != "smtp-secret" {
		t.Errorf("Email.Password = %q, blank update must preserve secret", s.config.Email.Password)
	}
	if s.config.Slack.WebhookURL != "https://hooks.example.com/T/B/x" {
		t.Errorf("Slack.WebhookURL = %q, blank update must preserve URL", s.config.Slack.WebhookURL)
	}
	if s.config.Email.From != "alerts@example.com" {
		t.Errorf("Email.From = %q, update not applied", s.config.Email.From)
	}
}
