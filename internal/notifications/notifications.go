package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/sparrowvision/accessgov/internal/models"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotifyViolation       NotificationType = "violation_detected"
	NotifyReviewCreated   NotificationType = "review_created"
	NotifyReviewCompleted NotificationType = "review_completed"
	NotifyExitAccess      NotificationType = "exit_access_found"
	NotifySyncComplete    NotificationType = "sync_complete"
	NotifySyncFailed      NotificationType = "sync_failed"
)

// Channel defines notification channels
type Channel string

const (
	ChannelSlack Channel = "slack"
	ChannelEmail Channel = "email"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Severity  models.ViolationSeverity
	Data      map[string]interface{}
	Timestamp time.Time
}

// Config holds notification configuration
type Config struct {
	Slack SlackConfig
	Email EmailConfig
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	IconEmoji   string
	Enabled     bool
	MinSeverity models.ViolationSeverity // Minimum severity to notify
}

// EmailConfig holds email configuration
type EmailConfig struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	From        string
	To          []string
	Enabled     bool
	MinSeverity models.ViolationSeverity
}

// Service handles notifications
type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// NewService creates a new notification service
func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Settings returns the current channel configuration with secrets blanked.
func (s *Service) Settings() Config {
	cfg := s.config
	cfg.Email.Password = ""
	return cfg
}

// UpdateSettings replaces the channel configuration. Blank secrets keep
// their current values so a round-tripped Settings() payload works.
func (s *Service) UpdateSettings(cfg Config) {
	if cfg.Email.Password == "" {
		cfg.Email.Password = s.config.Email.Password
	}
	if cfg.Slack.WebhookURL == "" {
		cfg.Slack.WebhookURL = s.config.Slack.WebhookURL
	}
	s.config = cfg
}

// Send sends a notification to all enabled channels
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	var errs []error

	if s.config.Slack.Enabled && s.shouldNotify(notif.Severity, s.config.Slack.MinSeverity) {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled && s.shouldNotify(notif.Severity, s.config.Email.MinSeverity) {
		if err := s.sendEmail(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}

	return nil
}

// shouldNotify checks if notification should be sent based on severity
func (s *Service) shouldNotify(actual, minimum models.ViolationSeverity) bool {
	severityOrder := map[models.ViolationSeverity]int{
		models.SeverityLow:      1,
		models.SeverityMedium:   2,
		models.SeverityHigh:     3,
		models.SeverityCritical: 4,
	}

	return severityOrder[actual] >= severityOrder[minimum]
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// sendSlack sends a notification to Slack
func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	color := s.severityToColor(notif.Severity)

	fields := []SlackField{}
	if notif.Data != nil {
		if user, ok := notif.Data["user_email"].(string); ok {
			fields = append(fields, SlackField{
				Title: "User",
				Value: user,
				Short: true,
			})
		}
		if tool, ok := notif.Data["tool"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Tool",
				Value: tool,
				Short: true,
			})
		}
		if policy, ok := notif.Data["policy"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Policy",
				Value: policy,
				Short: true,
			})
		}
		if severity, ok := notif.Data["severity"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Severity",
				Value: severity,
				Short: true,
			})
		}
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "Access Governance",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", notif.Type,
		"title", notif.Title)

	return nil
}

// severityToColor converts severity to Slack color
func (s *Service) severityToColor(severity models.ViolationSeverity) string {
	switch severity {
	case models.SeverityCritical:
		return "#FF0000" // Red
	case models.SeverityHigh:
		return "#FFA500" // Orange
	case models.SeverityMedium:
		return "#FFFF00" // Yellow
	default:
		return "#36A64F" // Green
	}
}

// sendEmail sends a notification via email
func (s *Service) sendEmail(ctx context.Context, notif *Notification) error {
	subject := fmt.Sprintf("[Access Governance] %s", notif.Title)
	body, err := s.formatEmailBody(notif)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	err = smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg))
	if err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", notif.Type,
		"title", notif.Title,
		"recipients", len(s.config.Email.To))

	return nil
}

// buildEmailMessage builds an email message
func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

// formatEmailBody formats the email body
func (s *Service) formatEmailBody(notif *Notification) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { padding: 20px; background: {{.HeaderColor}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .severity { display: inline-block; padding: 4px 8px; border-radius: 4px; font-weight: bold; background: {{.SeverityColor}}; color: white; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 30%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2 style="margin:0;">{{.Title}}</h2>
        </div>
        <div class="content">
            <p>{{.Message}}</p>
            <p>Severity: <span class="severity">{{.Severity}}</span></p>
            {{if .HasData}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr>
                    <td>{{$key}}</td>
                    <td>{{$value}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>This is an automated alert from the access governance system.</p>
            <p>Generated at: {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>
`
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}

	headerColor := "#2196F3" // Default blue
	severityColor := s.severityToColor(notif.Severity)

	switch notif.Severity {
	case models.SeverityCritical:
		headerColor = "#F44336"
	case models.SeverityHigh:
		headerColor = "#FF9800"
	case models.SeverityMedium:
		headerColor = "#FFC107"
	}

	data := map[string]interface{}{
		"Title":         notif.Title,
		"Message":       notif.Message,
		"Severity":      string(notif.Severity),
		"HeaderColor":   headerColor,
		"SeverityColor": severityColor,
		"Data":          notif.Data,
		"HasData":       len(notif.Data) > 0,
		"Timestamp":     notif.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// NotifyViolationDetected sends a notification for a new policy violation
func (s *Service) NotifyViolationDetected(ctx context.Context, violation *models.PolicyViolation) error {
	notif := &Notification{
		Type:     NotifyViolation,
		Title:    fmt.Sprintf("New %s Policy Violation", violation.Severity),
		Message:  violation.Description,
		Severity: violation.Severity,
		Data: map[string]interface{}{
			"violation_id": violation.ID,
			"policy":       violation.PolicyName,
			"user_email":   violation.UserEmail,
			"type":         violation.ViolationType,
			"severity":     string(violation.Severity),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyReviewLifecycle sends a notification on review creation or completion
func (s *Service) NotifyReviewLifecycle(ctx context.Context, review *models.AccessReview, completed bool) error {
	notifType := NotifyReviewCreated
	title := "Access Review Created"
	message := fmt.Sprintf("Review %q (%s) was created by %s", review.Title, review.Type, review.CreatedBy)
	if completed {
		notifType = NotifyReviewCompleted
		title = "Access Review Completed"
		message = fmt.Sprintf("Review %q completed: %d/%d reviewed, %d flagged, %d removed",
			review.Title, review.ReviewedItems, review.TotalItems, review.FlaggedItems, review.RemovedItems)
	}

	notif := &Notification{
		Type:     notifType,
		Title:    title,
		Message:  message,
		Severity: models.SeverityLow,
		Data: map[string]interface{}{
			"review_id": review.ID,
			"type":      string(review.Type),
			"status":    string(review.Status),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyExitAccessFound alerts on lingering access held by exited employees.
func (s *Service) NotifyExitAccessFound(ctx context.Context, userEmail string, toolCount int, risk models.RiskLevel) error {
	severity := models.SeverityMedium
	if risk == models.RiskHigh {
		severity = models.SeverityHigh
	}

	notif := &Notification{
		Type:     NotifyExitAccess,
		Title:    "Lingering Access for Exited Employee",
		Message:  fmt.Sprintf("%s still holds access to %d tools (risk: %s)", userEmail, toolCount, risk),
		Severity: severity,
		Data: map[string]interface{}{
			"user_email": userEmail,
			"tool_count": toolCount,
			"risk":       string(risk),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// SyncStats holds directory sync statistics for notifications
type SyncStats struct {
	TotalUsers  int
	ActiveUsers int
	ParseErrors int
	Duration    time.Duration
}

// NotifySyncComplete sends a notification when a directory sync completes
func (s *Service) NotifySyncComplete(ctx context.Context, stats SyncStats) error {
	severity := models.SeverityLow
	if stats.ParseErrors > 0 {
		severity = models.SeverityMedium
	}

	notif := &Notification{
		Type:     NotifySyncComplete,
		Title:    "Directory Sync Completed",
		Message:  fmt.Sprintf("Synced %d users (%d active)", stats.TotalUsers, stats.ActiveUsers),
		Severity: severity,
		Data: map[string]interface{}{
			"total_users":  stats.TotalUsers,
			"active_users": stats.ActiveUsers,
			"parse_errors": stats.ParseErrors,
			"duration":     stats.Duration.String(),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifySyncFailed sends a notification when a directory sync fails
func (s *Service) NotifySyncFailed(ctx context.Context, err error) error {
	notif := &Notification{
		Type:     NotifySyncFailed,
		Title:    "Directory Sync Failed",
		Message:  err.Error(),
		Severity: models.SeverityHigh,
		Data: map[string]interface{}{
			"error": err.Error(),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}
