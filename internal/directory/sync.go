package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

// SyncConfig configures the upstream IGA directory client.
type SyncConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	OrgID      string        `yaml:"org_id"`
	PageSize   int           `yaml:"page_size"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

func (c *SyncConfig) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// SyncStats summarizes one synchronization run.
type SyncStats struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	TotalUsers  int       `json:"total_users"`
	ActiveUsers int       `json:"active_users"`
	Suspended   int       `json:"suspended_users"`
	APICalls    int       `json:"api_calls"`
	RateLimited int       `json:"rate_limited"`
	ParseErrors int       `json:"parse_errors"`
}

// Syncer pulls the full user population from an IGA platform (JumpCloud,
// Okta and compatible APIs) and upserts it into the directory store.
type Syncer struct {
	config SyncConfig
	store  Store
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewSyncer(config SyncConfig, store Store, logger *slog.Logger) (*Syncer, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: directory sync base_url is required", models.ErrValidation)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: directory sync api_key is required", models.ErrValidation)
	}
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		config: config,
		store:  store,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
		now:    time.Now,
	}, nil
}

// Sync retrieves every user page by page and upserts each into the store.
// A user that fails to parse is counted and skipped; the run continues.
func (s *Syncer) Sync(ctx context.Context) (*SyncStats, error) {
	stats := &SyncStats{StartedAt: s.now()}
	cursor := ""
	page := 0

	for {
		page++
		body, err := s.fetchPage(ctx, cursor, stats)
		if err != nil {
			stats.FinishedAt = s.now()
			return stats, fmt.Errorf("fetching page %d: %w", page, err)
		}

		users, next, err := decodePage(body)
		if err != nil {
			stats.FinishedAt = s.now()
			return stats, fmt.Errorf("decoding page %d: %w", page, err)
		}

		for _, raw := range users {
			identity, err := s.parseUser(raw)
			if err != nil {
				stats.ParseErrors++
				s.logger.Error("failed to parse directory user", "page", page, "error", err)
				continue
			}
			if err := s.store.UpsertIdentity(ctx, identity); err != nil {
				stats.FinishedAt = s.now()
				return stats, fmt.Errorf("upserting %s: %w", identity.Email, err)
			}
			stats.TotalUsers++
			switch identity.Status {
			case models.IdentityActive:
				stats.ActiveUsers++
			case models.IdentitySuspended, models.IdentityExit:
				stats.Suspended++
			}
		}

		s.logger.Info("directory sync page processed", "page", page, "users", len(users))

		if next == "" || len(users) == 0 {
			break
		}
		cursor = next
	}

	stats.FinishedAt = s.now()
	s.logger.Info("directory sync complete",
		"total", stats.TotalUsers,
		"active", stats.ActiveUsers,
		"suspended", stats.Suspended,
		"api_calls", stats.APICalls,
		"rate_limited", stats.RateLimited,
		"parse_errors", stats.ParseErrors,
		"duration", stats.FinishedAt.Sub(stats.StartedAt))
	return stats, nil
}

// fetchPage requests one page of users, retrying on failure and honoring
// Retry-After on 429 responses.
func (s *Syncer) fetchPage(ctx context.Context, cursor string, stats *SyncStats) ([]byte, error) {
	endpoint := strings.TrimRight(s.config.BaseURL, "/") + "/systemusers"

	params := url.Values{}
	params.Set("limit", strconv.Itoa(s.config.PageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
		req.Header.Set("Accept", "application/json")
		if s.config.OrgID != "" {
			req.Header.Set("x-org-id", s.config.OrgID)
		}

		stats.APICalls++
		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			s.logger.Error("directory request failed", "attempt", attempt, "error", err)
			if !sleepCtx(ctx, s.config.RetryDelay*time.Duration(attempt)) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			stats.RateLimited++
			wait := s.config.RetryDelay
			if after := resp.Header.Get("Retry-After"); after != "" {
				if secs, err := strconv.Atoi(after); err == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			resp.Body.Close()
			s.logger.Warn("directory API rate limited", "retry_after", wait)
			if !sleepCtx(ctx, wait) {
				return nil, ctx.Err()
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("directory API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode >= 500 {
				if !sleepCtx(ctx, s.config.RetryDelay*time.Duration(attempt)) {
					return nil, ctx.Err()
				}
				continue
			}
			return nil, lastErr
		}
		return body, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", s.config.MaxRetries, lastErr)
}

// decodePage handles the response envelopes used by the supported IGA
// platforms: {"results": [...]}, {"data": [...]}, or a bare array.
func decodePage(body []byte) ([]map[string]interface{}, string, error) {
	var envelope struct {
		Results    []map[string]interface{} `json:"results"`
		Data       []map[string]interface{} `json:"data"`
		NextCursor string                   `json:"next_cursor"`
		NextCamel  string                   `json:"nextCursor"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && (envelope.Results != nil || envelope.Data != nil) {
		users := envelope.Results
		if users == nil {
			users = envelope.Data
		}
		cursor := envelope.NextCursor
		if cursor == "" {
			cursor = envelope.NextCamel
		}
		return users, cursor, nil
	}

	var bare []map[string]interface{}
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, "", fmt.Errorf("unrecognized response format: %w", err)
	}
	return bare, "", nil
}

// parseUser maps one raw API user document into an Identity. Field names
// vary across IGA platforms, so each attribute tries the known aliases.
func (s *Syncer) parseUser(raw map[string]interface{}) (*models.Identity, error) {
	email := strings.ToLower(stringField(raw, "email"))
	if email == "" {
		return nil, fmt.Errorf("user record missing email")
	}

	username := stringField(raw, "username", "login")
	if username == "" {
		username = email
	}

	displayName := stringField(raw, "displayname", "displayName")
	if displayName == "" {
		first := stringField(raw, "firstname", "firstName", "given_name")
		last := stringField(raw, "lastname", "lastName", "family_name")
		displayName = strings.TrimSpace(first + " " + last)
	}

	status := parseStatus(raw)
	login := loginField(raw, "lastLogin", "lastSignIn")
	groups := groupField(raw)

	now := s.now()

	// Exited identities carry an exit date; everyone else carries none. When
	// the platform does not report when the status changed, the sync time is
	// the best available bound.
	var exitDate *time.Time
	if status == models.IdentityExit {
		exitDate = timeField(raw, "statusChanged", "deactivatedAt")
		if exitDate == nil {
			exitDate = &now
		}
	}

	identity := &models.Identity{
		ID:          uuid.New(),
		Email:       email,
		Username:    username,
		DisplayName: displayName,
		Status:      status,
		Department:  stringField(raw, "department", "organization"),
		JobTitle:    stringField(raw, "jobTitle", "title"),
		EmployeeID:  stringField(raw, "employeeIdentifier", "employeeNumber"),
		Groups:      groups,
		RiskScore:   RiskScore(status, login, groups, now),
		LastLoginAt: login.At,
		ExitDate:    exitDate,
		SyncedAt:    &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return identity, nil
}

func parseStatus(raw map[string]interface{}) models.IdentityStatus {
	if activated, ok := raw["activated"].(bool); ok {
		if activated {
			return models.IdentityActive
		}
		return models.IdentitySuspended
	}
	if suspended, ok := raw["suspended"].(bool); ok {
		if suspended {
			return models.IdentitySuspended
		}
		return models.IdentityActive
	}
	switch strings.ToUpper(stringField(raw, "status")) {
	case "SUSPENDED":
		return models.IdentitySuspended
	case "DEPROVISIONED", "EXIT", "DEACTIVATED":
		return models.IdentityExit
	default:
		return models.IdentityActive
	}
}

func stringField(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func timeField(raw map[string]interface{}, keys ...string) *time.Time {
	return parseTimestamp(stringField(raw, keys...))
}

// loginField reads the last-login timestamp, keeping track of whether a
// reported value failed to parse so the risk model can tell the two apart.
func loginField(raw map[string]interface{}, keys ...string) LoginActivity {
	value := stringField(raw, keys...)
	if value == "" {
		return LoginActivity{}
	}
	if t := parseTimestamp(value); t != nil {
		return LoginActivity{At: t}
	}
	return LoginActivity{Malformed: true}
}

func parseTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func groupField(raw map[string]interface{}) models.StringArray {
	list, ok := raw["groups"].([]interface{})
	if !ok {
		return nil
	}
	var groups models.StringArray
	for _, item := range list {
		switch g := item.(type) {
		case string:
			groups = append(groups, g)
		case map[string]interface{}:
			if name, ok := g["name"].(string); ok {
				groups = append(groups, name)
			}
		}
	}
	return groups
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
