package google

import (
	"context"
	"fmt"
	"time"

	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"

	"github.com/sparrowvision/accessgov/internal/connectors"
	"github.com/sparrowvision/accessgov/internal/models"
)

func init() {
	connectors.Register("google", func(ctx context.Context, toolName string, cfg models.JSONB) (connectors.Connector, error) {
		return New(ctx, Config{
			ToolName:         toolName,
			Domain:           connectors.StringOption(cfg, "domain"),
			CredentialsJSON:  connectors.StringOption(cfg, "credentials_json"),
			ImpersonateAdmin: connectors.StringOption(cfg, "impersonate_admin"),
		})
	})
}

// Connector reads the user list of a Google Workspace domain through the
// Admin SDK Directory API.
type Connector struct {
	toolName string
	domain   string
	service  *admin.Service
}

type Config struct {
	ToolName         string
	Domain           string
	CredentialsJSON  string
	ImpersonateAdmin string
}

func New(ctx context.Context, cfg Config) (*Connector, error) {
	if cfg.Domain == "" {
		return nil, fmt.Errorf("%w: google connector requires a domain", models.ErrValidation)
	}

	opts := []option.ClientOption{
		option.WithScopes(admin.AdminDirectoryUserReadonlyScope),
	}
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	service, err := admin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating directory service: %w", err)
	}

	return &Connector{
		toolName: cfg.ToolName,
		domain:   cfg.Domain,
		service:  service,
	}, nil
}

func (c *Connector) Type() string {
	return "google"
}

func (c *Connector) Validate(ctx context.Context) error {
	_, err := c.service.Users.List().Domain(c.domain).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("validating directory access: %w", err)
	}
	return nil
}

func (c *Connector) Close() error {
	return nil
}

// FetchAccounts pages through the domain's users. Suspended and archived
// users are included so reconciliation can flag them against the directory.
func (c *Connector) FetchAccounts(ctx context.Context) ([]models.ToolAccountRecord, error) {
	var records []models.ToolAccountRecord
	pageToken := ""

	for {
		call := c.service.Users.List().Domain(c.domain).MaxResults(500).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("listing workspace users: %w", err)
		}

		for _, user := range resp.Users {
			record := models.ToolAccountRecord{
				ToolName: c.toolName,
				Email:    user.PrimaryEmail,
				Role:     workspaceRole(user),
			}
			if user.LastLoginTime != "" {
				if lastLogin, err := time.Parse(time.RFC3339, user.LastLoginTime); err == nil {
					record.LastAccessed = &lastLogin
				}
			}
			records = append(records, record)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return records, nil
}

func workspaceRole(user *admin.User) string {
	switch {
	case user.IsAdmin:
		return "admin"
	case user.IsDelegatedAdmin:
		return "delegated_admin"
	case user.Suspended:
		return "suspended"
	default:
		return "member"
	}
}
