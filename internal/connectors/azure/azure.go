package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"

	"github.com/sparrowvision/accessgov/internal/connectors"
	"github.com/sparrowvision/accessgov/internal/models"
)

func init() {
	connectors.Register("azure", func(ctx context.Context, toolName string, cfg models.JSONB) (connectors.Connector, error) {
		return New(ctx, Config{
			ToolName:       toolName,
			TenantID:       connectors.StringOption(cfg, "tenant_id"),
			ClientID:       connectors.StringOption(cfg, "client_id"),
			ClientSecret:   connectors.StringOption(cfg, "client_secret"),
			SubscriptionID: connectors.StringOption(cfg, "subscription_id"),
		})
	})
}

// Connector reads role assignments from one Azure subscription and resolves
// them into tool accounts.
type Connector struct {
	toolName       string
	subscriptionID string
	tenantID       string

	assignmentsClient *armauthorization.RoleAssignmentsClient
	definitionsClient *armauthorization.RoleDefinitionsClient
}

type Config struct {
	ToolName       string
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
}

func New(ctx context.Context, cfg Config) (*Connector, error) {
	credential, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("creating credential: %w", err)
	}

	assignmentsClient, err := armauthorization.NewRoleAssignmentsClient(cfg.SubscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating role assignments client: %w", err)
	}

	definitionsClient, err := armauthorization.NewRoleDefinitionsClient(credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating role definitions client: %w", err)
	}

	return &Connector{
		toolName:          cfg.ToolName,
		subscriptionID:    cfg.SubscriptionID,
		tenantID:          cfg.TenantID,
		assignmentsClient: assignmentsClient,
		definitionsClient: definitionsClient,
	}, nil
}

func (c *Connector) Type() string {
	return "azure"
}

func (c *Connector) SubscriptionID() string {
	return c.subscriptionID
}

func (c *Connector) Validate(ctx context.Context) error {
	pager := c.assignmentsClient.NewListForSubscriptionPager(nil)
	if _, err := pager.NextPage(ctx); err != nil {
		return fmt.Errorf("validating role assignment access: %w", err)
	}
	return nil
}

func (c *Connector) Close() error {
	return nil
}

// FetchAccounts lists subscription-level role assignments and maps each to a
// tool account. One account per principal; additional roles land in the
// permissions list.
func (c *Connector) FetchAccounts(ctx context.Context) ([]models.ToolAccountRecord, error) {
	byPrincipal := make(map[string]*models.ToolAccountRecord)
	var order []string

	pager := c.assignmentsClient.NewListForSubscriptionPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing role assignments: %w", err)
		}

		for _, assignment := range page.Value {
			if assignment.Properties == nil || assignment.Properties.PrincipalID == nil {
				continue
			}
			principalID := *assignment.Properties.PrincipalID

			roleName := c.roleName(ctx, assignment.Properties.RoleDefinitionID)

			record, ok := byPrincipal[principalID]
			if !ok {
				record = &models.ToolAccountRecord{
					ToolName: c.toolName,
					Email:    principalEmail(assignment.Properties),
					Role:     roleName,
				}
				byPrincipal[principalID] = record
				order = append(order, principalID)
				continue
			}
			if roleName != "" {
				record.Permissions = append(record.Permissions, roleName)
			}
		}
	}

	records := make([]models.ToolAccountRecord, 0, len(order))
	for _, principalID := range order {
		records = append(records, *byPrincipal[principalID])
	}
	return records, nil
}

func (c *Connector) roleName(ctx context.Context, roleDefinitionID *string) string {
	if roleDefinitionID == nil {
		return ""
	}
	definition, err := c.definitionsClient.GetByID(ctx, *roleDefinitionID, nil)
	if err != nil || definition.Properties == nil || definition.Properties.RoleName == nil {
		return ""
	}
	return *definition.Properties.RoleName
}

// principalEmail extracts an address from the assignment description when the
// directory recorded one. Entra role assignments do not carry emails
// directly, so unresolvable principals come back empty and are counted as
// skipped during reconciliation.
func principalEmail(props *armauthorization.RoleAssignmentProperties) string {
	if props.Description == nil {
		return ""
	}
	for _, field := range strings.Fields(*props.Description) {
		if strings.Contains(field, "@") {
			return strings.Trim(field, "<>,;")
		}
	}
	return ""
}
