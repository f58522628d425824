package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/sparrowvision/accessgov/internal/connectors"
	"github.com/sparrowvision/accessgov/internal/models"
)

func init() {
	connectors.Register("aws", func(ctx context.Context, toolName string, cfg models.JSONB) (connectors.Connector, error) {
		return New(ctx, Config{
			ToolName:      toolName,
			Region:        connectors.StringOption(cfg, "region"),
			AssumeRoleARN: connectors.StringOption(cfg, "assume_role_arn"),
			ExternalID:    connectors.StringOption(cfg, "external_id"),
		})
	})
}

// Connector reads IAM users and their attachments from one AWS account.
type Connector struct {
	toolName  string
	accountID string

	iamClient *iam.Client
	stsClient *sts.Client
}

type Config struct {
	ToolName      string
	Region        string
	AssumeRoleARN string
	ExternalID    string
}

func New(ctx context.Context, cfg Config) (*Connector, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	stsClient := sts.NewFromConfig(awsCfg)
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("getting caller identity: %w", err)
	}

	return &Connector{
		toolName:  cfg.ToolName,
		accountID: aws.ToString(identity.Account),
		iamClient: iam.NewFromConfig(awsCfg),
		stsClient: stsClient,
	}, nil
}

func (c *Connector) Type() string {
	return "aws"
}

func (c *Connector) AccountID() string {
	return c.accountID
}

func (c *Connector) Validate(ctx context.Context) error {
	_, err := c.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("validating AWS credentials: %w", err)
	}
	return nil
}

func (c *Connector) Close() error {
	return nil
}

// FetchAccounts lists every IAM user with its group memberships and attached
// policies. The email comes from the user's "email" tag when present, falling
// back to the username when it looks like an address.
func (c *Connector) FetchAccounts(ctx context.Context) ([]models.ToolAccountRecord, error) {
	var records []models.ToolAccountRecord
	paginator := iam.NewListUsersPaginator(c.iamClient, &iam.ListUsersInput{})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}

		for _, user := range page.Users {
			userName := aws.ToString(user.UserName)

			record := models.ToolAccountRecord{
				ToolName: c.toolName,
				Email:    c.userEmail(ctx, userName),
			}

			groups, err := c.userGroups(ctx, userName)
			if err != nil {
				return nil, err
			}
			if len(groups) > 0 {
				record.Role = groups[0]
			}

			policies, err := c.attachedPolicies(ctx, userName)
			if err != nil {
				return nil, err
			}
			record.Permissions = policies

			if user.PasswordLastUsed != nil {
				lastUsed := *user.PasswordLastUsed
				record.LastAccessed = &lastUsed
			}

			records = append(records, record)
		}
	}

	return records, nil
}

func (c *Connector) userEmail(ctx context.Context, userName string) string {
	out, err := c.iamClient.ListUserTags(ctx, &iam.ListUserTagsInput{
		UserName: aws.String(userName),
	})
	if err == nil {
		for _, tag := range out.Tags {
			if strings.EqualFold(aws.ToString(tag.Key), "email") {
				return aws.ToString(tag.Value)
			}
		}
	}
	if strings.Contains(userName, "@") {
		return userName
	}
	return ""
}

func (c *Connector) userGroups(ctx context.Context, userName string) ([]string, error) {
	var groups []string
	paginator := iam.NewListGroupsForUserPaginator(c.iamClient, &iam.ListGroupsForUserInput{
		UserName: aws.String(userName),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing groups for %s: %w", userName, err)
		}
		for _, group := range page.Groups {
			groups = append(groups, aws.ToString(group.GroupName))
		}
	}

	return groups, nil
}

func (c *Connector) attachedPolicies(ctx context.Context, userName string) ([]string, error) {
	var policies []string
	paginator := iam.NewListAttachedUserPoliciesPaginator(c.iamClient, &iam.ListAttachedUserPoliciesInput{
		UserName: aws.String(userName),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing attached policies for %s: %w", userName, err)
		}
		for _, policy := range page.AttachedPolicies {
			policies = append(policies, aws.ToString(policy.PolicyName))
		}
	}

	return policies, nil
}
