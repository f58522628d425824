// Package connectors pulls user lists out of third-party tools. Each
// connector speaks one provider's API and normalizes its accounts into
// ToolAccountRecord rows for reconciliation.
package connectors

import (
	"context"
	"fmt"

	"github.com/sparrowvision/accessgov/internal/models"
)

// Connector defines the interface for tool account connectors
type Connector interface {
	// Type returns the connector type identifier
	Type() string

	// Validate tests the connection and permissions
	Validate(ctx context.Context) error

	// FetchAccounts returns the tool's current user list
	FetchAccounts(ctx context.Context) ([]models.ToolAccountRecord, error)

	// Close releases any resources held by the connector
	Close() error
}

// Factory builds a connector from a tool's stored configuration.
type Factory func(ctx context.Context, toolName string, config models.JSONB) (Connector, error)

var factories = map[string]Factory{}

// Register makes a connector type available to ForTool. Called from each
// provider package's init.
func Register(connectorType string, factory Factory) {
	factories[connectorType] = factory
}

// ForTool instantiates the connector configured on a tool.
func ForTool(ctx context.Context, tool *models.Tool) (Connector, error) {
	if tool.Connector == "" {
		return nil, fmt.Errorf("%w: tool %s has no connector configured", models.ErrValidation, tool.Name)
	}
	factory, ok := factories[tool.Connector]
	if !ok {
		return nil, fmt.Errorf("%w: unknown connector type %q", models.ErrValidation, tool.Connector)
	}
	return factory(ctx, tool.Name, tool.ConnectorConfig)
}

// IsRegistered reports whether a connector type has a factory.
func IsRegistered(connectorType string) bool {
	_, ok := factories[connectorType]
	return ok
}

// Registered returns the known connector type names.
func Registered() []string {
	types := make([]string, 0, len(factories))
	for connectorType := range factories {
		types = append(types, connectorType)
	}
	return types
}

// StringOption reads a string value out of a tool's connector config.
func StringOption(config models.JSONB, key string) string {
	if config == nil {
		return ""
	}
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}
