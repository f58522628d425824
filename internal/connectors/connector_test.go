package connectors

import (
	"context"
	"errors"
	"testing"

	"github.com/sparrowvision/accessgov/internal/models"
)

type stubConnector struct{ toolName string }

func (s *stubConnector) Type() string                       { return "stub" }
func (s *stubConnector) Validate(ctx context.Context) error { return nil }
func (s *stubConnector) Close() error                       { return nil }
func (s *stubConnector) FetchAccounts(ctx context.Context) ([]models.ToolAccountRecord, error) {
	return nil, nil
}

func TestForTool(t *testing.T) {
	Register("stub", func(ctx context.Context, toolName string, cfg models.JSONB) (Connector, error) {
		return &stubConnector{toolName: toolName}, nil
	})

	tool := &models.Tool{Name: "GitHub", Connector: "stub"}
	connector, err := ForTool(context.Background(), tool)
	if err != nil {
		t.Fatalf("ForTool failed: %v", err)
	}
	if connector.Type() != "stub" {
		t.Errorf("Type = %q, want stub", connector.Type())
	}
}

func TestForTool_Unconfigured(t *testing.T) {
	_, err := ForTool(context.Background(), &models.Tool{Name: "GitHub"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation for missing connector, got %v", err)
	}

	_, err = ForTool(context.Background(), &models.Tool{Name: "GitHub", Connector: "bogus"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown connector, got %v", err)
	}
}

func TestStringOption(t *testing.T) {
	cfg := models.JSONB{"region": "us-east-1", "count": 3}
	if got := StringOption(cfg, "region"); got != "us-east-1" {
		t.Errorf("StringOption = %q", got)
	}
	if got := StringOption(cfg, "count"); got != "" {
		t.Errorf("non-string option should be empty, got %q", got)
	}
	if got := StringOption(nil, "region"); got != "" {
		t.Errorf("nil config should be empty, got %q", got)
	}
}
