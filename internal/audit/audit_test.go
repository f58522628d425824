package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

type fakeStore struct {
	events []models.AuditEvent
}

func (f *fakeStore) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeStore) ListAuditEvents(ctx context.Context, filter Filter) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for _, event := range f.events {
		if filter.EventType != "" && event.EventType != filter.EventType {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func TestLedger_AppendDefaults(t *testing.T) {
	store := &fakeStore{}
	ledger := NewLedger(store, nil)

	event := &models.AuditEvent{EventType: "review.created", Actor: "admin@co.com"}
	if err := ledger.Append(context.Background(), event); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if event.ID == uuid.Nil {
		t.Error("expected ID to be defaulted")
	}
	if event.OccurredAt.IsZero() {
		t.Error("expected timestamp to be defaulted")
	}
	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
}

func TestLedger_AppendRequiresType(t *testing.T) {
	ledger := NewLedger(&fakeStore{}, nil)
	err := ledger.Append(context.Background(), &models.AuditEvent{Actor: "admin@co.com"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestLedger_QueryFilters(t *testing.T) {
	store := &fakeStore{}
	ledger := NewLedger(store, nil)

	for _, eventType := range []string{"review.created", "review.completed", "policy.evaluated"} {
		if err := ledger.Append(context.Background(), &models.AuditEvent{EventType: eventType}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	events, err := ledger.Query(context.Background(), Filter{EventType: "review.created"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}
