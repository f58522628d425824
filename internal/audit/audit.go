// Package audit is the append-only ledger of governance state transitions.
// Reviews, policy evaluations, reconciliation runs and sync jobs all record
// their outcomes here; nothing ever rewrites a recorded event.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

// Store defines the persistence interface for the ledger.
type Store interface {
	AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, filter Filter) ([]models.AuditEvent, error)
}

// Filter narrows a ledger query.
type Filter struct {
	EventType string
	Actor     string
	SubjectID string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// Ledger wraps the store with validation and defaulting.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

// Append records one event. Events with no type are rejected; the timestamp
// and ID are defaulted when absent.
func (l *Ledger) Append(ctx context.Context, event *models.AuditEvent) error {
	if event.EventType == "" {
		return fmt.Errorf("%w: audit event requires a type", models.ErrValidation)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	return l.store.AppendAuditEvent(ctx, event)
}

// Query returns matching events, newest first.
func (l *Ledger) Query(ctx context.Context, filter Filter) ([]models.AuditEvent, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return l.store.ListAuditEvents(ctx, filter)
}
