package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/audit"
	"github.com/sparrowvision/accessgov/internal/models"
)

// AppendAuditEvent writes one ledger row. The ledger is append-only: there is
// deliberately no update or delete counterpart.
func (s *Store) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, event_type, actor, subject_id, subject_kind, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.EventType, event.Actor, event.SubjectID,
		event.SubjectKind, event.Detail, event.OccurredAt,
	)
	return err
}

func (s *Store) ListAuditEvents(ctx context.Context, filter audit.Filter) ([]models.AuditEvent, error) {
	query := `SELECT * FROM audit_events WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if filter.Actor != "" {
		query += fmt.Sprintf(" AND actor = $%d", argIdx)
		args = append(args, filter.Actor)
		argIdx++
	}
	if filter.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, filter.SubjectID)
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND occurred_at < $%d", argIdx)
		args = append(args, *filter.Until)
	}

	query += " ORDER BY occurred_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var events []models.AuditEvent
	err := s.db.SelectContext(ctx, &events, query, args...)
	return events, err
}
