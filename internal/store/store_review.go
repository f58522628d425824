package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

func (s *Store) CreateReview(ctx context.Context, rev *models.AccessReview) error {
	query := `
		INSERT INTO access_reviews (
			id, title, type, status, target_user, target_tool, exit_emails,
			created_by, created_at, completed_at,
			total_items, reviewed_items, flagged_items, removed_items
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	if rev.ID == uuid.Nil {
		rev.ID = uuid.New()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		rev.ID, rev.Title, rev.Type, rev.Status, rev.TargetUser, rev.TargetTool,
		rev.ExitEmails, rev.CreatedBy, rev.CreatedAt, rev.CompletedAt,
		rev.TotalItems, rev.ReviewedItems, rev.FlaggedItems, rev.RemovedItems,
	)
	return err
}

func (s *Store) GetReview(ctx context.Context, id uuid.UUID) (*models.AccessReview, error) {
	var rev models.AccessReview
	query := `SELECT * FROM access_reviews WHERE id = $1`
	err := s.db.GetContext(ctx, &rev, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &rev, err
}

func (s *Store) UpdateReview(ctx context.Context, rev *models.AccessReview) error {
	query := `
		UPDATE access_reviews SET
			title = $1, status = $2, completed_at = $3,
			total_items = $4, reviewed_items = $5, flagged_items = $6, removed_items = $7
		WHERE id = $8
	`
	_, err := s.db.ExecContext(ctx, query,
		rev.Title, rev.Status, rev.CompletedAt,
		rev.TotalItems, rev.ReviewedItems, rev.FlaggedItems, rev.RemovedItems,
		rev.ID,
	)
	return err
}

type ListReviewFilters struct {
	Type   *models.ReviewType
	Status *models.ReviewStatus
	Limit  int
	Offset int
}

func (s *Store) ListReviews(ctx context.Context, filters ListReviewFilters) ([]models.AccessReview, int, error) {
	baseQuery := `FROM access_reviews WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.Type != nil {
		baseQuery += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, *filters.Type)
		argIdx++
	}
	if filters.Status != nil {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filters.Status)
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT * " + baseQuery + " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		selectQuery += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	var reviews []models.AccessReview
	if err := s.db.SelectContext(ctx, &reviews, selectQuery, args...); err != nil {
		return nil, 0, err
	}
	return reviews, total, nil
}

func (s *Store) CountEntries(ctx context.Context, reviewID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM access_review_entries WHERE review_id = $1`
	err := s.db.GetContext(ctx, &count, query, reviewID)
	return count, err
}

// CreateEntries bulk-inserts a review's entries in one transaction so a
// partially populated review can never be observed.
func (s *Store) CreateEntries(ctx context.Context, entries []*models.AccessReviewEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO access_review_entries (
			id, review_id, user_id, tool_id, user_email, tool_name, role,
			permissions, status, should_remove, risk_score, reviewed_by, reviewed_at, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	for _, entry := range entries {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if _, err := tx.ExecContext(ctx, query,
			entry.ID, entry.ReviewID, entry.UserID, entry.ToolID,
			entry.UserEmail, entry.ToolName, entry.Role, entry.Permissions,
			entry.Status, entry.ShouldRemove, entry.RiskScore,
			entry.ReviewedBy, entry.ReviewedAt, entry.Notes,
		); err != nil {
			return fmt.Errorf("inserting entry for %s/%s: %w", entry.UserEmail, entry.ToolName, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetEntry(ctx context.Context, id uuid.UUID) (*models.AccessReviewEntry, error) {
	var entry models.AccessReviewEntry
	query := `SELECT * FROM access_review_entries WHERE id = $1`
	err := s.db.GetContext(ctx, &entry, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &entry, err
}

func (s *Store) UpdateEntry(ctx context.Context, entry *models.AccessReviewEntry) error {
	query := `
		UPDATE access_review_entries SET
			status = $1, should_remove = $2, reviewed_by = $3, reviewed_at = $4, notes = $5
		WHERE id = $6
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.Status, entry.ShouldRemove, entry.ReviewedBy, entry.ReviewedAt, entry.Notes,
		entry.ID,
	)
	return err
}

func (s *Store) ListEntries(ctx context.Context, reviewID uuid.UUID) ([]models.AccessReviewEntry, error) {
	var entries []models.AccessReviewEntry
	query := `SELECT * FROM access_review_entries WHERE review_id = $1 ORDER BY tool_name, user_email`
	err := s.db.SelectContext(ctx, &entries, query, reviewID)
	return entries, err
}
