package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

// Action is a reviewer decision on a single entry.
type Action string

const (
	ActionApprove Action = "approve"
	ActionFlag    Action = "flag"
	ActionRemove  Action = "remove"
)

// Store defines the persistence interface for reviews and their entries.
type Store interface {
	CreateReview(ctx context.Context, review *models.AccessReview) error
	GetReview(ctx context.Context, id uuid.UUID) (*models.AccessReview, error)
	UpdateReview(ctx context.Context, review *models.AccessReview) error
	CountEntries(ctx context.Context, reviewID uuid.UUID) (int, error)
	CreateEntries(ctx context.Context, entries []*models.AccessReviewEntry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*models.AccessReviewEntry, error)
	UpdateEntry(ctx context.Context, entry *models.AccessReviewEntry) error
	ListEntries(ctx context.Context, reviewID uuid.UUID) ([]models.AccessReviewEntry, error)
}

// Directory resolves identities for scope validation.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
}

// Grants resolves tools and active access grants for entry population.
type Grants interface {
	GetToolByName(ctx context.Context, name string) (*models.Tool, error)
	ListActiveGrants(ctx context.Context, filter GrantFilter) ([]models.UserAccess, error)
}

// GrantFilter narrows the active grants considered during population.
type GrantFilter struct {
	UserEmail  string
	ToolName   string
	UserEmails []string
}

// Recorder appends state transitions to the audit ledger.
type Recorder interface {
	Append(ctx context.Context, event *models.AuditEvent) error
}

// Engine owns the review lifecycle: creation, population, per-entry
// decisions, completion.
type Engine struct {
	store     Store
	directory Directory
	grants    Grants
	audit     Recorder
	logger    *slog.Logger
}

func NewEngine(store Store, directory Directory, grants Grants, audit Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		directory: directory,
		grants:    grants,
		audit:     audit,
		logger:    logger,
	}
}

// Scope carries the type-specific target of a new review.
type Scope struct {
	Title      string
	TargetUser string
	TargetTool string
	ExitEmails []string
	CreatedBy  string
}

// CreateReview validates the scope for the given type and creates the review
// in PENDING state with zero entries.
func (e *Engine) CreateReview(ctx context.Context, reviewType models.ReviewType, scope Scope) (*models.AccessReview, error) {
	review := &models.AccessReview{
		ID:        uuid.New(),
		Title:     scope.Title,
		Type:      reviewType,
		Status:    models.ReviewPending,
		CreatedBy: scope.CreatedBy,
		CreatedAt: time.Now(),
	}

	switch reviewType {
	case models.ReviewUserWise:
		if scope.TargetUser == "" {
			return nil, fmt.Errorf("%w: user-wise review requires a target user", models.ErrValidation)
		}
		identity, err := e.directory.FindByEmail(ctx, scope.TargetUser)
		if err != nil {
			return nil, fmt.Errorf("resolving target user: %w", err)
		}
		if identity == nil {
			return nil, fmt.Errorf("%w: target user %s not found in directory", models.ErrValidation, scope.TargetUser)
		}
		review.TargetUser = identity.Email

	case models.ReviewToolWise:
		if scope.TargetTool == "" {
			return nil, fmt.Errorf("%w: tool-wise review requires a target tool", models.ErrValidation)
		}
		tool, err := e.grants.GetToolByName(ctx, scope.TargetTool)
		if err != nil {
			return nil, fmt.Errorf("resolving target tool: %w", err)
		}
		if tool == nil {
			return nil, fmt.Errorf("%w: target tool %s not found", models.ErrValidation, scope.TargetTool)
		}
		review.TargetTool = tool.Name

	case models.ReviewExitEmployee:
		if len(scope.ExitEmails) == 0 {
			return nil, fmt.Errorf("%w: exit-employee review requires at least one email", models.ErrValidation)
		}
		for _, email := range scope.ExitEmails {
			identity, err := e.directory.FindByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("resolving exit employee %s: %w", email, err)
			}
			if identity == nil {
				return nil, fmt.Errorf("%w: exit employee %s not found in directory", models.ErrValidation, email)
			}
			if identity.Status != models.IdentityExit {
				return nil, fmt.Errorf("%w: %s is not an EXIT identity", models.ErrValidation, email)
			}
		}
		review.ExitEmails = scope.ExitEmails

	case models.ReviewCustom:
		// Custom reviews have no derivable scope; entries are supplied by
		// the caller after creation.

	default:
		return nil, fmt.Errorf("%w: unknown review type %q", models.ErrValidation, reviewType)
	}

	if review.Title == "" {
		review.Title = defaultTitle(review)
	}

	if err := e.store.CreateReview(ctx, review); err != nil {
		return nil, fmt.Errorf("creating review: %w", err)
	}

	e.record(ctx, "review.created", review.CreatedBy, review.ID, models.JSONB{
		"type":  string(review.Type),
		"title": review.Title,
	})

	return review, nil
}

func defaultTitle(review *models.AccessReview) string {
	switch review.Type {
	case models.ReviewUserWise:
		return "Access review: " + review.TargetUser
	case models.ReviewToolWise:
		return "Access review: " + review.TargetTool
	case models.ReviewExitEmployee:
		return fmt.Sprintf("Exit employee review (%d users)", len(review.ExitEmails))
	default:
		return "Access review"
	}
}

// PopulateEntries derives the candidate (user, tool) pairs from current
// ACTIVE grants and bulk-creates the review's entries. Idempotent per review:
// if entries already exist the call is a no-op.
func (e *Engine) PopulateEntries(ctx context.Context, reviewID uuid.UUID) (*models.AccessReview, error) {
	review, err := e.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("loading review: %w", err)
	}
	if review == nil {
		return nil, fmt.Errorf("%w: review %s", models.ErrNotFound, reviewID)
	}

	// Idempotency guard: a retried populate must not duplicate entries.
	existing, err := e.store.CountEntries(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	if existing > 0 {
		e.logger.Info("review already populated", "review_id", reviewID, "entries", existing)
		return review, nil
	}

	filter := GrantFilter{}
	switch review.Type {
	case models.ReviewUserWise:
		filter.UserEmail = review.TargetUser
	case models.ReviewToolWise:
		filter.ToolName = review.TargetTool
	case models.ReviewExitEmployee:
		filter.UserEmails = review.ExitEmails
	default:
		return nil, fmt.Errorf("%w: review type %q has no derivable entries", models.ErrValidation, review.Type)
	}

	grants, err := e.grants.ListActiveGrants(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing active grants: %w", err)
	}

	entries := make([]*models.AccessReviewEntry, 0, len(grants))
	for _, grant := range grants {
		riskScore := 0
		if identity, err := e.directory.FindByEmail(ctx, grant.UserEmail); err == nil && identity != nil {
			riskScore = identity.RiskScore
		}
		entries = append(entries, &models.AccessReviewEntry{
			ID:           uuid.New(),
			ReviewID:     review.ID,
			UserID:       grant.UserID,
			ToolID:       grant.ToolID,
			UserEmail:    grant.UserEmail,
			ToolName:     grant.ToolName,
			Role:         grant.Role,
			Permissions:  grant.Permissions,
			Status:       models.EntryPending,
			ShouldRemove: false,
			RiskScore:    riskScore,
		})
	}

	if len(entries) > 0 {
		if err := e.store.CreateEntries(ctx, entries); err != nil {
			return nil, fmt.Errorf("creating entries: %w", err)
		}
	}

	review.TotalItems = len(entries)
	if err := e.store.UpdateReview(ctx, review); err != nil {
		return nil, fmt.Errorf("updating review: %w", err)
	}

	e.record(ctx, "review.populated", review.CreatedBy, review.ID, models.JSONB{
		"total_items": len(entries),
	})

	return review, nil
}

// DecideEntry applies a reviewer decision to one entry and recomputes the
// parent review's counters from a full entry scan. Re-deciding an entry
// overwrites the previous decision.
func (e *Engine) DecideEntry(ctx context.Context, entryID uuid.UUID, action Action, reviewer, notes string) (*models.AccessReviewEntry, error) {
	entry, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("loading entry: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: entry %s", models.ErrNotFound, entryID)
	}

	switch action {
	case ActionApprove:
		entry.Status = models.EntryApproved
		entry.ShouldRemove = false
	case ActionFlag:
		entry.Status = models.EntryFlagged
		entry.ShouldRemove = false
	case ActionRemove:
		entry.Status = models.EntryRemoved
		entry.ShouldRemove = true
	default:
		return nil, fmt.Errorf("%w: unknown action %q", models.ErrValidation, action)
	}

	now := time.Now()
	entry.ReviewedBy = reviewer
	entry.ReviewedAt = &now
	if notes != "" {
		entry.Notes = notes
	}

	if err := e.store.UpdateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("updating entry: %w", err)
	}

	if _, err := e.recomputeCounters(ctx, entry.ReviewID); err != nil {
		return nil, err
	}

	e.record(ctx, "review.entry_decided", reviewer, entry.ReviewID, models.JSONB{
		"entry_id": entry.ID.String(),
		"action":   string(action),
		"tool":     entry.ToolName,
		"user":     entry.UserEmail,
	})

	return entry, nil
}

// CompleteReview is the explicit terminal transition, usable even with
// unreviewed entries. Counters are recomputed before completion.
func (e *Engine) CompleteReview(ctx context.Context, reviewID uuid.UUID, certify bool, certifiedBy string) (*models.AccessReview, *models.CertificationSummary, error) {
	review, err := e.recomputeCounters(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}

	if review.Status != models.ReviewCompleted {
		now := time.Now()
		review.Status = models.ReviewCompleted
		review.CompletedAt = &now
		if err := e.store.UpdateReview(ctx, review); err != nil {
			return nil, nil, fmt.Errorf("completing review: %w", err)
		}
	}

	e.record(ctx, "review.completed", certifiedBy, review.ID, models.JSONB{
		"reviewed_items": review.ReviewedItems,
		"total_items":    review.TotalItems,
	})

	if !certify {
		return review, nil, nil
	}

	entries, err := e.store.ListEntries(ctx, reviewID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing entries for certification: %w", err)
	}

	tools := make(map[string]bool)
	users := make(map[string]bool)
	for _, entry := range entries {
		tools[entry.ToolName] = true
		users[entry.UserEmail] = true
	}

	cert := &models.CertificationSummary{
		ReviewID:      review.ID,
		ToolsReviewed: len(tools),
		UsersReviewed: len(users),
		Removals:      review.RemovedItems,
		Flags:         review.FlaggedItems,
		CertifiedBy:   certifiedBy,
		CertifiedAt:   time.Now(),
	}

	e.record(ctx, "review.certified", certifiedBy, review.ID, models.JSONB{
		"tools_reviewed": cert.ToolsReviewed,
		"users_reviewed": cert.UsersReviewed,
		"removals":       cert.Removals,
		"flags":          cert.Flags,
	})

	return review, cert, nil
}

// recomputeCounters rescans the review's entries and rewrites the derived
// counters. Always counting from current entry state keeps concurrent
// decisions from drifting the aggregates. An already-COMPLETED review whose
// reviewed count still equals its total stays COMPLETED; a review never
// auto-completes at totalItems == 0.
func (e *Engine) recomputeCounters(ctx context.Context, reviewID uuid.UUID) (*models.AccessReview, error) {
	review, err := e.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("loading review: %w", err)
	}
	if review == nil {
		return nil, fmt.Errorf("%w: review %s", models.ErrNotFound, reviewID)
	}

	entries, err := e.store.ListEntries(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}

	var reviewed, flagged, removed int
	for _, entry := range entries {
		if entry.ReviewedAt != nil {
			reviewed++
		}
		switch entry.Status {
		case models.EntryFlagged:
			flagged++
		case models.EntryRemoved:
			removed++
		}
	}

	review.TotalItems = len(entries)
	review.ReviewedItems = reviewed
	review.FlaggedItems = flagged
	review.RemovedItems = removed

	if review.Status == models.ReviewCompleted {
		// Late corrections never implicitly reopen a completed review.
	} else if review.TotalItems > 0 && reviewed == review.TotalItems {
		now := time.Now()
		review.Status = models.ReviewCompleted
		review.CompletedAt = &now
	} else if reviewed > 0 {
		review.Status = models.ReviewInProgress
	}

	if err := e.store.UpdateReview(ctx, review); err != nil {
		return nil, fmt.Errorf("updating review counters: %w", err)
	}

	return review, nil
}

func (e *Engine) record(ctx context.Context, eventType, actor string, reviewID uuid.UUID, detail models.JSONB) {
	if e.audit == nil {
		return
	}
	event := &models.AuditEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		Actor:       actor,
		SubjectID:   reviewID.String(),
		SubjectKind: "access_review",
		Detail:      detail,
		OccurredAt:  time.Now(),
	}
	if err := e.audit.Append(ctx, event); err != nil {
		e.logger.Error("failed to append audit event", "event", eventType, "error", err)
	}
}
