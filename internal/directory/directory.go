package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sparrowvision/accessgov/internal/models"
)

// Store defines the persistence interface for directory identities.
type Store interface {
	GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	ListIdentities(ctx context.Context, filter IdentityFilter) ([]models.Identity, error)
	UpsertIdentity(ctx context.Context, identity *models.Identity) error
	UpdateIdentity(ctx context.Context, identity *models.Identity) error
}

// IdentityFilter narrows identity listings.
type IdentityFilter struct {
	Status     *models.IdentityStatus
	Department string
	MinRisk    int
}

// Service is the authoritative directory: the single source of truth that
// reconciliation and reviews reference but never own.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// FindByEmail looks up an identity by case-insensitive email. Returns
// (nil, nil) when absent.
func (s *Service) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return s.store.GetIdentityByEmail(ctx, strings.ToLower(email))
}

// ListActive returns every ACTIVE identity.
func (s *Service) ListActive(ctx context.Context) ([]models.Identity, error) {
	status := models.IdentityActive
	return s.store.ListIdentities(ctx, IdentityFilter{Status: &status})
}

// ListAll returns the full directory snapshot for a reconciliation pass.
func (s *Service) ListAll(ctx context.Context) ([]models.Identity, error) {
	return s.store.ListIdentities(ctx, IdentityFilter{})
}

// MarkExit transitions an identity to EXIT and stamps its exit date.
// Identities are never deleted, only status-transitioned.
func (s *Service) MarkExit(ctx context.Context, email string, exitDate time.Time) (*models.Identity, error) {
	identity, err := s.store.GetIdentityByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: identity %s", models.ErrNotFound, email)
	}

	identity.Status = models.IdentityExit
	identity.ExitDate = &exitDate
	identity.UpdatedAt = time.Now()

	if err := s.store.UpdateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("marking exit: %w", err)
	}
	return identity, nil
}

// HighRisk returns identities at or above the risk threshold.
func (s *Service) HighRisk(ctx context.Context, threshold int) ([]models.Identity, error) {
	return s.store.ListIdentities(ctx, IdentityFilter{MinRisk: threshold})
}

// Inactive returns identities that have not logged in within the given
// number of days. Identities with no recorded login are included.
func (s *Service) Inactive(ctx context.Context, days int) ([]models.Identity, error) {
	identities, err := s.store.ListIdentities(ctx, IdentityFilter{})
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	var inactive []models.Identity
	for _, identity := range identities {
		if identity.LastLoginAt == nil || identity.LastLoginAt.Before(cutoff) {
			inactive = append(inactive, identity)
		}
	}
	return inactive, nil
}

// Privileged returns identities belonging to at least one admin-keyword
// group.
func (s *Service) Privileged(ctx context.Context) ([]models.Identity, error) {
	identities, err := s.store.ListIdentities(ctx, IdentityFilter{})
	if err != nil {
		return nil, err
	}
	var privileged []models.Identity
	for _, identity := range identities {
		if len(adminGroups(identity.Groups)) > 0 {
			privileged = append(privileged, identity)
		}
	}
	return privileged, nil
}
