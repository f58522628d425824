package queue

import (
	"testing"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
	"github.com/sparrowvision/accessgov/internal/reconcile"
)

func matchedFor(emails ...string) []reconcile.MatchedAccount {
	matched := make([]reconcile.MatchedAccount, 0, len(emails))
	for _, email := range emails {
		matched = append(matched, reconcile.MatchedAccount{
			Account:    models.ToolAccountRecord{Email: email},
			IdentityID: uuid.New(),
		})
	}
	return matched
}

func activeGrant(email string) models.UserAccess {
	return models.UserAccess{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		UserEmail: email,
		ToolName:  "GitHub",
		Status:    models.GrantActive,
	}
}

func TestStaleGrants(t *testing.T) {
	active := []models.UserAccess{
		activeGrant("alice@co.com"),
		activeGrant("bob@co.com"),
		activeGrant("gone@co.com"),
	}
	matched := matchedFor("alice@co.com", "bob@co.com")

	stale := staleGrants(active, matched)
	if len(stale) != 1 {
		t.Fatalf("stale = %d, want 1", len(stale))
	}
	if stale[0].UserEmail != "gone@co.com" {
		t.Errorf("stale grant = %s, want gone@co.com", stale[0].UserEmail)
	}
}

func TestStaleGrantsCaseInsensitive(t *testing.T) {
	active := []models.UserAccess{activeGrant("Alice@CO.com")}
	matched := matchedFor("alice@co.com")

	if stale := staleGrants(active, matched); len(stale) != 0 {
		t.Errorf("stale = %v, want none for case-differing emails", stale)
	}
}

func TestStaleGrantsEmptyExport(t *testing.T) {
	active := []models.UserAccess{
		activeGrant("alice@co.com"),
		activeGrant("bob@co.com"),
	}

	// An empty export means every lingering grant is stale.
	if stale := staleGrants(active, nil); len(stale) != 2 {
		t.Errorf("stale = %d, want 2", len(stale))
	}
}
