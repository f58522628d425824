package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/directory"
	"github.com/sparrowvision/accessgov/internal/models"
	"github.com/sparrowvision/accessgov/internal/review"
)

// getTestDSN returns the test database DSN from environment
func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=accessgov password=accessgov_password dbname=accessgov_test sslmode=disable"
	}
	return dsn
}

// skipIfNoTestDB skips the test if no test database is available
func skipIfNoTestDB(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{
		DSN:          getTestDSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil
	}

	return store
}

func TestStore_Identities(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	email := "store-test-" + uuid.NewString() + "@co.com"

	identity := &models.Identity{
		Email:       email,
		Username:    "store-test",
		DisplayName: "Store Test",
		Status:      models.IdentityActive,
		Department:  "Engineering",
		Groups:      models.StringArray{"Engineering", "Platform Admins"},
		RiskScore:   10,
	}

	if err := store.UpsertIdentity(ctx, identity); err != nil {
		t.Fatalf("UpsertIdentity failed: %v", err)
	}
	if identity.ID == uuid.Nil {
		t.Error("Expected identity ID to be set")
	}

	// Case-insensitive lookup
	retrieved, err := store.GetIdentityByEmail(ctx, "STORE-TEST-"+email[11:])
	if err != nil {
		t.Fatalf("GetIdentityByEmail failed: %v", err)
	}
	if retrieved == nil || retrieved.Email != email {
		t.Fatalf("Expected identity %s, got %+v", email, retrieved)
	}

	// Re-sync keeps the same row
	identity.RiskScore = 35
	if err := store.UpsertIdentity(ctx, identity); err != nil {
		t.Fatalf("Second UpsertIdentity failed: %v", err)
	}
	retrieved, err = store.GetIdentityByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetIdentityByEmail failed: %v", err)
	}
	if retrieved.RiskScore != 35 {
		t.Errorf("RiskScore = %d, want 35", retrieved.RiskScore)
	}

	// Exit transition
	exitDate := time.Now()
	retrieved.Status = models.IdentityExit
	retrieved.ExitDate = &exitDate
	if err := store.UpdateIdentity(ctx, retrieved); err != nil {
		t.Fatalf("UpdateIdentity failed: %v", err)
	}

	status := models.IdentityExit
	exits, err := store.ListIdentities(ctx, directory.IdentityFilter{Status: &status})
	if err != nil {
		t.Fatalf("ListIdentities failed: %v", err)
	}
	found := false
	for _, exit := range exits {
		if exit.Email == email {
			found = true
			if exit.ExitDate == nil {
				t.Error("Expected exit date to be persisted")
			}
		}
	}
	if !found {
		t.Error("Exit identity not returned by status filter")
	}

	// A re-sync upsert carries the exit transition onto the existing row.
	syncExit := time.Now()
	identity.Status = models.IdentityExit
	identity.ExitDate = &syncExit
	if err := store.UpsertIdentity(ctx, identity); err != nil {
		t.Fatalf("Exit UpsertIdentity failed: %v", err)
	}
	retrieved, err = store.GetIdentityByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetIdentityByEmail failed: %v", err)
	}
	if retrieved.Status != models.IdentityExit || retrieved.ExitDate == nil {
		t.Errorf("Exit upsert not persisted: status=%s exit_date=%v", retrieved.Status, retrieved.ExitDate)
	}
}

func TestStore_MissingIdentityReturnsNil(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	identity, err := store.GetIdentityByEmail(context.Background(), "nobody-"+uuid.NewString()+"@co.com")
	if err != nil {
		t.Fatalf("GetIdentityByEmail failed: %v", err)
	}
	if identity != nil {
		t.Errorf("Expected nil for missing identity, got %+v", identity)
	}
}

func TestStore_ToolsAndGrants(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	toolName := "test-tool-" + uuid.NewString()

	tool := &models.Tool{
		Name:      toolName,
		Category:  "devops",
		Connector: "aws",
	}
	if err := store.CreateTool(ctx, tool); err != nil {
		t.Fatalf("CreateTool failed: %v", err)
	}
	defer store.DeleteTool(ctx, tool.ID)

	retrieved, err := store.GetToolByName(ctx, toolName)
	if err != nil {
		t.Fatalf("GetToolByName failed: %v", err)
	}
	if retrieved == nil || retrieved.ID != tool.ID {
		t.Fatalf("Expected tool %s, got %+v", tool.ID, retrieved)
	}

	grant := &models.UserAccess{
		UserID:      uuid.New(),
		UserEmail:   "grant-test-" + uuid.NewString() + "@co.com",
		ToolID:      tool.ID,
		ToolName:    toolName,
		Role:        "member",
		Permissions: models.StringArray{"read"},
		Status:      models.GrantActive,
	}
	if err := store.UpsertGrant(ctx, grant); err != nil {
		t.Fatalf("UpsertGrant failed: %v", err)
	}

	grants, err := store.ListActiveGrants(ctx, review.GrantFilter{ToolName: toolName})
	if err != nil {
		t.Fatalf("ListActiveGrants failed: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("grants = %d, want 1", len(grants))
	}

	if err := store.RevokeGrant(ctx, grant.ID); err != nil {
		t.Fatalf("RevokeGrant failed: %v", err)
	}
	grants, err = store.ListActiveGrants(ctx, review.GrantFilter{ToolName: toolName})
	if err != nil {
		t.Fatalf("ListActiveGrants failed: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("grants after revoke = %d, want 0", len(grants))
	}

	// Revoking a revoked grant is a not-found
	if err := store.RevokeGrant(ctx, grant.ID); err == nil {
		t.Error("Expected error revoking already revoked grant")
	}
}

func TestStore_ReviewLifecycle(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()

	rev := &models.AccessReview{
		Title:      "Quarterly GitHub review",
		Type:       models.ReviewToolWise,
		Status:     models.ReviewPending,
		TargetTool: "GitHub",
		CreatedBy:  "admin@co.com",
	}
	if err := store.CreateReview(ctx, rev); err != nil {
		t.Fatalf("CreateReview failed: %v", err)
	}

	entries := []*models.AccessReviewEntry{
		{
			ReviewID:  rev.ID,
			UserID:    uuid.New(),
			ToolID:    uuid.New(),
			UserEmail: "a@co.com",
			ToolName:  "GitHub",
			Status:    models.EntryPending,
		},
		{
			ReviewID:  rev.ID,
			UserID:    uuid.New(),
			ToolID:    uuid.New(),
			UserEmail: "b@co.com",
			ToolName:  "GitHub",
			Status:    models.EntryPending,
		},
	}
	if err := store.CreateEntries(ctx, entries); err != nil {
		t.Fatalf("CreateEntries failed: %v", err)
	}

	count, err := store.CountEntries(ctx, rev.ID)
	if err != nil {
		t.Fatalf("CountEntries failed: %v", err)
	}
	if count != 2 {
		t.Errorf("CountEntries = %d, want 2", count)
	}

	now := time.Now()
	entries[0].Status = models.EntryRemoved
	entries[0].ShouldRemove = true
	entries[0].ReviewedBy = "admin@co.com"
	entries[0].ReviewedAt = &now
	if err := store.UpdateEntry(ctx, entries[0]); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}

	listed, err := store.ListEntries(ctx, rev.ID)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("ListEntries = %d, want 2", len(listed))
	}

	rev.Status = models.ReviewInProgress
	rev.TotalItems = 2
	rev.ReviewedItems = 1
	rev.RemovedItems = 1
	if err := store.UpdateReview(ctx, rev); err != nil {
		t.Fatalf("UpdateReview failed: %v", err)
	}

	retrieved, err := store.GetReview(ctx, rev.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if retrieved.Status != models.ReviewInProgress || retrieved.RemovedItems != 1 {
		t.Errorf("Review counters not persisted: %+v", retrieved)
	}
}

func TestStore_PoliciesAndViolations(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()

	policy := &models.Policy{
		Name:     "test-policy-" + uuid.NewString(),
		Type:     "access",
		IsActive: true,
		Priority: 10,
		Rules: []models.PolicyRule{
			{
				Name:      "deny-external",
				Condition: json.RawMessage(`{"kind":"email_domain_not_in","domains":["co.com"]}`),
				Action:    models.ActionDeny,
				Priority:  1,
				IsActive:  true,
			},
		},
	}
	if err := store.CreatePolicy(ctx, policy); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	defer store.DeletePolicy(ctx, policy.ID)

	active, err := store.ListActivePolicies(ctx)
	if err != nil {
		t.Fatalf("ListActivePolicies failed: %v", err)
	}
	found := false
	for _, p := range active {
		if p.ID == policy.ID {
			found = true
			if len(p.Rules) != 1 {
				t.Errorf("Rules = %d, want 1", len(p.Rules))
			}
		}
	}
	if !found {
		t.Fatal("Created policy not in active list")
	}

	violations := []*models.PolicyViolation{
		{
			PolicyID:      policy.ID,
			PolicyName:    policy.Name,
			UserEmail:     "x@other.com",
			ViolationType: "deny-external",
			Description:   "external domain",
			Severity:      models.SeverityHigh,
			DetectedAt:    time.Now(),
			Status:        models.ViolationOpen,
		},
	}
	if err := store.CreateViolations(ctx, violations); err != nil {
		t.Fatalf("CreateViolations failed: %v", err)
	}

	retrieved, err := store.GetViolation(ctx, violations[0].ID)
	if err != nil {
		t.Fatalf("GetViolation failed: %v", err)
	}
	if retrieved == nil || retrieved.Severity != models.SeverityHigh {
		t.Fatalf("Violation not persisted: %+v", retrieved)
	}

	now := time.Now()
	retrieved.Status = models.ViolationResolved
	retrieved.ResolvedBy = "admin@co.com"
	retrieved.ResolvedAt = &now
	if err := store.UpdateViolation(ctx, retrieved); err != nil {
		t.Fatalf("UpdateViolation failed: %v", err)
	}

	status := models.ViolationResolved
	resolved, total, err := store.ListViolations(ctx, ListViolationFilters{Status: &status, UserEmail: "x@other.com"})
	if err != nil {
		t.Fatalf("ListViolations failed: %v", err)
	}
	if total < 1 || len(resolved) < 1 {
		t.Error("Resolved violation not returned by filter")
	}
}
