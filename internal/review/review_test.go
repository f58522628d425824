package review

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

type fakeStore struct {
	reviews map[uuid.UUID]*models.AccessReview
	entries map[uuid.UUID]*models.AccessReviewEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reviews: make(map[uuid.UUID]*models.AccessReview),
		entries: make(map[uuid.UUID]*models.AccessReviewEntry),
	}
}

func (s *fakeStore) CreateReview(_ context.Context, review *models.AccessReview) error {
	copied := *review
	s.reviews[review.ID] = &copied
	return nil
}

func (s *fakeStore) GetReview(_ context.Context, id uuid.UUID) (*models.AccessReview, error) {
	review, ok := s.reviews[id]
	if !ok {
		return nil, nil
	}
	copied := *review
	return &copied, nil
}

func (s *fakeStore) UpdateReview(_ context.Context, review *models.AccessReview) error {
	copied := *review
	s.reviews[review.ID] = &copied
	return nil
}

func (s *fakeStore) CountEntries(_ context.Context, reviewID uuid.UUID) (int, error) {
	count := 0
	for _, entry := range s.entries {
		if entry.ReviewID == reviewID {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) CreateEntries(_ context.Context, entries []*models.AccessReviewEntry) error {
	for _, entry := range entries {
		copied := *entry
		s.entries[entry.ID] = &copied
	}
	return nil
}

func (s *fakeStore) GetEntry(_ context.Context, id uuid.UUID) (*models.AccessReviewEntry, error) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (s *fakeStore) UpdateEntry(_ context.Context, entry *models.AccessReviewEntry) error {
	copied := *entry
	s.entries[entry.ID] = &copied
	return nil
}

func (s *fakeStore) ListEntries(_ context.Context, reviewID uuid.UUID) ([]models.AccessReviewEntry, error) {
	var out []models.AccessReviewEntry
	for _, entry := range s.entries {
		if entry.ReviewID == reviewID {
			out = append(out, *entry)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	identities map[string]*models.Identity
}

func (d *fakeDirectory) FindByEmail(_ context.Context, email string) (*models.Identity, error) {
	identity, ok := d.identities[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return identity, nil
}

type fakeGrants struct {
	tools  map[string]*models.Tool
	grants []models.UserAccess
}

func (g *fakeGrants) GetToolByName(_ context.Context, name string) (*models.Tool, error) {
	tool, ok := g.tools[name]
	if !ok {
		return nil, nil
	}
	return tool, nil
}

func (g *fakeGrants) ListActiveGrants(_ context.Context, filter GrantFilter) ([]models.UserAccess, error) {
	var out []models.UserAccess
	for _, grant := range g.grants {
		if grant.Status != models.GrantActive {
			continue
		}
		if filter.UserEmail != "" && !strings.EqualFold(grant.UserEmail, filter.UserEmail) {
			continue
		}
		if filter.ToolName != "" && grant.ToolName != filter.ToolName {
			continue
		}
		if len(filter.UserEmails) > 0 {
			found := false
			for _, email := range filter.UserEmails {
				if strings.EqualFold(grant.UserEmail, email) {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, grant)
	}
	return out, nil
}

func newTestEngine() (*Engine, *fakeStore, *fakeGrants) {
	store := newFakeStore()
	githubID := uuid.New()
	directory := &fakeDirectory{identities: map[string]*models.Identity{
		"alice@co.com": {ID: uuid.New(), Email: "alice@co.com", Status: models.IdentityActive, RiskScore: 10},
		"bob@co.com":   {ID: uuid.New(), Email: "bob@co.com", Status: models.IdentityActive},
		"eve@co.com":   {ID: uuid.New(), Email: "eve@co.com", Status: models.IdentityExit},
	}}
	grants := &fakeGrants{
		tools: map[string]*models.Tool{
			"GitHub": {ID: githubID, Name: "GitHub"},
		},
		grants: []models.UserAccess{
			{ID: uuid.New(), UserEmail: "alice@co.com", ToolID: githubID, ToolName: "GitHub", Role: "admin", Status: models.GrantActive},
			{ID: uuid.New(), UserEmail: "bob@co.com", ToolID: githubID, ToolName: "GitHub", Role: "user", Status: models.GrantActive},
			{ID: uuid.New(), UserEmail: "eve@co.com", ToolID: githubID, ToolName: "GitHub", Role: "user", Status: models.GrantActive},
			{ID: uuid.New(), UserEmail: "old@co.com", ToolID: githubID, ToolName: "GitHub", Role: "user", Status: models.GrantRevoked},
		},
	}
	return NewEngine(store, directory, grants, nil, nil), store, grants
}

func TestCreateReview_ScopeValidation(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	tests := []struct {
		name       string
		reviewType models.ReviewType
		scope      Scope
		wantErr    bool
	}{
		{"user-wise resolvable", models.ReviewUserWise, Scope{TargetUser: "alice@co.com"}, false},
		{"user-wise missing target", models.ReviewUserWise, Scope{}, true},
		{"user-wise unknown user", models.ReviewUserWise, Scope{TargetUser: "ghost@co.com"}, true},
		{"tool-wise resolvable", models.ReviewToolWise, Scope{TargetTool: "GitHub"}, false},
		{"tool-wise unknown tool", models.ReviewToolWise, Scope{TargetTool: "Figma"}, true},
		{"exit with EXIT identity", models.ReviewExitEmployee, Scope{ExitEmails: []string{"eve@co.com"}}, false},
		{"exit with active identity", models.ReviewExitEmployee, Scope{ExitEmails: []string{"alice@co.com"}}, true},
		{"exit with empty list", models.ReviewExitEmployee, Scope{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			review, err := engine.CreateReview(ctx, tt.reviewType, tt.scope)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateReview failed: %v", err)
			}
			if review.Status != models.ReviewPending {
				t.Errorf("new review status = %s, want PENDING", review.Status)
			}
			if review.TotalItems != 0 {
				t.Errorf("new review totalItems = %d, want 0", review.TotalItems)
			}
		})
	}
}

func TestPopulateEntries_Idempotent(t *testing.T) {
	engine, store, _ := newTestEngine()
	ctx := context.Background()

	review, err := engine.CreateReview(ctx, models.ReviewToolWise, Scope{TargetTool: "GitHub"})
	if err != nil {
		t.Fatalf("CreateReview failed: %v", err)
	}

	populated, err := engine.PopulateEntries(ctx, review.ID)
	if err != nil {
		t.Fatalf("PopulateEntries failed: %v", err)
	}
	if populated.TotalItems != 3 {
		t.Fatalf("totalItems = %d, want 3 (revoked grant excluded)", populated.TotalItems)
	}

	// Second invocation must not duplicate entries.
	if _, err := engine.PopulateEntries(ctx, review.ID); err != nil {
		t.Fatalf("second PopulateEntries failed: %v", err)
	}
	count, _ := store.CountEntries(ctx, review.ID)
	if count != 3 {
		t.Errorf("entry count after repopulate = %d, want 3", count)
	}
}

func TestDecideEntry_ToolWiseLifecycle(t *testing.T) {
	engine, store, _ := newTestEngine()
	ctx := context.Background()

	review, _ := engine.CreateReview(ctx, models.ReviewToolWise, Scope{TargetTool: "GitHub"})
	engine.PopulateEntries(ctx, review.ID)

	entries, _ := store.ListEntries(ctx, review.ID)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	actions := []Action{ActionApprove, ActionFlag, ActionRemove}
	for i, entry := range entries {
		if _, err := engine.DecideEntry(ctx, entry.ID, actions[i], "reviewer@co.com", ""); err != nil {
			t.Fatalf("DecideEntry failed: %v", err)
		}
	}

	final, _ := store.GetReview(ctx, review.ID)
	if final.ReviewedItems != 3 {
		t.Errorf("reviewedItems = %d, want 3", final.ReviewedItems)
	}
	if final.FlaggedItems != 1 {
		t.Errorf("flaggedItems = %d, want 1", final.FlaggedItems)
	}
	if final.RemovedItems != 1 {
		t.Errorf("removedItems = %d, want 1", final.RemovedItems)
	}
	if final.Status != models.ReviewCompleted {
		t.Errorf("status = %s, want COMPLETED", final.Status)
	}
	if final.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}
}

func TestDecideEntry_StatusMapping(t *testing.T) {
	engine, store, _ := newTestEngine()
	ctx := context.Background()

	review, _ := engine.CreateReview(ctx, models.ReviewToolWise, Scope{TargetTool: "GitHub"})
	engine.PopulateEntries(ctx, review.ID)
	entries, _ := store.ListEntries(ctx, review.ID)

	tests := []struct {
		action       Action
		wantStatus   models.EntryStatus
		shouldRemove bool
	}{
		{ActionApprove, models.EntryApproved, false},
		{ActionFlag, models.EntryFlagged, false},
		{ActionRemove, models.EntryRemoved, true},
	}

	for _, tt := range tests {
		entry, err := engine.DecideEntry(ctx, entries[0].ID, tt.action, "reviewer@co.com", "note")
		if err != nil {
			t.Fatalf("DecideEntry(%s) failed: %v", tt.action, err)
		}
		if entry.Status != tt.wantStatus {
			t.Errorf("action %s: status = %s, want %s", tt.action, entry.Status, tt.wantStatus)
		}
		if entry.ShouldRemove != tt.shouldRemove {
			t.Errorf("action %s: shouldRemove = %v, want %v", tt.action, entry.ShouldRemove, tt.shouldRemove)
		}
		if entry.ReviewedAt == nil {
			t.Errorf("action %s: reviewedAt not stamped", tt.action)
		}
	}

	if _, err := engine.DecideEntry(ctx, entries[0].ID, Action("shrug"), "reviewer@co.com", ""); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestDecideEntry_Idempotent(t *testing.T) {
	engine, store, _ := newTestEngine()
	ctx := context.Background()

	review, _ := engine.CreateReview(ctx, models.ReviewToolWise, Scope{TargetTool: "GitHub"})
	engine.PopulateEntries(ctx, review.ID)
	entries, _ := store.ListEntries(ctx, review.ID)

	first, err := engine.DecideEntry(ctx, entries[0].ID, ActionFlag, "reviewer@co.com", "")
	if err != nil {
		t.Fatalf("DecideEntry failed: %v", err)
	}
	second, err := engine.DecideEntry(ctx, entries[0].ID, ActionFlag, "reviewer@co.com", "")
	if err != nil {
		t.Fatalf("repeat DecideEntry failed: %v", err)
	}

	if first.Status != second.Status || first.ShouldRemove != second.ShouldRemove {
		t.Error("re-deciding with the same action changed the entry state")
	}

	after, _ := store.GetReview(ctx, review.ID)
	if after.ReviewedItems != 1 || after.FlaggedItems != 1 {
		t.Errorf("counters drifted after repeat decision: reviewed=%d flagged=%d",
			after.ReviewedItems, after.FlaggedItems)
	}
}

func TestCompletedReview_NoImplicitRegression(t *testing.T) {
	engine, store, _ := newTestEngine()
	ctx := context.Background()

	review, _ := engine.CreateReview(ctx, models.ReviewToolWise, Scope{TargetTool: "GitHub"})
	engine.PopulateEntries(ctx, review.ID)
	entries, _ := store.ListEntries(ctx, review.ID)

	for _, entry := range entries {
		engine.DecideEntry(ctx, entry.ID, ActionApprove, "reviewer@co.com", "")
	}

	completed, _ := store.GetReview(ctx, review.ID)
	if completed.Status != models.ReviewCompleted {
		t.Fatalf("review not completed, status=%s", completed.Status)
	}

	// Late correction on a completed review is permitted but must not
	// regress the status.
	if _, err := engine.DecideEntry(ctx, entries[0].ID, ActionRemove, "reviewer@co.com", "late correction"); err != nil {
		t.Fatalf("late DecideEntry failed: %v", err)
	}

	after, _ := store.GetReview(ctx, review.ID)
	if after.Status != models.ReviewCompleted {
		t.Errorf("status regressed to %s after late correction", after.Status)
	}
	if after.RemovedItems != 1 {
		t.Errorf("removedItems = %d, want 1 after late correction", after.RemovedItems)
	}
}

func TestCompleteReview_ZeroEntries(t *testing.T) {
	engine, store, _ := newTestEngine()
	ctx := context.Background()

	review, _ := engine.CreateReview(ctx, models.ReviewUserWise, Scope{TargetUser: "ghost2@co.com", Title: "empty"})
	if review != nil {
		t.Fatal("expected unresolvable user to fail")
	}

	review, err := engine.CreateReview(ctx, models.ReviewUserWise, Scope{TargetUser: "alice@co.com"})
	if err != nil {
		t.Fatalf("CreateReview failed: %v", err)
	}

	// No decisions: a zero-entry review never auto-completes.
	got, _ := store.GetReview(ctx, review.ID)
	if got.Status == models.ReviewCompleted {
		t.Fatal("zero-entry review auto-completed")
	}

	completed, cert, err := engine.CompleteReview(ctx, review.ID, true, "manager@co.com")
	if err != nil {
		t.Fatalf("CompleteReview failed: %v", err)
	}
	if completed.Status != models.ReviewCompleted {
		t.Errorf("status = %s, want COMPLETED", completed.Status)
	}
	if cert == nil || cert.ToolsReviewed != 0 || cert.UsersReviewed != 0 {
		t.Errorf("unexpected certification summary: %+v", cert)
	}
}

func TestCompleteReview_CertificationCounts(t *testing.T) {
	engine, store, _ := newTestEngine()
	ctx := context.Background()

	review, _ := engine.CreateReview(ctx, models.ReviewToolWise, Scope{TargetTool: "GitHub"})
	engine.PopulateEntries(ctx, review.ID)
	entries, _ := store.ListEntries(ctx, review.ID)
	engine.DecideEntry(ctx, entries[0].ID, ActionRemove, "reviewer@co.com", "")

	_, cert, err := engine.CompleteReview(ctx, review.ID, true, "manager@co.com")
	if err != nil {
		t.Fatalf("CompleteReview failed: %v", err)
	}
	if cert.ToolsReviewed != 1 {
		t.Errorf("toolsReviewed = %d, want 1", cert.ToolsReviewed)
	}
	if cert.UsersReviewed != 3 {
		t.Errorf("usersReviewed = %d, want 3", cert.UsersReviewed)
	}
	if cert.Removals != 1 {
		t.Errorf("removals = %d, want 1", cert.Removals)
	}
}
