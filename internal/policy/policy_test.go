package policy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

type fakeStore struct {
	policies   []models.Policy
	violations map[uuid.UUID]*models.PolicyViolation
	appended   [][]*models.PolicyViolation
}

func newFakeStore(policies ...models.Policy) *fakeStore {
	return &fakeStore{
		policies:   policies,
		violations: make(map[uuid.UUID]*models.PolicyViolation),
	}
}

func (s *fakeStore) ListActivePolicies(_ context.Context) ([]models.Policy, error) {
	var active []models.Policy
	for _, pol := range s.policies {
		if pol.IsActive {
			active = append(active, pol)
		}
	}
	return active, nil
}

func (s *fakeStore) CreateViolations(_ context.Context, violations []*models.PolicyViolation) error {
	s.appended = append(s.appended, violations)
	for _, v := range violations {
		copied := *v
		s.violations[v.ID] = &copied
	}
	return nil
}

func (s *fakeStore) GetViolation(_ context.Context, id uuid.UUID) (*models.PolicyViolation, error) {
	v, ok := s.violations[id]
	if !ok {
		return nil, nil
	}
	copied := *v
	return &copied, nil
}

func (s *fakeStore) UpdateViolation(_ context.Context, violation *models.PolicyViolation) error {
	copied := *violation
	s.violations[violation.ID] = &copied
	return nil
}

func mustCondition(t *testing.T, cond Condition) json.RawMessage {
	t.Helper()
	raw, err := MarshalCondition(cond)
	if err != nil {
		t.Fatalf("MarshalCondition failed: %v", err)
	}
	return raw
}

func testPolicy(t *testing.T, name string, priority int, rules ...models.PolicyRule) models.Policy {
	t.Helper()
	id := uuid.New()
	for i := range rules {
		rules[i].ID = uuid.New()
		rules[i].PolicyID = id
		rules[i].IsActive = true
	}
	return models.Policy{
		ID:       id,
		Name:     name,
		Type:     "ACCESS",
		Rules:    rules,
		IsActive: true,
		Priority: priority,
	}
}

func TestEvaluate_DefaultAllow(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, nil, nil)

	decision, err := engine.Evaluate(context.Background(), Request{
		Resource: "GitHub",
		Action:   "access",
		User:     UserContext{Email: "a@co.com"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Effect != EffectAllow {
		t.Errorf("effect = %s, want ALLOW", decision.Effect)
	}
	if len(decision.Violations) != 0 {
		t.Errorf("expected no violations, got %d", len(decision.Violations))
	}
}

func TestEvaluate_ExternalDomainRequiresApproval(t *testing.T) {
	store := newFakeStore(testPolicy(t, "external-users", 1, models.PolicyRule{
		Name:      "external-domain",
		Condition: mustCondition(t, Condition{Kind: CondEmailDomainNotIn, Domains: []string{"co.com"}}),
		Action:    models.ActionRequireApproval,
	}))
	engine := NewEngine(store, nil, nil)

	decision, err := engine.Evaluate(context.Background(), Request{
		Resource: "GitHub",
		Action:   "access",
		User:     UserContext{Email: "x@external.com"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Effect != EffectRequireApproval {
		t.Errorf("effect = %s, want REQUIRE_APPROVAL", decision.Effect)
	}
	if len(decision.Violations) != 1 {
		t.Fatalf("expected exactly one violation, got %d", len(decision.Violations))
	}
	v := decision.Violations[0]
	if v.Severity != models.SeverityMedium {
		t.Errorf("severity = %s, want MEDIUM", v.Severity)
	}
	if v.Status != models.ViolationOpen {
		t.Errorf("status = %s, want OPEN", v.Status)
	}
	if len(store.appended) != 1 {
		t.Errorf("expected one atomic append, got %d", len(store.appended))
	}
}

func TestEvaluate_DenyAbsorbs(t *testing.T) {
	deny := testPolicy(t, "deny-high-risk", 5, models.PolicyRule{
		Name:      "high-risk",
		Condition: mustCondition(t, Condition{Kind: CondRiskScoreAbove, Threshold: 70}),
		Action:    models.ActionDeny,
	})
	approve := testPolicy(t, "approval-after", 10, models.PolicyRule{
		Name:      "always-approve",
		Condition: mustCondition(t, Condition{Kind: CondAlways}),
		Action:    models.ActionRequireApproval,
	})
	allow := testPolicy(t, "allow-late", 20, models.PolicyRule{
		Name:      "always-allow",
		Condition: mustCondition(t, Condition{Kind: CondAlways}),
		Action:    models.ActionAllow,
	})

	// Evaluate with deny first and deny last: the outcome must be DENY in
	// both orderings.
	for _, policies := range [][]models.Policy{
		{deny, approve, allow},
		{allow, approve, deny},
	} {
		for i := range policies {
			policies[i].Priority = i
		}
		store := newFakeStore(policies...)
		engine := NewEngine(store, nil, nil)

		decision, err := engine.Evaluate(context.Background(), Request{
			User: UserContext{Email: "a@co.com", RiskScore: 90},
		})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if decision.Effect != EffectDeny {
			t.Errorf("effect = %s, want DENY regardless of order", decision.Effect)
		}
	}
}

func TestEvaluate_DenySeverityHigh(t *testing.T) {
	store := newFakeStore(testPolicy(t, "deny-admins-after-hours", 1, models.PolicyRule{
		Name: "admin-after-hours",
		Condition: mustCondition(t, Condition{
			Kind: CondAnd,
			Children: []Condition{
				{Kind: CondHasRole, Role: "admin"},
				{Kind: CondTimeOfDayBetween, StartHour: 22, EndHour: 6},
			},
		}),
		Action: models.ActionDeny,
	}))
	engine := NewEngine(store, nil, nil)
	engine.now = func() time.Time {
		return time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	}

	decision, err := engine.Evaluate(context.Background(), Request{
		User: UserContext{Email: "a@co.com", Roles: []string{"org-admin"}},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Effect != EffectDeny {
		t.Fatalf("effect = %s, want DENY", decision.Effect)
	}
	if decision.Violations[0].Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want HIGH", decision.Violations[0].Severity)
	}
}

func TestEvaluate_LogOnlyActionsDoNotChangeDecision(t *testing.T) {
	store := newFakeStore(testPolicy(t, "log-everything", 1, models.PolicyRule{
		Name:      "log-all",
		Condition: mustCondition(t, Condition{Kind: CondAlways}),
		Action:    models.ActionLogAndDeny,
	}))
	engine := NewEngine(store, nil, nil)

	decision, err := engine.Evaluate(context.Background(), Request{
		User: UserContext{Email: "a@co.com"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Effect != EffectAllow {
		t.Errorf("effect = %s, want ALLOW for log-only action", decision.Effect)
	}
	if len(decision.Violations) != 0 {
		t.Errorf("log-only action generated %d violations", len(decision.Violations))
	}
	if len(decision.AppliedPolicies) != 1 || decision.AppliedPolicies[0] != "log-everything" {
		t.Errorf("appliedPolicies = %v, want [log-everything]", decision.AppliedPolicies)
	}
}

func TestEvaluate_AppliedPoliciesDedupByPolicy(t *testing.T) {
	store := newFakeStore(testPolicy(t, "multi-rule", 1,
		models.PolicyRule{
			Name:      "rule-a",
			Condition: mustCondition(t, Condition{Kind: CondAlways}),
			Action:    models.ActionRequireApproval,
		},
		models.PolicyRule{
			Name:      "rule-b",
			Condition: mustCondition(t, Condition{Kind: CondAlways}),
			Action:    models.ActionRequireApproval,
		},
	))
	engine := NewEngine(store, nil, nil)

	decision, err := engine.Evaluate(context.Background(), Request{
		User: UserContext{Email: "a@co.com"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(decision.AppliedPolicies) != 1 {
		t.Errorf("appliedPolicies = %v, want single entry per policy", decision.AppliedPolicies)
	}
	if len(decision.Violations) != 2 {
		t.Errorf("violations = %d, want 2 (one per matching rule)", len(decision.Violations))
	}
}

func TestEvaluate_BrokenConditionDoesNotAbort(t *testing.T) {
	broken := models.PolicyRule{
		Name:      "broken",
		Condition: json.RawMessage(`{"kind":"no_such_kind"}`),
		Action:    models.ActionDeny,
		Priority:  1,
	}
	working := models.PolicyRule{
		Name:      "working",
		Condition: mustCondition(t, Condition{Kind: CondAlways}),
		Action:    models.ActionRequireApproval,
		Priority:  2,
	}
	store := newFakeStore(testPolicy(t, "mixed", 1, broken, working))
	engine := NewEngine(store, nil, nil)

	decision, err := engine.Evaluate(context.Background(), Request{
		User: UserContext{Email: "a@co.com"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Effect != EffectRequireApproval {
		t.Errorf("effect = %s, want REQUIRE_APPROVAL from the surviving rule", decision.Effect)
	}
	if decision.EvalErrors != 1 {
		t.Errorf("evalErrors = %d, want 1", decision.EvalErrors)
	}
}

func TestEvaluate_InactiveRulesAndPoliciesSkipped(t *testing.T) {
	inactive := testPolicy(t, "disabled-policy", 1, models.PolicyRule{
		Name:      "never-runs",
		Condition: mustCondition(t, Condition{Kind: CondAlways}),
		Action:    models.ActionDeny,
	})
	inactive.IsActive = false

	withInactiveRule := testPolicy(t, "active-policy", 2, models.PolicyRule{
		Name:      "also-never-runs",
		Condition: mustCondition(t, Condition{Kind: CondAlways}),
		Action:    models.ActionDeny,
	})
	withInactiveRule.Rules[0].IsActive = false

	store := newFakeStore(inactive, withInactiveRule)
	engine := NewEngine(store, nil, nil)

	decision, err := engine.Evaluate(context.Background(), Request{
		User: UserContext{Email: "a@co.com"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Effect != EffectAllow {
		t.Errorf("effect = %s, want ALLOW when nothing active matches", decision.Effect)
	}
}

func TestResolveViolation(t *testing.T) {
	store := newFakeStore(testPolicy(t, "external-users", 1, models.PolicyRule{
		Name:      "external-domain",
		Condition: mustCondition(t, Condition{Kind: CondEmailDomainNotIn, Domains: []string{"co.com"}}),
		Action:    models.ActionDeny,
	}))
	engine := NewEngine(store, nil, nil)

	decision, _ := engine.Evaluate(context.Background(), Request{
		User: UserContext{Email: "x@external.com"},
	})
	id := decision.Violations[0].ID

	resolved, err := engine.ResolveViolation(context.Background(), id, "secops@co.com", "access revoked")
	if err != nil {
		t.Fatalf("ResolveViolation failed: %v", err)
	}
	if resolved.Status != models.ViolationResolved {
		t.Errorf("status = %s, want RESOLVED", resolved.Status)
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedBy != "secops@co.com" {
		t.Error("resolution stamps missing")
	}
	if resolved.Remediation != "access revoked" {
		t.Errorf("remediation = %q", resolved.Remediation)
	}

	// One-way: re-resolution conflicts.
	if _, err := engine.ResolveViolation(context.Background(), id, "secops@co.com", "again"); err == nil {
		t.Error("expected conflict on re-resolution")
	}

	// Unknown id.
	if _, err := engine.ResolveViolation(context.Background(), uuid.New(), "secops@co.com", ""); err == nil {
		t.Error("expected not-found for unknown violation")
	}
}
