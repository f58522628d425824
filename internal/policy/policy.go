package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

// Effect is the combined outcome of one evaluation.
type Effect string

const (
	EffectAllow           Effect = "ALLOW"
	EffectDeny            Effect = "DENY"
	EffectRequireApproval Effect = "REQUIRE_APPROVAL"
)

// Store defines the persistence interface for policies and violations.
type Store interface {
	// ListActivePolicies returns active policies with their rules loaded.
	ListActivePolicies(ctx context.Context) ([]models.Policy, error)
	// CreateViolations appends all violations from one evaluation as a
	// single atomic write.
	CreateViolations(ctx context.Context, violations []*models.PolicyViolation) error
	GetViolation(ctx context.Context, id uuid.UUID) (*models.PolicyViolation, error)
	UpdateViolation(ctx context.Context, violation *models.PolicyViolation) error
}

// Recorder appends evaluation outcomes to the audit ledger.
type Recorder interface {
	Append(ctx context.Context, event *models.AuditEvent) error
}

// Request is one access request to evaluate.
type Request struct {
	Resource string      `json:"resource"`
	Action   string      `json:"action"`
	User     UserContext `json:"user"`
}

// Decision is the outcome of evaluating a request against all active
// policies.
type Decision struct {
	Effect          Effect                    `json:"effect"`
	Violations      []*models.PolicyViolation `json:"violations"`
	AppliedPolicies []string                  `json:"applied_policies"`
	// EvalErrors counts rules whose condition failed to evaluate and were
	// treated as non-matching. A non-zero count signals misconfiguration.
	EvalErrors int `json:"eval_errors,omitempty"`
}

// Engine evaluates access requests against the active policy set.
type Engine struct {
	store  Store
	audit  Recorder
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(store Store, audit Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate runs every active rule of every active policy against the request.
// DENY absorbs all later outcomes; REQUIRE_APPROVAL overrides ALLOW only.
// Log-only actions record the policy without affecting the decision. With no
// matching rules the decision is ALLOW.
func (e *Engine) Evaluate(ctx context.Context, request Request) (*Decision, error) {
	policies, err := e.store.ListActivePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active policies: %w", err)
	}

	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].Priority < policies[j].Priority
	})

	decision := &Decision{
		Effect:          EffectAllow,
		Violations:      make([]*models.PolicyViolation, 0),
		AppliedPolicies: make([]string, 0),
	}
	applied := make(map[uuid.UUID]bool)
	now := e.now()

	for _, pol := range policies {
		rules := make([]models.PolicyRule, len(pol.Rules))
		copy(rules, pol.Rules)
		sort.SliceStable(rules, func(i, j int) bool {
			return rules[i].Priority < rules[j].Priority
		})

		for _, rule := range rules {
			if !rule.IsActive {
				continue
			}

			matched, evalErr := e.evalRule(rule, request.User, now)
			if evalErr != nil {
				// A broken condition must not abort the pass; it is
				// treated as non-matching and counted so silent
				// misconfiguration stays detectable.
				decision.EvalErrors++
				e.logger.Error("rule condition evaluation failed",
					"policy", pol.Name, "rule", rule.Name, "error", evalErr)
				continue
			}
			if !matched {
				continue
			}

			if !applied[pol.ID] {
				applied[pol.ID] = true
				decision.AppliedPolicies = append(decision.AppliedPolicies, pol.Name)
			}

			switch rule.Action {
			case models.ActionDeny:
				decision.Effect = EffectDeny
				decision.Violations = append(decision.Violations,
					e.newViolation(pol, rule, request, models.SeverityHigh, now))
			case models.ActionRequireApproval:
				if decision.Effect != EffectDeny {
					decision.Effect = EffectRequireApproval
				}
				decision.Violations = append(decision.Violations,
					e.newViolation(pol, rule, request, models.SeverityMedium, now))
			case models.ActionAllow, models.ActionLogAndAllow, models.ActionLogAndDeny:
				// Log-only and allow actions never change the running
				// decision and generate no violation.
			}
		}
	}

	if len(decision.Violations) > 0 {
		if err := e.store.CreateViolations(ctx, decision.Violations); err != nil {
			return nil, fmt.Errorf("appending violations: %w", err)
		}
	}

	e.record(ctx, "policy.evaluated", request.User.Email, models.JSONB{
		"resource":   request.Resource,
		"action":     request.Action,
		"effect":     string(decision.Effect),
		"violations": len(decision.Violations),
	})

	return decision, nil
}

func (e *Engine) evalRule(rule models.PolicyRule, user UserContext, now time.Time) (bool, error) {
	cond, err := DecodeCondition(rule.Condition)
	if err != nil {
		return false, err
	}
	return cond.Eval(user, now)
}

func (e *Engine) newViolation(pol models.Policy, rule models.PolicyRule, request Request, severity models.ViolationSeverity, now time.Time) *models.PolicyViolation {
	var userID *uuid.UUID
	if request.User.UserID != "" {
		if parsed, err := uuid.Parse(request.User.UserID); err == nil {
			userID = &parsed
		}
	}
	return &models.PolicyViolation{
		ID:            uuid.New(),
		PolicyID:      pol.ID,
		PolicyName:    pol.Name,
		UserID:        userID,
		UserEmail:     request.User.Email,
		ViolationType: rule.Name,
		Description: fmt.Sprintf("rule %q matched for %s on %s/%s",
			rule.Name, request.User.Email, request.Resource, request.Action),
		Severity:   severity,
		DetectedAt: now,
		Status:     models.ViolationOpen,
	}
}

// ResolveViolation closes a violation. Resolution is one-way: a resolved
// violation cannot be reopened or re-resolved through this engine.
func (e *Engine) ResolveViolation(ctx context.Context, id uuid.UUID, resolvedBy, remediation string) (*models.PolicyViolation, error) {
	violation, err := e.store.GetViolation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading violation: %w", err)
	}
	if violation == nil {
		return nil, fmt.Errorf("%w: violation %s", models.ErrNotFound, id)
	}
	if violation.Status == models.ViolationResolved {
		return nil, fmt.Errorf("%w: violation %s already resolved", models.ErrConflict, id)
	}

	now := e.now()
	violation.Status = models.ViolationResolved
	violation.ResolvedBy = resolvedBy
	violation.ResolvedAt = &now
	violation.Remediation = remediation

	if err := e.store.UpdateViolation(ctx, violation); err != nil {
		return nil, fmt.Errorf("resolving violation: %w", err)
	}

	e.record(ctx, "violation.resolved", resolvedBy, models.JSONB{
		"violation_id": id.String(),
		"policy":       violation.PolicyName,
	})

	return violation, nil
}

func (e *Engine) record(ctx context.Context, eventType, actor string, detail models.JSONB) {
	if e.audit == nil {
		return
	}
	event := &models.AuditEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		Actor:       actor,
		SubjectKind: "policy",
		Detail:      detail,
		OccurredAt:  time.Now(),
	}
	if err := e.audit.Append(ctx, event); err != nil {
		e.logger.Error("failed to append audit event", "event", eventType, "error", err)
	}
}
