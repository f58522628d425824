package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sparrowvision/accessgov/internal/models"
)

func (s *Store) CreatePolicy(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO policies (id, name, type, is_active, priority, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if policy.ID == uuid.Nil {
		policy.ID = uuid.New()
	}
	policy.CreatedAt = time.Now()
	policy.UpdatedAt = policy.CreatedAt

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query,
		policy.ID, policy.Name, policy.Type, policy.IsActive,
		policy.Priority, policy.CreatedBy, policy.CreatedAt, policy.UpdatedAt,
	); err != nil {
		return err
	}

	for i := range policy.Rules {
		rule := &policy.Rules[i]
		rule.PolicyID = policy.ID
		if err := insertRule(ctx, tx, rule); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertRule(ctx context.Context, tx sqlx.ExecerContext, rule *models.PolicyRule) error {
	query := `
		INSERT INTO policy_rules (id, policy_id, name, condition, action, priority, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	_, err := tx.ExecContext(ctx, query,
		rule.ID, rule.PolicyID, rule.Name, []byte(rule.Condition),
		rule.Action, rule.Priority, rule.IsActive,
	)
	return err
}

func (s *Store) GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	var policy models.Policy
	query := `SELECT * FROM policies WHERE id = $1`
	err := s.db.GetContext(ctx, &policy, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadRules(ctx, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (s *Store) loadRules(ctx context.Context, policy *models.Policy) error {
	query := `SELECT * FROM policy_rules WHERE policy_id = $1 ORDER BY priority`
	return s.db.SelectContext(ctx, &policy.Rules, query, policy.ID)
}

// ListActivePolicies returns active policies with their rules loaded, ordered
// by priority.
func (s *Store) ListActivePolicies(ctx context.Context) ([]models.Policy, error) {
	var policies []models.Policy
	query := `SELECT * FROM policies WHERE is_active = true ORDER BY priority`
	if err := s.db.SelectContext(ctx, &policies, query); err != nil {
		return nil, err
	}
	for i := range policies {
		if err := s.loadRules(ctx, &policies[i]); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]models.Policy, error) {
	var policies []models.Policy
	query := `SELECT * FROM policies ORDER BY priority`
	if err := s.db.SelectContext(ctx, &policies, query); err != nil {
		return nil, err
	}
	for i := range policies {
		if err := s.loadRules(ctx, &policies[i]); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, policy *models.Policy) error {
	query := `
		UPDATE policies SET name = $1, type = $2, is_active = $3, priority = $4, updated_at = $5
		WHERE id = $6
	`
	policy.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, query,
		policy.Name, policy.Type, policy.IsActive, policy.Priority,
		policy.UpdatedAt, policy.ID,
	)
	return err
}

func (s *Store) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM policy_rules WHERE policy_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AddRule(ctx context.Context, rule *models.PolicyRule) error {
	return insertRule(ctx, s.db, rule)
}

// --- Violations ---

// CreateViolations appends all violations from one evaluation in a single
// transaction, so either every violation from a pass is recorded or none is.
func (s *Store) CreateViolations(ctx context.Context, violations []*models.PolicyViolation) error {
	if len(violations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO policy_violations (
			id, policy_id, policy_name, user_id, user_email, violation_type,
			description, severity, detected_at, status, resolved_by, resolved_at, remediation
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for _, v := range violations {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		if _, err := tx.ExecContext(ctx, query,
			v.ID, v.PolicyID, v.PolicyName, v.UserID, v.UserEmail,
			v.ViolationType, v.Description, v.Severity, v.DetectedAt,
			v.Status, v.ResolvedBy, v.ResolvedAt, v.Remediation,
		); err != nil {
			return fmt.Errorf("inserting violation %s: %w", v.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetViolation(ctx context.Context, id uuid.UUID) (*models.PolicyViolation, error) {
	var violation models.PolicyViolation
	query := `SELECT * FROM policy_violations WHERE id = $1`
	err := s.db.GetContext(ctx, &violation, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &violation, err
}

func (s *Store) UpdateViolation(ctx context.Context, violation *models.PolicyViolation) error {
	query := `
		UPDATE policy_violations SET
			status = $1, resolved_by = $2, resolved_at = $3, remediation = $4
		WHERE id = $5
	`
	_, err := s.db.ExecContext(ctx, query,
		violation.Status, violation.ResolvedBy, violation.ResolvedAt,
		violation.Remediation, violation.ID,
	)
	return err
}

type ListViolationFilters struct {
	Status    *models.ViolationStatus
	Severity  *models.ViolationSeverity
	UserEmail string
	Limit     int
	Offset    int
}

func (s *Store) ListViolations(ctx context.Context, filters ListViolationFilters) ([]models.PolicyViolation, int, error) {
	baseQuery := `FROM policy_violations WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.Status != nil {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filters.Status)
		argIdx++
	}
	if filters.Severity != nil {
		baseQuery += fmt.Sprintf(" AND severity = $%d", argIdx)
		args = append(args, *filters.Severity)
		argIdx++
	}
	if filters.UserEmail != "" {
		baseQuery += fmt.Sprintf(" AND LOWER(user_email) = LOWER($%d)", argIdx)
		args = append(args, filters.UserEmail)
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT * " + baseQuery + " ORDER BY detected_at DESC"
	if filters.Limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		selectQuery += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	var violations []models.PolicyViolation
	if err := s.db.SelectContext(ctx, &violations, selectQuery, args...); err != nil {
		return nil, 0, err
	}
	return violations, total, nil
}
