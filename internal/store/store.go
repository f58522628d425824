package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/lib/pq"

	"github.com/sparrowvision/accessgov/internal/directory"
	"github.com/sparrowvision/accessgov/internal/models"
	"github.com/sparrowvision/accessgov/internal/review"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

// --- Identities ---

func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var identity models.Identity
	query := `SELECT * FROM identities WHERE LOWER(email) = LOWER($1)`
	err := s.db.GetContext(ctx, &identity, query, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &identity, err
}

func (s *Store) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	var identity models.Identity
	query := `SELECT * FROM identities WHERE id = $1`
	err := s.db.GetContext(ctx, &identity, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &identity, err
}

func (s *Store) ListIdentities(ctx context.Context, filter directory.IdentityFilter) ([]models.Identity, error) {
	query := `SELECT * FROM identities WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}
	if filter.Department != "" {
		query += fmt.Sprintf(" AND department = $%d", argIdx)
		args = append(args, filter.Department)
		argIdx++
	}
	if filter.MinRisk > 0 {
		query += fmt.Sprintf(" AND risk_score >= $%d", argIdx)
		args = append(args, filter.MinRisk)
	}

	query += " ORDER BY email"

	var identities []models.Identity
	err := s.db.SelectContext(ctx, &identities, query, args...)
	return identities, err
}

// UpsertIdentity inserts or refreshes a directory record keyed by email.
// The identity's ID is preserved across syncs.
func (s *Store) UpsertIdentity(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (
			id, email, username, display_name, status, department, job_title,
			manager_email, employee_id, groups, risk_score, last_login_at,
			exit_date, attributes, synced_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (email) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			status = EXCLUDED.status,
			department = EXCLUDED.department,
			job_title = EXCLUDED.job_title,
			manager_email = EXCLUDED.manager_email,
			employee_id = EXCLUDED.employee_id,
			groups = EXCLUDED.groups,
			risk_score = EXCLUDED.risk_score,
			last_login_at = EXCLUDED.last_login_at,
			exit_date = EXCLUDED.exit_date,
			attributes = EXCLUDED.attributes,
			synced_at = EXCLUDED.synced_at,
			updated_at = EXCLUDED.updated_at
	`
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := time.Now()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		identity.ID, identity.Email, identity.Username, identity.DisplayName,
		identity.Status, identity.Department, identity.JobTitle,
		identity.ManagerEmail, identity.EmployeeID, identity.Groups,
		identity.RiskScore, identity.LastLoginAt, identity.ExitDate,
		identity.Attributes, identity.SyncedAt, identity.CreatedAt, identity.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateIdentity(ctx context.Context, identity *models.Identity) error {
	query := `
		UPDATE identities SET
			status = $1, department = $2, job_title = $3, manager_email = $4,
			groups = $5, risk_score = $6, last_login_at = $7, exit_date = $8,
			attributes = $9, updated_at = $10
		WHERE id = $11
	`
	identity.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, query,
		identity.Status, identity.Department, identity.JobTitle, identity.ManagerEmail,
		identity.Groups, identity.RiskScore, identity.LastLoginAt, identity.ExitDate,
		identity.Attributes, identity.UpdatedAt, identity.ID,
	)
	return err
}

// --- Tools ---

func (s *Store) CreateTool(ctx context.Context, tool *models.Tool) error {
	query := `
		INSERT INTO tools (id, name, category, owner_email, connector, connector_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	tool.ID = uuid.New()
	tool.CreatedAt = time.Now()
	tool.UpdatedAt = tool.CreatedAt

	_, err := s.db.ExecContext(ctx, query,
		tool.ID, tool.Name, tool.Category, tool.OwnerEmail,
		tool.Connector, tool.ConnectorConfig, tool.CreatedAt, tool.UpdatedAt,
	)
	return err
}

func (s *Store) GetTool(ctx context.Context, id uuid.UUID) (*models.Tool, error) {
	var tool models.Tool
	query := `SELECT * FROM tools WHERE id = $1`
	err := s.db.GetContext(ctx, &tool, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &tool, err
}

func (s *Store) GetToolByName(ctx context.Context, name string) (*models.Tool, error) {
	var tool models.Tool
	query := `SELECT * FROM tools WHERE LOWER(name) = LOWER($1)`
	err := s.db.GetContext(ctx, &tool, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &tool, err
}

func (s *Store) ListTools(ctx context.Context) ([]models.Tool, error) {
	var tools []models.Tool
	query := `SELECT * FROM tools ORDER BY name`
	err := s.db.SelectContext(ctx, &tools, query)
	return tools, err
}

func (s *Store) UpdateToolLastImport(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE tools SET last_import_at = $1, updated_at = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

func (s *Store) DeleteTool(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM tools WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// --- Access grants ---

// UpsertGrant inserts or reactivates a grant keyed by (user, tool).
func (s *Store) UpsertGrant(ctx context.Context, grant *models.UserAccess) error {
	query := `
		INSERT INTO user_access (
			id, user_id, user_email, tool_id, tool_name, role, permissions,
			status, granted_at, revoked_at, last_accessed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_email, tool_id) DO UPDATE SET
			role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			status = EXCLUDED.status,
			revoked_at = EXCLUDED.revoked_at,
			last_accessed = EXCLUDED.last_accessed
	`
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now()
	}
	if grant.Status == "" {
		grant.Status = models.GrantActive
	}

	_, err := s.db.ExecContext(ctx, query,
		grant.ID, grant.UserID, grant.UserEmail, grant.ToolID, grant.ToolName,
		grant.Role, grant.Permissions, grant.Status, grant.GrantedAt,
		grant.RevokedAt, grant.LastAccessed,
	)
	return err
}

func (s *Store) GetGrant(ctx context.Context, id uuid.UUID) (*models.UserAccess, error) {
	var grant models.UserAccess
	err := s.db.GetContext(ctx, &grant, `SELECT * FROM user_access WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (s *Store) ListActiveGrants(ctx context.Context, filter review.GrantFilter) ([]models.UserAccess, error) {
	query := `SELECT * FROM user_access WHERE status = $1`
	args := []interface{}{models.GrantActive}
	argIdx := 2

	if filter.UserEmail != "" {
		query += fmt.Sprintf(" AND LOWER(user_email) = LOWER($%d)", argIdx)
		args = append(args, filter.UserEmail)
		argIdx++
	}
	if filter.ToolName != "" {
		query += fmt.Sprintf(" AND LOWER(tool_name) = LOWER($%d)", argIdx)
		args = append(args, filter.ToolName)
		argIdx++
	}
	if len(filter.UserEmails) > 0 {
		query += fmt.Sprintf(" AND user_email = ANY($%d)", argIdx)
		args = append(args, pq.Array(filter.UserEmails))
	}

	query += " ORDER BY tool_name, user_email"

	var grants []models.UserAccess
	err := s.db.SelectContext(ctx, &grants, query, args...)
	return grants, err
}

// RevokeGrant marks a grant REVOKED and stamps the revocation time.
func (s *Store) RevokeGrant(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE user_access SET status = $1, revoked_at = $2 WHERE id = $3 AND status = $4`
	result, err := s.db.ExecContext(ctx, query, models.GrantRevoked, time.Now(), id, models.GrantActive)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: active grant %s", models.ErrNotFound, id)
	}
	return nil
}
