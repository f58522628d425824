package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

// Sentinel errors shared across engines. Callers wrap them with context;
// the API layer maps them to status codes with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

type IdentityStatus string

const (
	IdentityActive    IdentityStatus = "ACTIVE"
	IdentitySuspended IdentityStatus = "SUSPENDED"
	IdentityExit      IdentityStatus = "EXIT"
)

type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

type ReviewType string

const (
	ReviewUserWise     ReviewType = "USER_WISE"
	ReviewToolWise     ReviewType = "TOOL_WISE"
	ReviewExitEmployee ReviewType = "EXIT_EMPLOYEE"
	ReviewCustom       ReviewType = "CUSTOM"
)

type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "PENDING"
	ReviewInProgress ReviewStatus = "IN_PROGRESS"
	ReviewCompleted  ReviewStatus = "COMPLETED"
)

type EntryStatus string

const (
	EntryPending  EntryStatus = "PENDING"
	EntryApproved EntryStatus = "APPROVED"
	EntryFlagged  EntryStatus = "FLAGGED"
	EntryRemoved  EntryStatus = "REMOVED"
)

type RuleAction string

const (
	ActionAllow           RuleAction = "ALLOW"
	ActionDeny            RuleAction = "DENY"
	ActionRequireApproval RuleAction = "REQUIRE_APPROVAL"
	ActionLogAndAllow     RuleAction = "LOG_AND_ALLOW"
	ActionLogAndDeny      RuleAction = "LOG_AND_DENY"
)

type ViolationSeverity string

const (
	SeverityCritical ViolationSeverity = "CRITICAL"
	SeverityHigh     ViolationSeverity = "HIGH"
	SeverityMedium   ViolationSeverity = "MEDIUM"
	SeverityLow      ViolationSeverity = "LOW"
)

type ViolationStatus string

const (
	ViolationOpen          ViolationStatus = "OPEN"
	ViolationInvestigating ViolationStatus = "INVESTIGATING"
	ViolationResolved      ViolationStatus = "RESOLVED"
	ViolationFalsePositive ViolationStatus = "FALSE_POSITIVE"
)

type GrantStatus string

const (
	GrantActive  GrantStatus = "ACTIVE"
	GrantRevoked GrantStatus = "REVOKED"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Identity is an authoritative directory record for one human. Identities are
// created by directory sync and only ever status-transitioned, never deleted.
type Identity struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Email        string         `json:"email" db:"email"`
	Username     string         `json:"username" db:"username"`
	DisplayName  string         `json:"display_name" db:"display_name"`
	Status       IdentityStatus `json:"status" db:"status"`
	Department   string         `json:"department" db:"department"`
	JobTitle     string         `json:"job_title,omitempty" db:"job_title"`
	ManagerEmail string         `json:"manager_email,omitempty" db:"manager_email"`
	EmployeeID   string         `json:"employee_id,omitempty" db:"employee_id"`
	Groups       StringArray    `json:"groups" db:"groups"`
	RiskScore    int            `json:"risk_score" db:"risk_score"`
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty" db:"last_login_at"`
	ExitDate     *time.Time     `json:"exit_date,omitempty" db:"exit_date"`
	Attributes   JSONB          `json:"attributes,omitempty" db:"attributes"`
	SyncedAt     *time.Time     `json:"synced_at,omitempty" db:"synced_at"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Tool is a third-party SaaS tool whose user list gets reconciled.
type Tool struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Category        string     `json:"category" db:"category"`
	OwnerEmail      string     `json:"owner_email,omitempty" db:"owner_email"`
	Connector       string     `json:"connector,omitempty" db:"connector"`
	ConnectorConfig JSONB      `json:"connector_config,omitempty" db:"connector_config"`
	LastImportAt    *time.Time `json:"last_import_at,omitempty" db:"last_import_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// ToolAccountRecord is a single row from a tool's exported user list. It only
// lives for the duration of a reconciliation pass and is never persisted on
// its own, so it carries no db tags.
type ToolAccountRecord struct {
	ToolName     string     `json:"tool_name"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	Permissions  []string   `json:"permissions"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
}

// UserAccess is one active grant: identity X holds access on tool Y.
type UserAccess struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	UserID       uuid.UUID   `json:"user_id" db:"user_id"`
	UserEmail    string      `json:"user_email" db:"user_email"`
	ToolID       uuid.UUID   `json:"tool_id" db:"tool_id"`
	ToolName     string      `json:"tool_name" db:"tool_name"`
	Role         string      `json:"role" db:"role"`
	Permissions  StringArray `json:"permissions" db:"permissions"`
	Status       GrantStatus `json:"status" db:"status"`
	GrantedAt    time.Time   `json:"granted_at" db:"granted_at"`
	RevokedAt    *time.Time  `json:"revoked_at,omitempty" db:"revoked_at"`
	LastAccessed *time.Time  `json:"last_accessed,omitempty" db:"last_accessed"`
}

type AccessReview struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	Title         string       `json:"title" db:"title"`
	Type          ReviewType   `json:"type" db:"type"`
	Status        ReviewStatus `json:"status" db:"status"`
	TargetUser    string       `json:"target_user,omitempty" db:"target_user"`
	TargetTool    string       `json:"target_tool,omitempty" db:"target_tool"`
	ExitEmails    StringArray  `json:"exit_emails,omitempty" db:"exit_emails"`
	CreatedBy     string       `json:"created_by" db:"created_by"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	TotalItems    int          `json:"total_items" db:"total_items"`
	ReviewedItems int          `json:"reviewed_items" db:"reviewed_items"`
	FlaggedItems  int          `json:"flagged_items" db:"flagged_items"`
	RemovedItems  int          `json:"removed_items" db:"removed_items"`
}

type AccessReviewEntry struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	ReviewID     uuid.UUID   `json:"review_id" db:"review_id"`
	UserID       uuid.UUID   `json:"user_id" db:"user_id"`
	ToolID       uuid.UUID   `json:"tool_id" db:"tool_id"`
	UserEmail    string      `json:"user_email" db:"user_email"`
	ToolName     string      `json:"tool_name" db:"tool_name"`
	Role         string      `json:"role" db:"role"`
	Permissions  StringArray `json:"permissions" db:"permissions"`
	Status       EntryStatus `json:"status" db:"status"`
	ShouldRemove bool        `json:"should_remove" db:"should_remove"`
	RiskScore    int         `json:"risk_score" db:"risk_score"`
	ReviewedBy   string      `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt   *time.Time  `json:"reviewed_at,omitempty" db:"reviewed_at"`
	Notes        string      `json:"notes,omitempty" db:"notes"`
}

type Policy struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	Type      string       `json:"type" db:"type"`
	Rules     []PolicyRule `json:"rules" db:"-"`
	IsActive  bool         `json:"is_active" db:"is_active"`
	Priority  int          `json:"priority" db:"priority"`
	CreatedBy string       `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// PolicyRule pairs a structured condition with an action. The condition is
// stored as a JSON document and decoded by the policy engine.
type PolicyRule struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	PolicyID  uuid.UUID       `json:"policy_id" db:"policy_id"`
	Name      string          `json:"name" db:"name"`
	Condition json.RawMessage `json:"condition" db:"condition"`
	Action    RuleAction      `json:"action" db:"action"`
	Priority  int             `json:"priority" db:"priority"`
	IsActive  bool            `json:"is_active" db:"is_active"`
}

type PolicyViolation struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	PolicyID      uuid.UUID         `json:"policy_id" db:"policy_id"`
	PolicyName    string            `json:"policy_name" db:"policy_name"`
	UserID        *uuid.UUID        `json:"user_id,omitempty" db:"user_id"`
	UserEmail     string            `json:"user_email" db:"user_email"`
	ViolationType string            `json:"violation_type" db:"violation_type"`
	Description   string            `json:"description" db:"description"`
	Severity      ViolationSeverity `json:"severity" db:"severity"`
	DetectedAt    time.Time         `json:"detected_at" db:"detected_at"`
	Status        ViolationStatus   `json:"status" db:"status"`
	ResolvedBy    string            `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
	Remediation   string            `json:"remediation,omitempty" db:"remediation"`
}

// AuditEvent is one append-only ledger row. Events are never updated or
// deleted once written.
type AuditEvent struct {
	ID          uuid.UUID `json:"id" db:"id"`
	EventType   string    `json:"event_type" db:"event_type"`
	Actor       string    `json:"actor" db:"actor"`
	SubjectID   string    `json:"subject_id" db:"subject_id"`
	SubjectKind string    `json:"subject_kind" db:"subject_kind"`
	Detail      JSONB     `json:"detail,omitempty" db:"detail"`
	OccurredAt  time.Time `json:"occurred_at" db:"occurred_at"`
}

// CertificationSummary carries the aggregate counts supplied to a
// certification record when a review is completed with certify=true.
type CertificationSummary struct {
	ReviewID      uuid.UUID `json:"review_id"`
	ToolsReviewed int       `json:"tools_reviewed"`
	UsersReviewed int       `json:"users_reviewed"`
	Removals      int       `json:"removals"`
	Flags         int       `json:"flags"`
	CertifiedBy   string    `json:"certified_by"`
	CertifiedAt   time.Time `json:"certified_at"`
}
