package reconcile

import (
	"strings"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

const unmatchedReason = "User not found in active directory"

// DefaultFlagKeywords mark a role as privileged when its lower-cased role
// contains any of them.
var DefaultFlagKeywords = []string{"admin", "owner", "manager"}

// Engine classifies a tool's exported user list against a directory snapshot.
type Engine struct {
	orgDomain    string
	flagKeywords []string
}

type Option func(*Engine)

// WithFlagKeywords overrides the privileged-role keyword set.
func WithFlagKeywords(keywords []string) Option {
	return func(e *Engine) {
		e.flagKeywords = keywords
	}
}

// NewEngine creates a reconciliation engine for the given organization email
// domain. Accounts whose email domain differs from it are flagged.
func NewEngine(orgDomain string, opts ...Option) *Engine {
	e := &Engine{
		orgDomain:    strings.ToLower(orgDomain),
		flagKeywords: DefaultFlagKeywords,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MatchedAccount is a tool account resolved to a directory identity.
type MatchedAccount struct {
	Account        models.ToolAccountRecord `json:"account"`
	IdentityID     uuid.UUID                `json:"identity_id"`
	IdentityStatus models.IdentityStatus    `json:"identity_status"`
}

// UnmatchedAccount is a tool account with no corresponding identity.
type UnmatchedAccount struct {
	Account models.ToolAccountRecord `json:"account"`
	Reason  string                   `json:"reason"`
}

// FlaggedAccount is a tool account with a privileged-looking role or a
// foreign email domain.
type FlaggedAccount struct {
	Account models.ToolAccountRecord `json:"account"`
	Reasons []string                 `json:"reasons"`
}

// Summary holds the cardinalities of each result set. Counts are recomputed
// from the sets themselves, never carried incrementally.
type Summary struct {
	Total      int `json:"total"`
	Matched    int `json:"matched"`
	Unmatched  int `json:"unmatched"`
	Duplicates int `json:"duplicates"`
	Flagged    int `json:"flagged"`
	Skipped    int `json:"skipped"`
}

// Result is the output of one reconciliation pass. Matched and Unmatched
// partition the well-formed input by email presence in the directory; the
// Duplicates and Flagged sets overlap freely with both.
type Result struct {
	Matched    []MatchedAccount           `json:"matched"`
	Unmatched  []UnmatchedAccount         `json:"unmatched"`
	Duplicates []models.ToolAccountRecord `json:"duplicates"`
	Flagged    []FlaggedAccount           `json:"flagged"`
	Skipped    int                        `json:"skipped"`
	Summary    Summary                    `json:"summary"`
}

// Reconcile classifies each tool account against the directory snapshot.
// Rows without an email are excluded from every set and counted in Skipped.
func (e *Engine) Reconcile(toolAccounts []models.ToolAccountRecord, directory []models.Identity) *Result {
	// Index non-EXIT identities by normalized email. Exit identities are
	// deliberately absent so their lingering tool accounts surface as
	// unmatched.
	index := make(map[string]*models.Identity, len(directory))
	for i := range directory {
		if directory[i].Status == models.IdentityExit {
			continue
		}
		index[strings.ToLower(directory[i].Email)] = &directory[i]
	}

	result := &Result{
		Matched:    make([]MatchedAccount, 0, len(toolAccounts)),
		Unmatched:  make([]UnmatchedAccount, 0),
		Duplicates: make([]models.ToolAccountRecord, 0),
		Flagged:    make([]FlaggedAccount, 0),
	}

	emailCounts := make(map[string]int, len(toolAccounts))
	for _, acct := range toolAccounts {
		if acct.Email == "" {
			continue
		}
		emailCounts[strings.ToLower(acct.Email)]++
	}

	for _, acct := range toolAccounts {
		if acct.Email == "" {
			result.Skipped++
			continue
		}
		email := strings.ToLower(acct.Email)

		if identity, ok := index[email]; ok {
			result.Matched = append(result.Matched, MatchedAccount{
				Account:        acct,
				IdentityID:     identity.ID,
				IdentityStatus: identity.Status,
			})
		} else {
			result.Unmatched = append(result.Unmatched, UnmatchedAccount{
				Account: acct,
				Reason:  unmatchedReason,
			})
		}

		// Duplicate detection is scoped to the tool export itself; every
		// occurrence of a repeated email is reported.
		if emailCounts[email] > 1 {
			result.Duplicates = append(result.Duplicates, acct)
		}

		if reasons := e.flagReasons(acct); len(reasons) > 0 {
			result.Flagged = append(result.Flagged, FlaggedAccount{
				Account: acct,
				Reasons: reasons,
			})
		}
	}

	result.Summary = Summary{
		Total:      len(toolAccounts),
		Matched:    len(result.Matched),
		Unmatched:  len(result.Unmatched),
		Duplicates: len(result.Duplicates),
		Flagged:    len(result.Flagged),
		Skipped:    result.Skipped,
	}

	return result
}

func (e *Engine) flagReasons(acct models.ToolAccountRecord) []string {
	var reasons []string

	role := strings.ToLower(acct.Role)
	for _, keyword := range e.flagKeywords {
		if strings.Contains(role, keyword) {
			reasons = append(reasons, "privileged role: "+acct.Role)
			break
		}
	}

	if domain := emailDomain(acct.Email); domain != "" && domain != e.orgDomain {
		reasons = append(reasons, "external email domain: "+domain)
	}

	return reasons
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// ExitRisk derives the lingering-access risk level for an EXIT identity from
// the count of tool accounts still associated with it.
func ExitRisk(activeToolAccounts int) models.RiskLevel {
	switch {
	case activeToolAccounts > 5:
		return models.RiskHigh
	case activeToolAccounts > 2:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
