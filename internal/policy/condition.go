package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ConditionKind tags the predicate variant.
type ConditionKind string

const (
	CondAlways           ConditionKind = "always"
	CondHasRole          ConditionKind = "has_role"
	CondTimeOfDayBetween ConditionKind = "time_of_day_between"
	CondEmailDomainNotIn ConditionKind = "email_domain_not_in"
	CondRiskScoreAbove   ConditionKind = "risk_score_above"
	CondDepartmentIn     ConditionKind = "department_in"
	CondAnd              ConditionKind = "and"
	CondOr               ConditionKind = "or"
	CondNot              ConditionKind = "not"
)

// Condition is a structured predicate over a UserContext. Rules persist it as
// a JSON document; the zero value (empty kind) is invalid.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// has_role
	Role string `json:"role,omitempty"`

	// time_of_day_between: inclusive start, exclusive end, 24h clock.
	// StartHour > EndHour wraps midnight.
	StartHour int `json:"start_hour,omitempty"`
	EndHour   int `json:"end_hour,omitempty"`

	// email_domain_not_in
	Domains []string `json:"domains,omitempty"`

	// risk_score_above
	Threshold int `json:"threshold,omitempty"`

	// department_in
	Departments []string `json:"departments,omitempty"`

	// and / or
	Children []Condition `json:"children,omitempty"`

	// not
	Child *Condition `json:"child,omitempty"`
}

// UserContext is the structured request context conditions evaluate against.
type UserContext struct {
	UserID      string    `json:"user_id,omitempty"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles,omitempty"`
	Department  string    `json:"department,omitempty"`
	RiskScore   int       `json:"risk_score,omitempty"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
}

// DecodeCondition parses a rule's stored condition document.
func DecodeCondition(raw json.RawMessage) (Condition, error) {
	var cond Condition
	if len(raw) == 0 {
		return cond, fmt.Errorf("empty condition document")
	}
	if err := json.Unmarshal(raw, &cond); err != nil {
		return cond, fmt.Errorf("parsing condition: %w", err)
	}
	if cond.Kind == "" {
		return cond, fmt.Errorf("condition missing kind")
	}
	return cond, nil
}

// Eval evaluates the predicate. now supplies the evaluation time for
// time-of-day conditions when the context carries none.
func (c Condition) Eval(user UserContext, now time.Time) (bool, error) {
	switch c.Kind {
	case CondAlways:
		return true, nil

	case CondHasRole:
		if c.Role == "" {
			return false, fmt.Errorf("has_role condition missing role")
		}
		want := strings.ToLower(c.Role)
		for _, role := range user.Roles {
			if strings.Contains(strings.ToLower(role), want) {
				return true, nil
			}
		}
		return false, nil

	case CondTimeOfDayBetween:
		at := user.RequestedAt
		if at.IsZero() {
			at = now
		}
		hour := at.Hour()
		if c.StartHour <= c.EndHour {
			return hour >= c.StartHour && hour < c.EndHour, nil
		}
		// Wraps midnight, e.g. 22..6.
		return hour >= c.StartHour || hour < c.EndHour, nil

	case CondEmailDomainNotIn:
		at := strings.LastIndex(user.Email, "@")
		if at < 0 || at == len(user.Email)-1 {
			return false, fmt.Errorf("user email %q has no domain", user.Email)
		}
		domain := strings.ToLower(user.Email[at+1:])
		for _, allowed := range c.Domains {
			if domain == strings.ToLower(allowed) {
				return false, nil
			}
		}
		return true, nil

	case CondRiskScoreAbove:
		return user.RiskScore > c.Threshold, nil

	case CondDepartmentIn:
		for _, dept := range c.Departments {
			if strings.EqualFold(user.Department, dept) {
				return true, nil
			}
		}
		return false, nil

	case CondAnd:
		if len(c.Children) == 0 {
			return false, fmt.Errorf("and condition has no children")
		}
		for _, child := range c.Children {
			ok, err := child.Eval(user, now)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case CondOr:
		if len(c.Children) == 0 {
			return false, fmt.Errorf("or condition has no children")
		}
		for _, child := range c.Children {
			ok, err := child.Eval(user, now)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case CondNot:
		if c.Child == nil {
			return false, fmt.Errorf("not condition has no child")
		}
		ok, err := c.Child.Eval(user, now)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

// MarshalCondition encodes a condition for rule storage.
func MarshalCondition(cond Condition) (json.RawMessage, error) {
	data, err := json.Marshal(cond)
	if err != nil {
		return nil, fmt.Errorf("encoding condition: %w", err)
	}
	return data, nil
}
