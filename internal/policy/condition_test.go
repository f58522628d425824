package policy

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCondition_Eval(t *testing.T) {
	noon := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)

	user := UserContext{
		Email:      "carol@co.com",
		Roles:      []string{"Engineering Manager", "deploy"},
		Department: "Engineering",
		RiskScore:  45,
	}

	tests := []struct {
		name string
		cond Condition
		at   time.Time
		want bool
	}{
		{"always", Condition{Kind: CondAlways}, noon, true},
		{"has role match", Condition{Kind: CondHasRole, Role: "manager"}, noon, true},
		{"has role no match", Condition{Kind: CondHasRole, Role: "admin"}, noon, false},
		{"time window inside", Condition{Kind: CondTimeOfDayBetween, StartHour: 9, EndHour: 17}, noon, true},
		{"time window outside", Condition{Kind: CondTimeOfDayBetween, StartHour: 9, EndHour: 17}, midnight, false},
		{"time window wraps midnight", Condition{Kind: CondTimeOfDayBetween, StartHour: 22, EndHour: 6}, midnight, true},
		{"domain allowed", Condition{Kind: CondEmailDomainNotIn, Domains: []string{"co.com"}}, noon, false},
		{"domain not allowed", Condition{Kind: CondEmailDomainNotIn, Domains: []string{"other.com"}}, noon, true},
		{"risk above", Condition{Kind: CondRiskScoreAbove, Threshold: 40}, noon, true},
		{"risk not above", Condition{Kind: CondRiskScoreAbove, Threshold: 45}, noon, false},
		{"department in", Condition{Kind: CondDepartmentIn, Departments: []string{"engineering"}}, noon, true},
		{"department not in", Condition{Kind: CondDepartmentIn, Departments: []string{"Finance"}}, noon, false},
		{
			"and",
			Condition{Kind: CondAnd, Children: []Condition{
				{Kind: CondHasRole, Role: "manager"},
				{Kind: CondRiskScoreAbove, Threshold: 40},
			}},
			noon, true,
		},
		{
			"and short-circuits false",
			Condition{Kind: CondAnd, Children: []Condition{
				{Kind: CondHasRole, Role: "admin"},
				{Kind: CondAlways},
			}},
			noon, false,
		},
		{
			"or",
			Condition{Kind: CondOr, Children: []Condition{
				{Kind: CondHasRole, Role: "admin"},
				{Kind: CondDepartmentIn, Departments: []string{"Engineering"}},
			}},
			noon, true,
		},
		{"not", Condition{Kind: CondNot, Child: &Condition{Kind: CondHasRole, Role: "admin"}}, noon, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Eval(user, tt.at)
			if err != nil {
				t.Fatalf("Eval failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCondition_EvalErrors(t *testing.T) {
	noon := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cond Condition
		user UserContext
	}{
		{"unknown kind", Condition{Kind: "bogus"}, UserContext{Email: "a@co.com"}},
		{"has_role missing role", Condition{Kind: CondHasRole}, UserContext{Email: "a@co.com"}},
		{"empty and", Condition{Kind: CondAnd}, UserContext{Email: "a@co.com"}},
		{"empty or", Condition{Kind: CondOr}, UserContext{Email: "a@co.com"}},
		{"not without child", Condition{Kind: CondNot}, UserContext{Email: "a@co.com"}},
		{"domain check without domain", Condition{Kind: CondEmailDomainNotIn, Domains: []string{"co.com"}}, UserContext{Email: "no-at-sign"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cond.Eval(tt.user, noon); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeCondition_RoundTrip(t *testing.T) {
	cond := Condition{
		Kind: CondAnd,
		Children: []Condition{
			{Kind: CondHasRole, Role: "admin"},
			{Kind: CondNot, Child: &Condition{Kind: CondDepartmentIn, Departments: []string{"IT"}}},
		},
	}

	raw, err := MarshalCondition(cond)
	if err != nil {
		t.Fatalf("MarshalCondition failed: %v", err)
	}

	decoded, err := DecodeCondition(raw)
	if err != nil {
		t.Fatalf("DecodeCondition failed: %v", err)
	}
	if decoded.Kind != CondAnd || len(decoded.Children) != 2 {
		t.Errorf("round trip lost structure: %+v", decoded)
	}
	if decoded.Children[1].Child == nil || decoded.Children[1].Child.Kind != CondDepartmentIn {
		t.Errorf("nested child lost: %+v", decoded.Children[1])
	}
}

func TestDecodeCondition_Invalid(t *testing.T) {
	if _, err := DecodeCondition(nil); err == nil {
		t.Error("expected error for empty document")
	}
	if _, err := DecodeCondition(json.RawMessage(`{`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := DecodeCondition(json.RawMessage(`{"role":"admin"}`)); err == nil {
		t.Error("expected error for missing kind")
	}
}
