package core

import (
	"testing"

	"go.uber.org/zap"
)

func testRuleSet(t *testing.T, rules []AutoRule) *RuleSet {
	t.Helper()
	rs, err := NewRuleSet(rules, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	return rs
}

func TestRuleSetFirstMatchWins(t *testing.T) {
	rs := testRuleSet(t, []AutoRule{
		{Name: "github", SenderPattern: "*@github.com", Folder: "Reference/Dev", Priority: PriorityP4, ActionType: ActionNone},
		{Name: "github-prs", SenderPattern: "notifications@github.com", SubjectContains: "PR", Folder: "Reference/PRs", Priority: PriorityP3, ActionType: ActionReview},
	})

	msg := &Message{Sender: "notifications@github.com", Subject: "New PR opened"}
	r := rs.Match(msg)
	if r == nil {
		t.Fatal("expected a match")
	}
	if r.Name != "github" {
		t.Fatalf("first rule should win, got %q", r.Name)
	}
	if r.Folder != "Reference/Dev" || r.Priority != PriorityP4 {
		t.Fatalf("unexpected rule output: %+v", r)
	}
}

func TestRuleSetCaseInsensitive(t *testing.T) {
	rs := testRuleSet(t, []AutoRule{
		{Name: "billing", SenderPattern: "*@Billing.Example.COM", SubjectContains: "Invoice", Folder: "Finance", Priority: PriorityP2, ActionType: ActionFile},
	})

	msg := &Message{Sender: "noreply@billing.example.com", Subject: "your INVOICE is ready"}
	if rs.Match(msg) == nil {
		t.Fatal("expected case-insensitive match")
	}
}

func TestRuleSetNoMatchIsNil(t *testing.T) {
	rs := testRuleSet(t, []AutoRule{
		{Name: "github", SenderPattern: "*@github.com", Folder: "Reference/Dev", Priority: PriorityP4, ActionType: ActionNone},
	})

	if r := rs.Match(&Message{Sender: "a@example.com", Subject: "hi"}); r != nil {
		t.Fatalf("expected no match, got %q", r.Name)
	}
}

func TestRuleSetValidation(t *testing.T) {
	cases := []struct {
		name  string
		rules []AutoRule
	}{
		{"no predicates", []AutoRule{{Name: "r", Folder: "F", Priority: PriorityP3, ActionType: ActionNone}}},
		{"no folder", []AutoRule{{Name: "r", SenderPattern: "*", Priority: PriorityP3, ActionType: ActionNone}}},
		{"bad priority", []AutoRule{{Name: "r", SenderPattern: "*", Folder: "F", Priority: "P9", ActionType: ActionNone}}},
		{"bad action", []AutoRule{{Name: "r", SenderPattern: "*", Folder: "F", Priority: PriorityP3, ActionType: "shred"}}},
		{"no name", []AutoRule{{SenderPattern: "*", Folder: "F", Priority: PriorityP3, ActionType: ActionNone}}},
	}
	for _, tc := range cases {
		if _, err := NewRuleSet(tc.rules, zap.NewNop()); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestWildcardMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*@github.com", "notifications@github.com", true},
		{"*@github.com", "notifications@github.com.evil.org", false},
		{"noreply@*", "noreply@anywhere.net", true},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*", "", true},
		{"*", "anything", true},
		{"", "", true},
		{"", "x", false},
		{"*a*a*a*a*a*a*a*a*b", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"bill*@*.example.com", "billing-team@mail.example.com", true},
	}
	for _, tc := range cases {
		if got := wildcardMatch(tc.pattern, tc.s); got != tc.want {
			t.Errorf("wildcardMatch(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}

func TestPatternsIntersect(t *testing.T) {
	cases := []struct {
		p1, p2 string
		want   bool
	}{
		{"*@github.com", "notifications@*", true},
		{"*@github.com", "*@gitlab.com", false},
		{"a*", "*b", true},
		{"abc", "abd", false},
		{"a?c", "abc", true},
		{"?", "ab", false},
		{"*", "literally-anything", true},
	}
	for _, tc := range cases {
		if got := patternsIntersect(tc.p1, tc.p2); got != tc.want {
			t.Errorf("patternsIntersect(%q, %q) = %v, want %v", tc.p1, tc.p2, got, tc.want)
		}
	}
}

func TestDetectConflicts(t *testing.T) {
	rs := testRuleSet(t, []AutoRule{
		{Name: "github-all", SenderPattern: "*@github.com", Folder: "Reference/Dev", Priority: PriorityP4, ActionType: ActionNone},
		{Name: "notifications", SenderPattern: "notifications@*", Folder: "Updates", Priority: PriorityP4, ActionType: ActionNone},
		{Name: "gitlab", SenderPattern: "*@gitlab.com", SubjectContains: "pipeline", Folder: "Reference/CI", Priority: PriorityP4, ActionType: ActionNone},
	})

	pairs := rs.DetectConflicts()
	found := false
	for _, p := range pairs {
		if p[0] == "github-all" && p[1] == "notifications" {
			found = true
		}
		if p[0] == "github-all" && p[1] == "gitlab" {
			t.Error("github-all and gitlab sender patterns cannot both match")
		}
	}
	if !found {
		t.Error("expected github-all/notifications conflict to be reported")
	}
}
