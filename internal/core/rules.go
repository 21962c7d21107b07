package core

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// AutoRule routes a message without invoking the remote classifier. A rule
// matches when both of its non-empty predicates match: SenderPattern is a
// case-insensitive wildcard pattern (* and ? only) over the sender address,
// SubjectContains a case-insensitive substring of the subject.
type AutoRule struct {
	Name            string
	SenderPattern   string
	SubjectContains string
	Folder          string
	Priority        Priority
	ActionType      ActionType
}

// RuleSet is an ordered list of auto-rules. First match wins.
type RuleSet struct {
	rules  []AutoRule
	logger *zap.Logger
}

// NewRuleSet validates the rules, runs the advisory conflict check and logs
// warnings for every ambiguous pair. Conflicts never block matching.
func NewRuleSet(rules []AutoRule, logger *zap.Logger) (*RuleSet, error) {
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d has no name", i)
		}
		if r.SenderPattern == "" && r.SubjectContains == "" {
			return nil, fmt.Errorf("rule %q has no predicates", r.Name)
		}
		if r.Folder == "" {
			return nil, fmt.Errorf("rule %q has no target folder", r.Name)
		}
		if !ValidPriority(r.Priority) {
			return nil, fmt.Errorf("rule %q has invalid priority %q", r.Name, r.Priority)
		}
		if !ValidActionType(r.ActionType) {
			return nil, fmt.Errorf("rule %q has invalid action type %q", r.Name, r.ActionType)
		}
	}

	rs := &RuleSet{rules: rules, logger: logger}
	for _, pair := range rs.DetectConflicts() {
		logger.Warn("Auto-rules can match the same message",
			zap.String("rule_a", pair[0]),
			zap.String("rule_b", pair[1]))
	}
	return rs, nil
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Match returns the first matching rule, or nil when no rule matches.
// No match is not an error.
func (rs *RuleSet) Match(msg *Message) *AutoRule {
	sender := strings.ToLower(msg.Sender)
	subject := strings.ToLower(msg.Subject)

	for i := range rs.rules {
		r := &rs.rules[i]
		if r.SenderPattern != "" && !wildcardMatch(strings.ToLower(r.SenderPattern), sender) {
			continue
		}
		if r.SubjectContains != "" && !strings.Contains(subject, strings.ToLower(r.SubjectContains)) {
			continue
		}
		return r
	}
	return nil
}

// DetectConflicts returns every pair of rule names whose predicates could
// both match a common synthetic input. Two substring predicates always
// coexist, so the deciding factor is sender-pattern intersection.
func (rs *RuleSet) DetectConflicts() [][2]string {
	var pairs [][2]string
	for i := 0; i < len(rs.rules); i++ {
		for j := i + 1; j < len(rs.rules); j++ {
			a, b := &rs.rules[i], &rs.rules[j]
			if rulesOverlap(a, b) {
				pairs = append(pairs, [2]string{a.Name, b.Name})
			}
		}
	}
	return pairs
}

func rulesOverlap(a, b *AutoRule) bool {
	if a.SenderPattern != "" && b.SenderPattern != "" {
		return patternsIntersect(strings.ToLower(a.SenderPattern), strings.ToLower(b.SenderPattern))
	}
	// At least one rule accepts any sender; a subject containing both
	// substrings always exists.
	return true
}

// wildcardMatch reports whether s matches pattern, where '*' matches any run
// of characters and '?' matches exactly one. The two-pointer scan never
// backtracks more than one star, so adversarial patterns cannot blow up.
func wildcardMatch(pattern, s string) bool {
	var pi, si int
	star, starSi := -1, 0

	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			starSi = si
			pi++
		case star >= 0:
			pi = star + 1
			starSi++
			si = starSi
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// patternsIntersect reports whether some string matches both wildcard
// patterns. Memoized two-index recursion over the pattern pair.
func patternsIntersect(p1, p2 string) bool {
	type key struct{ i, j int }
	memo := make(map[key]bool)

	var walk func(i, j int) bool
	walk = func(i, j int) bool {
		if i == len(p1) && j == len(p2) {
			return true
		}
		k := key{i, j}
		if v, ok := memo[k]; ok {
			return v
		}

		var ok bool
		switch {
		case i < len(p1) && p1[i] == '*':
			// Star matches nothing, or absorbs one unit of p2.
			ok = walk(i+1, j) || (j < len(p2) && walk(i, j+1))
		case j < len(p2) && p2[j] == '*':
			ok = walk(i, j+1) || (i < len(p1) && walk(i+1, j))
		case i < len(p1) && j < len(p2):
			if p1[i] == '?' || p2[j] == '?' || p1[i] == p2[j] {
				ok = walk(i+1, j+1)
			}
		}
		memo[k] = ok
		return ok
	}
	return walk(0, 0)
}
