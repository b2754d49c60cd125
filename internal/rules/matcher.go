// Package rules evaluates reconciliation rules against statement
// transactions and stores the rule set.
package rules

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/cleared-dev/concilia/internal/model"
)

type compiledRule struct {
	rule   model.Rule
	folded string         // case-folded pattern for the string match kinds
	re     *regexp.Regexp // REGEX only
}

// Set is an immutable, ordered snapshot of the active rules. It is safe for
// concurrent use.
type Set struct {
	rules []compiledRule
}

// Compile builds a Set from rules. Inactive rules are dropped. Rules that do
// not validate are excluded and reported once each; they never abort the
// compile. Evaluation order is priority descending, then id ascending.
func Compile(rules []model.Rule) (*Set, []model.RuleIssue) {
	var (
		set    Set
		issues []model.RuleIssue
	)
	fold := cases.Fold()

	for _, r := range rules {
		if !r.Active {
			continue
		}
		if err := r.Validate(); err != nil {
			reason := model.IssueInvalidRule
			var ip *model.InvalidRulePattern
			if errors.As(err, &ip) {
				reason = model.IssueInvalidPattern
			}
			issues = append(issues, model.RuleIssue{RuleID: r.ID, Reason: reason, Detail: err.Error()})
			continue
		}

		c := compiledRule{rule: r}
		if r.MatchKind == model.MatchRegex {
			// (?-i) inside the pattern turns case sensitivity back on.
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				issues = append(issues, model.RuleIssue{RuleID: r.ID, Reason: model.IssueInvalidPattern, Detail: err.Error()})
				continue
			}
			c.re = re
		} else {
			c.folded = fold.String(r.Pattern)
		}
		set.rules = append(set.rules, c)
	}

	sort.SliceStable(set.rules, func(i, j int) bool {
		a, b := set.rules[i].rule, set.rules[j].rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
	return &set, issues
}

// Len returns the number of rules that take part in matching.
func (s *Set) Len() int { return len(s.rules) }

// Rules returns the evaluated rules in evaluation order.
func (s *Set) Rules() []model.Rule {
	out := make([]model.Rule, len(s.rules))
	for i, c := range s.rules {
		out[i] = c.rule
	}
	return out
}

// Match returns the first rule, in evaluation order, whose operation kind
// accepts the transaction and whose pattern is satisfied by its description.
func (s *Set) Match(tx model.NormalizedTransaction) (model.Match, bool) {
	if s == nil || len(s.rules) == 0 {
		return model.Match{}, false
	}
	// A Caser keeps state, so each call gets its own.
	desc := cases.Fold().String(tx.Description)

	for _, c := range s.rules {
		if !c.rule.OperationKind.Accepts(tx.Kind) {
			continue
		}
		if !c.matches(desc, tx.Description) {
			continue
		}
		return model.Match{
			RuleID:          c.rule.ID,
			TargetAccountID: c.rule.TargetAccountID,
			Narrative:       c.rule.DefaultNarrative,
			AutoApply:       c.rule.AutoApply,
		}, true
	}
	return model.Match{}, false
}

func (c compiledRule) matches(folded, original string) bool {
	switch c.rule.MatchKind {
	case model.MatchContains:
		return strings.Contains(folded, c.folded)
	case model.MatchStartsWith:
		return strings.HasPrefix(folded, c.folded)
	case model.MatchEndsWith:
		return strings.HasSuffix(folded, c.folded)
	case model.MatchEquals:
		return folded == c.folded
	case model.MatchRegex:
		return c.re.MatchString(original)
	}
	return false
}
