package model

import (
	"fmt"
	"regexp"
	"strings"
)

// OperationKind restricts a rule to debits, credits or both.
type OperationKind string

const (
	OperationDebit  OperationKind = "DEBIT"
	OperationCredit OperationKind = "CREDIT"
	OperationBoth   OperationKind = "BOTH"
)

// Accepts reports whether a transaction of kind k can match.
func (o OperationKind) Accepts(k TxKind) bool {
	return o == OperationBoth || string(o) == string(k)
}

// MatchKind selects how a rule pattern is tested against a description.
type MatchKind string

const (
	MatchContains   MatchKind = "CONTAINS"
	MatchStartsWith MatchKind = "STARTS_WITH"
	MatchEndsWith   MatchKind = "ENDS_WITH"
	MatchEquals     MatchKind = "EQUALS"
	MatchRegex      MatchKind = "REGEX"
)

// Rule is a user-authored reconciliation rule. Higher Priority is evaluated
// first; ties go to the lower ID.
type Rule struct {
	ID               int           `yaml:"id" json:"id"`
	Name             string        `yaml:"name" json:"name"`
	Description      string        `yaml:"description,omitempty" json:"description,omitempty"`
	OperationKind    OperationKind `yaml:"operation_kind" json:"operation_kind"`
	MatchKind        MatchKind     `yaml:"match_kind" json:"match_kind"`
	Pattern          string        `yaml:"pattern" json:"pattern"`
	TargetAccountID  int           `yaml:"target_account_id" json:"target_account_id"`
	DefaultNarrative string        `yaml:"default_narrative,omitempty" json:"default_narrative,omitempty"`
	AutoApply        bool          `yaml:"auto_apply" json:"auto_apply"`
	Priority         int           `yaml:"priority" json:"priority"`
	Active           bool          `yaml:"active" json:"active"`
}

// Validate checks a rule as it is saved. Matching never re-validates enums.
func (r Rule) Validate() error {
	switch r.OperationKind {
	case OperationDebit, OperationCredit, OperationBoth:
	default:
		return fmt.Errorf("rule %d (%s): invalid operation_kind %q", r.ID, r.Name, r.OperationKind)
	}

	switch r.MatchKind {
	case MatchContains, MatchStartsWith, MatchEndsWith, MatchEquals:
	case MatchRegex:
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return &InvalidRulePattern{RuleID: r.ID, Pattern: r.Pattern, Err: err}
		}
	default:
		return fmt.Errorf("rule %d (%s): invalid match_kind %q", r.ID, r.Name, r.MatchKind)
	}

	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("rule %d (%s): pattern cannot be empty", r.ID, r.Name)
	}
	if r.TargetAccountID <= 0 {
		return fmt.Errorf("rule %d (%s): target_account_id is required", r.ID, r.Name)
	}
	return nil
}

// Match is a rule selected for a transaction.
type Match struct {
	RuleID          int
	TargetAccountID int
	Narrative       string
	AutoApply       bool
}
