package model

import (
	"fmt"
	"strings"
)

// ConfigurationError means a field map cannot drive an import. Nothing is
// parsed or persisted.
type ConfigurationError struct {
	AccountID string
	Missing   []CanonicalField
	Reason    string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "configuration error for account %q", e.AccountID)
	if len(e.Missing) > 0 {
		names := make([]string, len(e.Missing))
		for i, f := range e.Missing {
			names[i] = string(f)
		}
		fmt.Fprintf(&b, ": missing bindings %s", strings.Join(names, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// StructuralParseError means the file is not recognisable as any transaction
// layout. It aborts the batch.
type StructuralParseError struct {
	Format string
	Reason string
}

func (e *StructuralParseError) Error() string {
	return fmt.Sprintf("unrecognized %s statement: %s", e.Format, e.Reason)
}

// RejectReason says why a record could not be normalized.
type RejectReason string

const (
	RejectUnparseableDate   RejectReason = "UNPARSEABLE_DATE"
	RejectUnparseableAmount RejectReason = "UNPARSEABLE_AMOUNT"
	RejectMissingExternalID RejectReason = "MISSING_EXTERNAL_ID"
	RejectMalformedBlock    RejectReason = "MALFORMED_BLOCK"
)

// RecordRejected is a per-record failure. The raw record is kept for manual
// inspection and the batch continues.
type RecordRejected struct {
	Position int          `json:"position"`
	Reason   RejectReason `json:"reason"`
	Detail   string       `json:"detail"`
	Raw      RawRecord    `json:"raw"`
}

func (e *RecordRejected) Error() string {
	return fmt.Sprintf("record %d rejected (%s): %s", e.Position, e.Reason, e.Detail)
}

// InvalidRulePattern means a REGEX rule does not compile.
type InvalidRulePattern struct {
	RuleID  int
	Pattern string
	Err     error
}

func (e *InvalidRulePattern) Error() string {
	return fmt.Sprintf("rule %d: invalid pattern %q: %v", e.RuleID, e.Pattern, e.Err)
}

func (e *InvalidRulePattern) Unwrap() error { return e.Err }

// Rule issue reasons.
const (
	IssueInvalidPattern = "INVALID_PATTERN"
	IssueInvalidRule    = "INVALID_RULE"
	IssueStaleAccount   = "STALE_ACCOUNT_REFERENCE"
)
