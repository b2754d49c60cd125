package model

import "time"

// Status is the outcome of classifying one transaction.
type Status string

const (
	StatusUnmatched      Status = "UNMATCHED"
	StatusSuggested      Status = "SUGGESTED"
	StatusAutoClassified Status = "AUTO_CLASSIFIED"
)

// ClassificationResult is created once per imported transaction and never
// changed afterwards. Confirming a suggestion happens elsewhere.
type ClassificationResult struct {
	Transaction           NormalizedTransaction `json:"transaction"`
	MatchedRuleID         *int                  `json:"matched_rule_id"`
	TargetAccountID       *int                  `json:"target_account_id"`
	Narrative             string                `json:"narrative"`
	Status                Status                `json:"status"`
	StaleAccountReference bool                  `json:"stale_account_reference,omitempty"`
}

// RuleIssue reports a rule excluded from a batch. At most one per rule.
type RuleIssue struct {
	RuleID int    `json:"rule_id"`
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

// ImportBatchOutcome summarises one statement import.
type ImportBatchOutcome struct {
	BatchID         string                 `json:"batch_id"`
	AccountID       string                 `json:"account_id"`
	StartedAt       time.Time              `json:"started_at"`
	Parsed          int                    `json:"parsed"`
	Duplicates      int                    `json:"duplicates"`
	AutoClassified  int                    `json:"auto_classified"`
	Suggested       int                    `json:"suggested"`
	Unmatched       int                    `json:"unmatched"`
	Rejected        int                    `json:"rejected"`
	Results         []ClassificationResult `json:"results"`
	DuplicateIDs    []string               `json:"duplicate_ids,omitempty"`
	RejectedRecords []RecordRejected       `json:"rejected_records,omitempty"`
	RuleIssues      []RuleIssue            `json:"rule_issues,omitempty"`

	// Deduplicated is set when the account ignores duplicates. Only such
	// batches have their external ids recorded as imported.
	Deduplicated bool `json:"deduplicated"`
	// WindowStart is the start of the lookback window the batch was
	// deduplicated against. Recorded ids posted before it may be reused.
	WindowStart time.Time `json:"window_start,omitzero"`
}

// NewIDs returns the external ids of the classified transactions, the set a
// store marks as imported once the batch is committed.
func (o *ImportBatchOutcome) NewIDs() []string {
	var ids []string
	for _, r := range o.Results {
		if r.Transaction.ExternalID != "" {
			ids = append(ids, r.Transaction.ExternalID)
		}
	}
	return ids
}
