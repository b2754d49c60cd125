// Package classify turns rule matches into classification results and
// aggregates them into an import batch outcome.
package classify

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/concilia/internal/model"
	"github.com/cleared-dev/concilia/internal/rules"
)

// AccountChecker reports whether a chart-of-accounts entry exists.
type AccountChecker interface {
	Exists(id int) bool
}

// Resolve builds the result for tx from the matcher output. An auto-apply
// match whose target account is gone becomes a suggestion flagged as stale.
// A nil checker accepts every account.
func Resolve(tx model.NormalizedTransaction, m model.Match, ok bool, accounts AccountChecker) model.ClassificationResult {
	res := model.ClassificationResult{
		Transaction: tx,
		Narrative:   tx.Description,
		Status:      model.StatusUnmatched,
	}
	if !ok {
		return res
	}

	ruleID, target := m.RuleID, m.TargetAccountID
	res.MatchedRuleID = &ruleID
	res.TargetAccountID = &target
	if m.Narrative != "" {
		res.Narrative = m.Narrative
	}

	res.Status = model.StatusSuggested
	if accounts != nil && !accounts.Exists(target) {
		res.StaleAccountReference = true
		return res
	}
	if m.AutoApply {
		res.Status = model.StatusAutoClassified
	}
	return res
}

// ClassifyBatch matches and resolves txs on up to workers goroutines.
// Results keep the order of txs. If ctx is cancelled the partial results are
// dropped and the context error is returned.
func ClassifyBatch(ctx context.Context, txs []model.NormalizedTransaction, set *rules.Set, accounts AccountChecker, workers int) ([]model.ClassificationResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]model.ClassificationResult, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, tx := range txs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, ok := set.Match(tx)
			results[i] = Resolve(tx, m, ok, accounts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Tally fills the status, duplicate and rejection counts of o from its
// collected results.
func Tally(o *model.ImportBatchOutcome) {
	o.AutoClassified, o.Suggested, o.Unmatched = 0, 0, 0
	for _, r := range o.Results {
		switch r.Status {
		case model.StatusAutoClassified:
			o.AutoClassified++
		case model.StatusSuggested:
			o.Suggested++
		case model.StatusUnmatched:
			o.Unmatched++
		}
	}
	o.Duplicates = len(o.DuplicateIDs)
	o.Rejected = len(o.RejectedRecords)
}

// StaleIssues reports each rule whose target account is missing, once.
func StaleIssues(results []model.ClassificationResult) []model.RuleIssue {
	var issues []model.RuleIssue
	reported := make(map[int]bool)
	for _, r := range results {
		if !r.StaleAccountReference || r.MatchedRuleID == nil || reported[*r.MatchedRuleID] {
			continue
		}
		reported[*r.MatchedRuleID] = true
		issues = append(issues, model.RuleIssue{
			RuleID: *r.MatchedRuleID,
			Reason: model.IssueStaleAccount,
			Detail: fmt.Sprintf("target account %d does not exist", *r.TargetAccountID),
		})
	}
	return issues
}

// Preview is the classification a single transaction would get on import.
type Preview struct {
	model.ClassificationResult
	Issues []model.RuleIssue `json:"issues,omitempty"`
}

// PreviewTransaction classifies tx against rs the way an import does:
// compile, match, then resolve against the chart of accounts.
func PreviewTransaction(tx model.NormalizedTransaction, rs []model.Rule, accounts AccountChecker) Preview {
	set, issues := rules.Compile(rs)
	m, ok := set.Match(tx)
	res := Resolve(tx, m, ok, accounts)
	return Preview{
		ClassificationResult: res,
		Issues:               append(issues, StaleIssues([]model.ClassificationResult{res})...),
	}
}
