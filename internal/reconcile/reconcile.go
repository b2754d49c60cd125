// Package reconcile runs a bank statement through the import pipeline:
// field-map check, parsing, normalization, deduplication, rule matching and
// classification.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/cleared-dev/concilia/internal/classify"
	"github.com/cleared-dev/concilia/internal/dedup"
	"github.com/cleared-dev/concilia/internal/fieldmap"
	"github.com/cleared-dev/concilia/internal/importer"
	"github.com/cleared-dev/concilia/internal/model"
	"github.com/cleared-dev/concilia/internal/normalize"
	"github.com/cleared-dev/concilia/internal/rules"
)

// ImportedIDSource supplies the external ids already imported for an
// account with a posted date on or after since.
type ImportedIDSource interface {
	ImportedIDs(ctx context.Context, accountID string, since time.Time) (map[string]struct{}, error)
}

// Options tunes a Service.
type Options struct {
	Workers      int           // classification goroutines; GOMAXPROCS when zero
	ParseTimeout time.Duration // bound on parsing one file; none when zero
}

// Service imports statements for bank accounts.
type Service struct {
	parsers   *importer.Registry
	accounts  classify.AccountChecker
	imported  ImportedIDSource
	templates fieldmap.Templates
	opts      Options
	logger    *log.Logger
	now       func() time.Time
}

// NewService creates a Service. imported may be nil when every request
// carries its own already-imported set.
func NewService(parsers *importer.Registry, accounts classify.AccountChecker, imported ImportedIDSource, templates fieldmap.Templates, logger *log.Logger, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Service{
		parsers:   parsers,
		accounts:  accounts,
		imported:  imported,
		templates: templates,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// ImportRequest is one statement file to import.
type ImportRequest struct {
	AccountID string
	FieldMap  model.FieldMap
	File      io.Reader
	// AlreadyImported holds the account's imported external ids. When nil
	// and the service has an ImportedIDSource, the set is read from it for
	// the lookback window of the parsed transactions.
	AlreadyImported map[string]struct{}
	Rules           []model.Rule
}

// ImportStatement runs the whole pipeline for one file. Only configuration
// and structural parse failures, cancellation and the parse timeout are
// returned as errors; per-record and per-rule problems are collected in the
// outcome.
func (s *Service) ImportStatement(ctx context.Context, req ImportRequest) (*model.ImportBatchOutcome, error) {
	out := &model.ImportBatchOutcome{
		BatchID:   uuid.NewString(),
		AccountID: req.AccountID,
		StartedAt: s.now(),
	}
	logger := s.logger.With("account", req.AccountID, "batch", out.BatchID)

	if err := fieldmap.Validate(req.AccountID, req.FieldMap); err != nil {
		return nil, err
	}
	parser := s.parsers.Get(req.FieldMap.Format)
	if parser == nil {
		return nil, &model.ConfigurationError{AccountID: req.AccountID, Reason: fmt.Sprintf("no parser for format %q", req.FieldMap.Format)}
	}

	txs, err := s.parse(ctx, parser, req, out)
	if err != nil {
		return nil, err
	}
	logger.Debug("parsed statement", "format", parser.Format(), "records", out.Parsed, "rejected", len(out.RejectedRecords))

	seen := req.AlreadyImported
	if req.FieldMap.IgnoreDuplicates {
		out.Deduplicated = true
		out.WindowStart = dedup.WindowStart(txs, req.FieldMap.LookbackDays)
	}
	if seen == nil && s.imported != nil && out.Deduplicated && len(txs) > 0 {
		seen, err = s.imported.ImportedIDs(ctx, req.AccountID, out.WindowStart)
		if err != nil {
			return nil, fmt.Errorf("reading imported ids: %w", err)
		}
	}

	fresh, dups := dedup.Partition(req.AccountID, txs, seen, req.FieldMap.IgnoreDuplicates)
	for _, d := range dups {
		out.DuplicateIDs = append(out.DuplicateIDs, d.ExternalID)
	}

	set, issues := rules.Compile(req.Rules)
	out.RuleIssues = issues
	for _, is := range issues {
		logger.Warn("rule excluded", "rule", is.RuleID, "reason", is.Reason, "detail", is.Detail)
	}

	results, err := classify.ClassifyBatch(ctx, fresh, set, s.accounts, s.opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("classifying transactions: %w", err)
	}
	out.Results = results
	out.RuleIssues = append(out.RuleIssues, classify.StaleIssues(results)...)
	classify.Tally(out)

	logger.Info("import finished",
		"parsed", out.Parsed,
		"duplicates", out.Duplicates,
		"auto", out.AutoClassified,
		"suggested", out.Suggested,
		"unmatched", out.Unmatched,
		"rejected", out.Rejected,
	)
	return out, nil
}

// parse reads and normalizes every record of the file in order. Rejected
// records go to out; only fatal errors are returned.
func (s *Service) parse(ctx context.Context, parser importer.Parser, req ImportRequest, out *model.ImportBatchOutcome) ([]model.NormalizedTransaction, error) {
	if s.opts.ParseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ParseTimeout)
		defer cancel()
	}

	var txs []model.NormalizedTransaction
	for raw, err := range parser.Records(ctx, req.File, req.FieldMap) {
		var be *importer.BlockError
		switch {
		case errors.As(err, &be):
			out.Parsed++
			out.RejectedRecords = append(out.RejectedRecords, model.RecordRejected{
				Position: be.Position,
				Reason:   model.RejectMalformedBlock,
				Detail:   be.Reason,
				Raw:      model.RawRecord{Position: be.Position, Text: be.Raw},
			})
			continue
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("parsing statement: timed out after %s: %w", s.opts.ParseTimeout, err)
		case err != nil:
			return nil, fmt.Errorf("parsing statement: %w", err)
		}

		out.Parsed++
		tx, err := normalize.Normalize(raw, req.FieldMap)
		var rej *model.RecordRejected
		if errors.As(err, &rej) {
			out.RejectedRecords = append(out.RejectedRecords, *rej)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("normalizing record %d: %w", raw.Position, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// ImportAccount resolves the account's field map and imports file with the
// given rules. Already-imported ids come from the service's source.
func (s *Service) ImportAccount(ctx context.Context, acct model.BankAccount, file io.Reader, rs []model.Rule) (*model.ImportBatchOutcome, error) {
	fm, err := fieldmap.Resolve(acct, s.templates)
	if err != nil {
		return nil, err
	}
	return s.ImportStatement(ctx, ImportRequest{
		AccountID: acct.ID,
		FieldMap:  fm,
		File:      file,
		Rules:     rs,
	})
}

// Preview classifies a single transaction against rs as ImportAccount
// would, using the service's chart of accounts.
func (s *Service) Preview(tx model.NormalizedTransaction, rs []model.Rule) classify.Preview {
	return classify.PreviewTransaction(tx, rs, s.accounts)
}
