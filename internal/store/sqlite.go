// Package store persists import batches and the per-account set of imported
// external ids in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/cleared-dev/concilia/internal/model"
)

// ErrAlreadyImported is returned by CommitBatch when another batch committed
// one of its external ids first. Nothing of the batch is written.
var ErrAlreadyImported = errors.New("transaction already imported")

const timeLayout = "2006-01-02T15:04:05Z"

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	parsed          INTEGER NOT NULL,
	duplicates      INTEGER NOT NULL,
	auto_classified INTEGER NOT NULL,
	suggested       INTEGER NOT NULL,
	unmatched       INTEGER NOT NULL,
	rejected        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS imported_ids (
	account_id  TEXT NOT NULL,
	external_id TEXT NOT NULL,
	posted_at   TEXT NOT NULL,
	batch_id    TEXT NOT NULL REFERENCES batches(id),
	PRIMARY KEY (account_id, external_id)
);
CREATE INDEX IF NOT EXISTS imported_ids_posted ON imported_ids(account_id, posted_at);
CREATE TABLE IF NOT EXISTS results (
	batch_id          TEXT NOT NULL REFERENCES batches(id),
	position          INTEGER NOT NULL,
	external_id       TEXT NOT NULL,
	posted_at         TEXT NOT NULL,
	amount            TEXT NOT NULL,
	kind              TEXT NOT NULL,
	document_number   TEXT NOT NULL,
	description       TEXT NOT NULL,
	matched_rule_id   INTEGER,
	target_account_id INTEGER,
	narrative         TEXT NOT NULL,
	status            TEXT NOT NULL,
	stale             INTEGER NOT NULL,
	PRIMARY KEY (batch_id, position)
);`

// SQLite is a store backed by a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; SQLite serializes them anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ImportedIDs returns the external ids imported for accountID whose posted
// date is on or after since.
func (s *SQLite) ImportedIDs(ctx context.Context, accountID string, since time.Time) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM imported_ids WHERE account_id = ? AND posted_at >= ?`,
		accountID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("querying imported ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning imported id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CommitBatch writes the batch summary, its results and, for deduplicated
// batches, its external ids in one transaction. A recorded id posted before
// the batch's window start is taken over by the batch. Any other recorded id
// rolls the transaction back and ErrAlreadyImported is returned.
func (s *SQLite) CommitBatch(ctx context.Context, o *model.ImportBatchOutcome) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, account_id, started_at, parsed, duplicates, auto_classified, suggested, unmatched, rejected)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.BatchID, o.AccountID, o.StartedAt.UTC().Format(timeLayout),
		o.Parsed, o.Duplicates, o.AutoClassified, o.Suggested, o.Unmatched, o.Rejected,
	); err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}

	windowStart := o.WindowStart.UTC().Format(timeLayout)
	for _, r := range o.Results {
		t := r.Transaction
		if o.Deduplicated && t.ExternalID != "" {
			if err = recordID(ctx, tx, o, t, windowStart); err != nil {
				return err
			}
		}

		if _, err = tx.ExecContext(ctx,
			`INSERT INTO results (batch_id, position, external_id, posted_at, amount, kind, document_number,
			                      description, matched_rule_id, target_account_id, narrative, status, stale)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.BatchID, t.Position, t.ExternalID, t.PostedDate.UTC().Format(timeLayout), t.Amount.String(),
			string(t.Kind), t.DocumentNumber, t.Description, nullInt(r.MatchedRuleID), nullInt(r.TargetAccountID),
			r.Narrative, string(r.Status), boolInt(r.StaleAccountReference),
		); err != nil {
			return fmt.Errorf("inserting result %d: %w", t.Position, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func recordID(ctx context.Context, tx *sql.Tx, o *model.ImportBatchOutcome, t model.NormalizedTransaction, windowStart string) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO imported_ids (account_id, external_id, posted_at, batch_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_id, external_id) DO UPDATE
		 SET posted_at = excluded.posted_at, batch_id = excluded.batch_id
		 WHERE imported_ids.posted_at < ?`,
		o.AccountID, t.ExternalID, t.PostedDate.UTC().Format(timeLayout), o.BatchID, windowStart)
	if err != nil {
		return fmt.Errorf("recording imported id %q: %w", t.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording imported id %q: %w", t.ExternalID, err)
	}
	if n == 0 {
		return fmt.Errorf("account %s, id %q: %w", o.AccountID, t.ExternalID, ErrAlreadyImported)
	}
	return nil
}

// Results returns the stored results of a batch in statement order.
func (s *SQLite) Results(ctx context.Context, batchID string) ([]model.ClassificationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, external_id, posted_at, amount, kind, document_number, description,
		        matched_rule_id, target_account_id, narrative, status, stale
		 FROM results WHERE batch_id = ? ORDER BY position`, batchID)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var out []model.ClassificationResult
	for rows.Next() {
		var (
			r              model.ClassificationResult
			posted, amount string
			kind, status   string
			ruleID, target sql.NullInt64
		)
		if err := rows.Scan(&r.Transaction.Position, &r.Transaction.ExternalID, &posted, &amount, &kind,
			&r.Transaction.DocumentNumber, &r.Transaction.Description, &ruleID, &target,
			&r.Narrative, &status, &r.StaleAccountReference); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if r.Transaction.PostedDate, err = time.Parse(timeLayout, posted); err != nil {
			return nil, fmt.Errorf("parsing stored date %q: %w", posted, err)
		}
		if r.Transaction.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parsing stored amount %q: %w", amount, err)
		}
		r.Transaction.Kind = model.TxKind(kind)
		r.Status = model.Status(status)
		r.MatchedRuleID = intPtr(ruleID)
		r.TargetAccountID = intPtr(target)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Batch is a stored batch summary.
type Batch struct {
	ID             string
	AccountID      string
	StartedAt      time.Time
	Parsed         int
	Duplicates     int
	AutoClassified int
	Suggested      int
	Unmatched      int
	Rejected       int
}

// Batches lists the batches of an account, newest first.
func (s *SQLite) Batches(ctx context.Context, accountID string) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, started_at, parsed, duplicates, auto_classified, suggested, unmatched, rejected
		 FROM batches WHERE account_id = ? ORDER BY started_at DESC, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var (
			b       Batch
			started string
		)
		if err := rows.Scan(&b.ID, &b.AccountID, &started, &b.Parsed, &b.Duplicates,
			&b.AutoClassified, &b.Suggested, &b.Unmatched, &b.Rejected); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		if b.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parsing stored time %q: %w", started, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
