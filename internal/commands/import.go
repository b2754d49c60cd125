package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/concilia/internal/importer"
	"github.com/cleared-dev/concilia/internal/importlog"
	"github.com/cleared-dev/concilia/internal/model"
	"github.com/cleared-dev/concilia/internal/reconcile"
	"github.com/cleared-dev/concilia/internal/results"
	"github.com/cleared-dev/concilia/internal/store"
)

func newImportCommand(g *globals) *cobra.Command {
	var accountID, out string
	var dryRun, all bool

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a bank statement and classify its transactions",
		Long: "Import a bank statement and classify its transactions.\n\n" +
			"With --all every statement in import/ is imported and moved to import/processed/.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("give one statement file or --all")
			}
			if all && out != "" {
				return errors.New("--out cannot be combined with --all")
			}

			p, err := openProject(g.projectDir, g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			acct, err := p.account(accountID)
			if err != nil {
				return err
			}
			st, err := p.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := p.service(st)
			if err != nil {
				return err
			}
			rs, err := p.rules()
			if err != nil {
				return err
			}

			run := &importRun{p: p, st: st, svc: svc, acct: acct, rules: rs, dryRun: dryRun, w: cmd.OutOrStdout()}
			if all {
				return run.all(cmd.Context())
			}
			_, err = run.file(cmd.Context(), args[0], out)
			return err
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "bank account id (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().StringVarP(&out, "out", "o", "", "results CSV path (default <results>/<batch>.csv)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify without committing the batch")
	cmd.Flags().BoolVar(&all, "all", false, "import every statement in import/")

	return cmd
}

// importRun imports statements for one bank account.
type importRun struct {
	p      *project
	st     *store.SQLite
	svc    *reconcile.Service
	acct   model.BankAccount
	rules  []model.Rule
	dryRun bool
	w      io.Writer
}

// file imports one statement. Unless dry-running, the batch is committed,
// logged and its results exported.
func (r *importRun) file(ctx context.Context, path, out string) (*model.ImportBatchOutcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening statement: %w", err)
	}
	defer f.Close()

	o, err := r.svc.ImportAccount(ctx, r.acct, f, r.rules)
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", filepath.Base(path), err)
	}
	printSummary(r.w, path, o, r.dryRun)

	if r.dryRun {
		if out != "" {
			return o, r.export(out, o)
		}
		return o, nil
	}

	if err := r.st.CommitBatch(ctx, o); err != nil {
		return nil, fmt.Errorf("committing %s: %w", filepath.Base(path), err)
	}

	rel, err := filepath.Rel(r.p.root, path)
	if err != nil {
		rel = path
	}
	if err := importlog.Append(r.p.path(r.p.cfg.Paths.ImportLog), []importlog.Entry{importlog.FromOutcome(o, rel)}); err != nil {
		r.p.logger.Warn("failed to write import log", "err", err)
	}

	if out == "" {
		out = filepath.Join(r.p.path(r.p.cfg.Paths.Results), o.BatchID+".csv")
	}
	return o, r.export(out, o)
}

// all imports every statement in the project's import directory. Files
// that import cleanly are moved to import/processed/; failures are reported
// and the rest continue.
func (r *importRun) all(ctx context.Context) error {
	files, err := importer.Scan(r.p.root)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(r.w, "No statements to import.")
		return nil
	}

	failed := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.file(ctx, f.Path, ""); err != nil {
			failed++
			color.New(color.FgRed).Fprintf(r.w, "%s: %v\n", f.Name, err)
			continue
		}
		if r.dryRun {
			continue
		}
		if err := importer.MarkProcessed(r.p.root, f.Name); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d statements failed", failed, len(files))
	}
	return nil
}

// export writes the results CSV and, when records were rejected, a
// -rejected.csv next to it.
func (r *importRun) export(out string, o *model.ImportBatchOutcome) error {
	if err := writeFile(out, func(w io.Writer) error { return results.WriteResults(w, o.Results) }); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	fmt.Fprintf(r.w, "  results: %s\n", out)

	if len(o.RejectedRecords) == 0 {
		return nil
	}
	rejected := strings.TrimSuffix(out, filepath.Ext(out)) + "-rejected.csv"
	if err := writeFile(rejected, func(w io.Writer) error { return results.WriteRejected(w, o.RejectedRecords) }); err != nil {
		return fmt.Errorf("writing rejected records: %w", err)
	}
	fmt.Fprintf(r.w, "  rejected: %s\n", rejected)
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, path string, o *model.ImportBatchOutcome, dryRun bool) {
	title := color.New(color.Bold)
	if dryRun {
		title.Fprintf(w, "%s (dry run): account %s\n", filepath.Base(path), o.AccountID)
	} else {
		title.Fprintf(w, "%s: account %s, batch %s\n", filepath.Base(path), o.AccountID, o.BatchID)
	}
	fmt.Fprintf(w, "  parsed %d, duplicates %d, rejected %d\n", o.Parsed, o.Duplicates, o.Rejected)
	color.New(color.FgGreen).Fprintf(w, "  auto-classified %d\n", o.AutoClassified)
	color.New(color.FgYellow).Fprintf(w, "  suggested %d\n", o.Suggested)
	color.New(color.FgRed).Fprintf(w, "  unmatched %d\n", o.Unmatched)
	for _, is := range o.RuleIssues {
		color.New(color.FgYellow).Fprintf(w, "  rule %d: %s: %s\n", is.RuleID, is.Reason, is.Detail)
	}
	for _, rej := range o.RejectedRecords {
		fmt.Fprintf(w, "  record %d rejected: %s\n", rej.Position, rej.Reason)
	}
}
