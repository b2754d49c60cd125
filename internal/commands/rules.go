package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/concilia/internal/accounts"
	"github.com/cleared-dev/concilia/internal/classify"
	"github.com/cleared-dev/concilia/internal/model"
	"github.com/cleared-dev/concilia/internal/rules"
)

func newRulesCommand(g *globals) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and maintain reconciliation rules",
	}
	rulesCmd.AddCommand(
		newRulesListCommand(g),
		newRulesValidateCommand(g),
		newRulesTestCommand(g),
		newRulesReorderCommand(g),
	)
	return rulesCmd
}

func newRulesListCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openProject(g.projectDir, g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			rs, err := p.rules()
			if err != nil {
				return err
			}
			chart, err := p.chart()
			if err != nil {
				return err
			}
			set, _ := rules.Compile(rs)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRIORITY\tNAME\tKIND\tMATCH\tPATTERN\tACCOUNT\tAUTO")
			for _, r := range set.Rules() {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
					r.ID, r.Priority, r.Name, r.OperationKind, r.MatchKind, r.Pattern, accountLabel(chart, r.TargetAccountID), r.AutoApply)
			}
			return tw.Flush()
		},
	}
}

func newRulesValidateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check rules for invalid patterns and missing target accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openProject(g.projectDir, g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			rs, err := p.rules()
			if err != nil {
				return err
			}
			chart, err := p.chart()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			problems := 0
			set, issues := rules.Compile(rs)
			for _, is := range issues {
				problems++
				color.New(color.FgRed).Fprintf(w, "rule %d: %s: %s\n", is.RuleID, is.Reason, is.Detail)
			}
			for _, r := range set.Rules() {
				if !chart.Exists(r.TargetAccountID) {
					problems++
					color.New(color.FgYellow).Fprintf(w, "rule %d: %s: target account %d does not exist\n", r.ID, model.IssueStaleAccount, r.TargetAccountID)
				}
			}

			if problems > 0 {
				return fmt.Errorf("%d rule problem(s)", problems)
			}
			color.New(color.FgGreen).Fprintf(w, "%d active rule(s) OK\n", set.Len())
			return nil
		},
	}
}

func newRulesTestCommand(g *globals) *cobra.Command {
	var kind, amount string

	cmd := &cobra.Command{
		Use:   "test <description>",
		Short: "Show which rule would classify a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := testTransaction(args[0], kind, amount)
			if err != nil {
				return err
			}
			p, err := openProject(g.projectDir, g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			rs, err := p.rules()
			if err != nil {
				return err
			}
			chart, err := p.chart()
			if err != nil {
				return err
			}
			printPreview(cmd.OutOrStdout(), classify.PreviewTransaction(tx, rs, chart), chart)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "DEBIT or CREDIT (default from --amount, else DEBIT)")
	cmd.Flags().StringVar(&amount, "amount", "", "signed amount, e.g. -89.90")

	return cmd
}

func testTransaction(desc, kind, amount string) (model.NormalizedTransaction, error) {
	tx := model.NormalizedTransaction{Description: strings.TrimSpace(desc), Kind: model.KindDebit}
	if amount != "" {
		a, err := decimal.NewFromString(amount)
		if err != nil {
			return tx, fmt.Errorf("invalid amount %q", amount)
		}
		tx.Amount = a
		tx.Kind = model.KindForAmount(a)
	}
	switch k := model.TxKind(strings.ToUpper(kind)); k {
	case "":
	case model.KindDebit, model.KindCredit:
		tx.Kind = k
	default:
		return tx, fmt.Errorf("invalid kind %q", kind)
	}
	return tx, nil
}

func printPreview(w io.Writer, p classify.Preview, chart *accounts.Service) {
	for _, is := range p.Issues {
		color.New(color.FgYellow).Fprintf(w, "rule %d: %s: %s\n", is.RuleID, is.Reason, is.Detail)
	}
	if p.MatchedRuleID == nil {
		color.New(color.FgRed).Fprintln(w, "no rule matched")
		return
	}

	var mode string
	switch {
	case p.StaleAccountReference:
		mode = "suggest, stale account"
	case p.Status == model.StatusAutoClassified:
		mode = "auto"
	default:
		mode = "suggest"
	}
	color.New(color.FgGreen).Fprintf(w, "rule %d -> account %s (%s)\n", *p.MatchedRuleID, accountLabel(chart, *p.TargetAccountID), mode)
	fmt.Fprintf(w, "narrative: %s\n", p.Narrative)
}

// accountLabel renders a chart account as "ID Name", or the bare id when it
// is not in the chart.
func accountLabel(chart *accounts.Service, id int) string {
	a, ok := chart.Get(id)
	if !ok {
		return strconv.Itoa(id)
	}
	return fmt.Sprintf("%d %s", id, a.Name)
}

func newRulesReorderCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <id>...",
		Short: "Renumber rule priorities so the listed rules are evaluated first, in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order := make([]int, len(args))
			for i, a := range args {
				id, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("invalid rule id %q", a)
				}
				order[i] = id
			}

			p, err := openProject(g.projectDir, g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			rs, err := p.rules()
			if err != nil {
				return err
			}
			if len(rs) == 0 {
				return errors.New("no rules to reorder")
			}
			renumbered, err := rules.Renumber(rs, order)
			if err != nil {
				return err
			}
			if err := p.saveRules(renumbered); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Reordered %d rule(s)\n", len(renumbered))
			return nil
		},
	}
}
