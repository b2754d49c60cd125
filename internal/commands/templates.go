package commands

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/concilia/internal/config"
	"github.com/cleared-dev/concilia/internal/fieldmap"
	"github.com/cleared-dev/concilia/internal/model"
)

func newTemplatesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List field-map templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openProject(g.projectDir, g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			tpls := p.cfg.TemplateSet()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tFORMAT\tDATE FORMAT\tDECIMAL\tDESCRIPTION FIELD")
			for _, name := range tpls.Names() {
				tpl, _ := tpls.Get(name)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, tpl.Format, tpl.DateFormat, tpl.DecimalSeparator, tpl.Source(model.FieldDescription))
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newTemplatesApplyCommand(g))
	return cmd
}

func newTemplatesApplyCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <account-id> <template>",
		Short: "Replace a bank account's field map with a template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(g.projectDir, g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			tpl, ok := p.cfg.TemplateSet().Get(args[1])
			if !ok {
				return fmt.Errorf("unknown template %q", args[1])
			}

			idx := -1
			for i, a := range p.cfg.BankAccounts {
				if a.ID == args[0] {
					idx = i
				}
			}
			if idx < 0 {
				return fmt.Errorf("unknown bank account %q", args[0])
			}

			acct := fieldmap.ApplyTemplate(p.cfg.BankAccounts[idx], args[1], tpl)
			if _, err := fieldmap.Resolve(acct, p.cfg.TemplateSet()); err != nil {
				p.logger.Warn("account cannot import yet", "account", acct.ID, "err", err)
			}
			p.cfg.BankAccounts[idx] = acct

			if err := config.Save(filepath.Join(p.root, config.FileName), p.cfg); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Applied template %s to %s\n", args[1], acct.ID)
			return nil
		},
	}
}
