package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/concilia/internal/importlog"
)

func newHistoryCommand(g *globals) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List committed import batches of a bank account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openProject(g.projectDir, g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if _, err := p.account(accountID); err != nil {
				return err
			}
			st, err := p.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			batches, err := st.Batches(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			// The import log knows which file each batch came from.
			entries, err := importlog.Read(p.path(p.cfg.Paths.ImportLog))
			if err != nil {
				return err
			}
			files := make(map[string]string, len(entries))
			for _, e := range entries {
				files[e.BatchID] = e.File
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "BATCH\tSTARTED\tFILE\tPARSED\tDUPS\tAUTO\tSUGGESTED\tUNMATCHED\tREJECTED")
			for _, b := range batches {
				file := files[b.ID]
				if file == "" {
					file = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
					b.ID, b.StartedAt.Local().Format(time.DateTime), file,
					b.Parsed, b.Duplicates, b.AutoClassified, b.Suggested, b.Unmatched, b.Rejected)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "bank account id (required)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
