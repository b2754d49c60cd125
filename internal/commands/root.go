package commands

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/concilia/internal/buildinfo"
)

// globals holds the flags shared by every subcommand.
type globals struct {
	projectDir string
	verbose    bool
}

// logger writes structured logs to w, at debug level with --verbose.
func (g *globals) logger(w io.Writer) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "concilia",
	})
	if g.verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:     "concilia",
		Short:   "Bank statement reconciliation",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.projectDir, "project", "C", ".", "project directory")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		newInitCommand(),
		newImportCommand(g),
		newRulesCommand(g),
		newTemplatesCommand(g),
		newHistoryCommand(g),
		newServeCommand(g),
	)

	return rootCmd
}
