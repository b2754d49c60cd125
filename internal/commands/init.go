package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/concilia/internal/accounts"
	"github.com/cleared-dev/concilia/internal/config"
)

func newInitCommand() *cobra.Command {
	var name string
	var kind string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new concilia project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd.OutOrStdout(), absDir, name, kind)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "company name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&kind, "kind", "servicos", "business kind, selects the default chart of accounts")

	return cmd
}

func runInit(w io.Writer, dir, name, kind string) error {
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil {
		return fmt.Errorf("%s already exists in %s", config.FileName, dir)
	}

	cfg := config.Default(name, kind)

	dirs := []string{
		"accounts",
		"rules",
		"logs",
		"import",
		filepath.Join("import", "processed"),
		cfg.Paths.Results,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(filepath.Join(dir, config.FileName), cfg); err != nil {
		return err
	}

	chart := accounts.NewService(accounts.DefaultChart(kind))
	if err := chart.Save(filepath.Join(dir, cfg.Paths.Chart)); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, cfg.Paths.Rules), []byte("rules: []\n"), 0o644); err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}

	gitignore := cfg.Paths.Database + "\n" + cfg.Paths.Results + "/\n.env\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "import", ".gitkeep"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing .gitkeep: %w", err)
	}

	color.New(color.FgGreen).Fprintf(w, "Initialized concilia project for %s at %s\n", name, dir)
	return nil
}
