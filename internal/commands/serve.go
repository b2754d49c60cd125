package commands

import (
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cleared-dev/concilia/internal/server"
)

// envPrefix scopes the environment variables read by serve, e.g.
// CONCILIA_ADDR.
const envPrefix = "CONCILIA"

func newServeCommand(g *globals) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve imports and rule previews over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := g.logger(cmd.ErrOrStderr())

			// A project-local .env fills in variables the shell left unset.
			envFile := filepath.Join(g.projectDir, ".env")
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			p, err := openProject(g.projectDir, logger)
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

			srv := server.New(p.cfg, svc, st, p.rules, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, v.GetString("addr"))
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address (env CONCILIA_ADDR)")
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	return cmd
}

