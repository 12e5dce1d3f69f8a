// Package cli implements the taskrun command line: serve the cron
// front-end, fire a profile by hand, run a workflow on demand, migrate the
// ledger and validate a configuration file.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/taskrun/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFiles   []string
}

// NewRootCommand creates the root command for the taskrun CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "taskrun",
		Short: "taskrun - recurring task and workflow dispatch",
		Long: `Runs registered units of work from cron profiles or on demand and keeps
an audit ledger with exactly one run per trigger window.`,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "taskrun.yaml", "configuration file")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env", []string{".env"}, "dotenv files to load before the config")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewFireCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// loadConfig reads the env files and the configuration and validates it.
func (o *RootOptions) loadConfig() (*config.File, error) {
	if err := config.LoadEnv(o.EnvFiles...); err != nil {
		return nil, err
	}
	f, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// newLogger builds the slog logger the config asks for. Validate has already
// checked level and format.
func newLogger(f *config.File, w io.Writer) *slog.Logger {
	level, _ := f.LogLevel()
	hopts := &slog.HandlerOptions{Level: level}
	if f.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
