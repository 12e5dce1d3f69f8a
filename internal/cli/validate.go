package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xraph/taskrun/config"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without connecting to anything",
		Long: `Loads and validates the configuration. Every problem is reported at once.
Profiles are checked for a parseable schedule; whether their task is
registered is only known once the units are built, so that check happens
at serve time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	if err := config.LoadEnv(opts.EnvFiles...); err != nil {
		return err
	}
	f, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	err = f.Validate()
	if err == nil {
		printf(cmd, "✓ %s valid (%d profiles, %s store)\n", opts.ConfigPath, len(f.Profiles), f.Store.Driver)
		return nil
	}

	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			printf(cmd, "✗ %v\n", e)
		}
	} else {
		printf(cmd, "✗ %v\n", err)
	}
	return err
}
