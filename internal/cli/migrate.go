package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply ledger and enrollment schema migrations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			// newApp migrates the store and the enrollment database on open.
			a, err := newApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.close(cmd.Context())) }()

			if err := a.store.Ping(cmd.Context()); err != nil {
				return err
			}
			printf(cmd, "✓ %s store migrated\n", a.cfg.Store.Driver)
			return nil
		},
	}
	return cmd
}
