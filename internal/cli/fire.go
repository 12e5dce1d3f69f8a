package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/engine"
)

// NewFireCommand creates the fire command.
func NewFireCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fire <profile>",
		Short: "Fire one cron profile now",
		Long: `Fires a configured cron profile once, now. The trigger claim still
applies: a fire inside a window that already ran is reported as skipped.
Disabled profiles can be fired.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFire(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runFire(opts *RootOptions, cmd *cobra.Command, profile string) (err error) {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close(cmd.Context())) }()

	sched, err := a.scheduler()
	if err != nil {
		return err
	}

	out, err := sched.Fire(cmd.Context(), profile, time.Now())
	if errors.Is(err, taskrun.ErrClaimConflict) {
		printf(cmd, "skipped: %v\n", err)
		return nil
	}
	if err != nil {
		return err
	}
	return report(cmd, out)
}

// report prints a dispatch outcome and turns a failed run into an error so
// the exit status reflects it.
func report(cmd *cobra.Command, out *engine.Outcome) error {
	rec := out.Record
	printf(cmd, "%s %s %s (%s)\n", rec.ID, rec.UnitName, rec.Outcome, rec.EndedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	if rec.Summary != "" {
		printf(cmd, "  %s\n", rec.Summary)
	}
	if out.Err != nil {
		return out.Err
	}
	return nil
}
