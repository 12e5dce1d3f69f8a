package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cron scheduler until interrupted",
		Long: `Opens and migrates the ledger store, starts every enabled cron profile,
and blocks until SIGINT or SIGTERM. In-flight runs are given the engine
shutdown timeout to finish.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) (err error) {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close(cmd.Context())) }()

	sched, err := a.scheduler()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("taskrun serving",
		slog.String("store", a.cfg.Store.Driver),
		slog.Int("profiles", len(sched.Profiles())),
		slog.Int("units", a.dispatcher.Registry().Len()),
	)
	for _, p := range sched.Profiles() {
		if next, ok := sched.Next(p.Name); ok {
			a.logger.Info("next activation", slog.String("profile", p.Name), slog.Time("at", next))
		}
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Engine.ShutdownTimeout)
	defer cancel()
	return sched.Stop(stopCtx)
}
