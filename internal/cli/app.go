package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	_ "modernc.org/sqlite" // enrollment database driver

	audithook "github.com/xraph/taskrun/audit_hook"
	"github.com/xraph/taskrun/config"
	"github.com/xraph/taskrun/cron"
	"github.com/xraph/taskrun/engine"
	"github.com/xraph/taskrun/enrollment"
	"github.com/xraph/taskrun/store"
	"github.com/xraph/taskrun/unit"
	"github.com/xraph/taskrun/workflow"
)

// app is one process's worth of wiring: config, store, registry and
// dispatcher. Commands build it, use the pieces they need, and close it.
type app struct {
	cfg        *config.File
	logger     *slog.Logger
	store      store.Store
	dispatcher *engine.Dispatcher

	closers []func() error
}

func newApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: newLogger(cfg, cmd.ErrOrStderr())}
	ctx := cmd.Context()

	s, closeStore, err := openStore(ctx, cfg.Store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	a.store = s
	a.closers = append(a.closers, closeStore)

	if err := s.Migrate(ctx); err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
	}

	reg, err := a.registry(ctx)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	engineOpts := []engine.Option{
		engine.WithConfig(cfg.EngineConfig()),
		engine.WithLogger(a.logger),
	}
	if cfg.Log.Audit {
		engineOpts = append(engineOpts, engine.WithExtension(
			audithook.New(logRecorder(a.logger), audithook.WithLogger(a.logger)),
		))
	}

	d, err := engine.New(reg, s, engineOpts...)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.dispatcher = d
	return a, nil
}

// registry registers the built-in enrollment units when an enrollment
// database is configured.
func (a *app) registry(ctx context.Context) (*unit.Registry, error) {
	b := unit.NewBuilder()
	if a.cfg.Enrollment.DSN == "" {
		return b.Build(), nil
	}

	db, err := sql.Open("sqlite", a.cfg.Enrollment.DSN)
	if err != nil {
		return nil, fmt.Errorf("open enrollment database: %w", err)
	}
	db.SetMaxOpenConns(1)
	a.closers = append(a.closers, db.Close)

	repo := enrollment.NewSQLiteRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}

	expOpts := []enrollment.ExpiryOption{enrollment.WithLogger(a.logger)}
	if n := a.cfg.Enrollment.Concurrency; n > 0 {
		expOpts = append(expOpts, enrollment.WithConcurrency(n))
	}
	if err := b.Register(enrollment.ExpiryTask(repo, enrollment.NeverRenew, expOpts...)); err != nil {
		return nil, err
	}
	if err := b.Register(enrollment.TransitionWorkflow(repo)); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func (a *app) scheduler() (*cron.Scheduler, error) {
	loc, err := a.cfg.LoadLocation()
	if err != nil {
		return nil, err
	}
	return cron.NewScheduler(a.dispatcher, a.cfg.CronProfiles(),
		cron.WithLocation(loc),
		cron.WithLogger(a.logger),
	)
}

func (a *app) runner() *workflow.Runner {
	opts := []workflow.Option{workflow.WithLogger(a.logger)}
	if a.cfg.Workflow.RateLimit > 0 {
		opts = append(opts, workflow.WithRateLimit(rate.Limit(a.cfg.Workflow.RateLimit), a.cfg.Workflow.Burst))
	}
	if a.cfg.Workflow.RunTimeout > 0 {
		opts = append(opts, workflow.WithRunTimeout(a.cfg.Workflow.RunTimeout))
	}
	return workflow.NewRunner(a.dispatcher, opts...)
}

// close stops the dispatcher and releases everything in reverse order of
// opening.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Engine.ShutdownTimeout+time.Second)
		defer cancel()
		errs = append(errs, a.dispatcher.Close(stopCtx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// logRecorder writes audit events to the process log. Warnings and
// critical events are logged at warn and error.
func logRecorder(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case audithook.SeverityWarning:
			level = slog.LevelWarn
		case audithook.SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}
