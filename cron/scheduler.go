package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/engine"
	"github.com/xraph/taskrun/ext"
	"github.com/xraph/taskrun/ledger"
	"github.com/xraph/taskrun/unit"
)

// Dispatcher is the subset of *engine.Dispatcher the scheduler needs.
type Dispatcher interface {
	DispatchTask(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window) (*engine.Outcome, error)
	Registry() *unit.Registry
	Extensions() *ext.Registry
}

var _ Dispatcher = (*engine.Dispatcher)(nil)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLocation sets the time zone schedules are evaluated in. Default UTC.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp scheduled fires.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

type entry struct {
	profile  Profile
	identity ledger.TriggerIdentity
	schedule cronlib.Schedule
	id       cronlib.EntryID
}

// Scheduler fires cron profiles through a Dispatcher.
type Scheduler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	loc        *time.Location
	now        func() time.Time

	entries map[string]*entry
	order   []string
	cron    *cronlib.Cron

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewScheduler validates profiles and builds a scheduler. Every profile,
// enabled or not, must name a registered task and carry a parseable
// schedule; all problems are reported together.
func NewScheduler(d Dispatcher, profiles []Profile, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		dispatcher: d,
		logger:     slog.Default(),
		loc:        time.UTC,
		now:        time.Now,
		entries:    make(map[string]*entry, len(profiles)),
	}
	for _, opt := range opts {
		opt(s)
	}

	adapter := slogAdapter{logger: s.logger}
	s.cron = cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithLocation(s.loc),
		cronlib.WithLogger(adapter),
		cronlib.WithChain(cronlib.Recover(adapter), cronlib.SkipIfStillRunning(adapter)),
	)

	var errs []error
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := s.entries[p.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: %s: duplicate profile name", ErrInvalidProfile, p.Name))
			continue
		}
		if _, err := d.Registry().ResolveKind(p.TaskName, unit.KindTask); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.Name, err))
			continue
		}
		sched, _ := ParseSchedule(p.Schedule)
		s.entries[p.Name] = &entry{profile: p, identity: p.Identity(), schedule: sched}
		s.order = append(s.order, p.Name)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, name := range s.order {
		e := s.entries[name]
		if !e.profile.Enabled {
			s.logger.Info("cron profile disabled", slog.String("profile", name))
			continue
		}
		e.id = s.cron.Schedule(e.schedule, cronlib.FuncJob(func() {
			_, _ = s.fire(s.context(), e, s.now())
		}))
	}
	return s, nil
}

// Start begins firing enabled profiles. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron.Start()

	s.logger.Info("cron scheduler started",
		slog.Int("profiles", len(s.order)),
		slog.String("location", s.loc.String()),
	)
	return nil
}

// Stop halts scheduling and waits for in-flight fires. When ctx ends first,
// in-flight units are cancelled and Stop waits for them to be recorded.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("cron scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("cron scheduler stop timed out, cancelling in-flight fires")
		cancel()
		<-done.Done()
	}
	cancel()
	return nil
}

// Fire runs one profile immediately as if its schedule had activated at at.
// The claim still applies, so a manual fire inside an already-claimed window
// is skipped. Disabled profiles can be fired.
func (s *Scheduler) Fire(ctx context.Context, profile string, at time.Time) (*engine.Outcome, error) {
	e, ok := s.entries[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, profile)
	}
	return s.fire(ctx, e, at)
}

// Profiles returns the configured profiles in declaration order.
func (s *Scheduler) Profiles() []Profile {
	out := make([]Profile, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name].profile)
	}
	return out
}

// Next returns the next scheduled activation of an enabled profile.
func (s *Scheduler) Next(profile string) (time.Time, bool) {
	e, ok := s.entries[profile]
	if !ok || !e.profile.Enabled {
		return time.Time{}, false
	}
	if s.isRunning() {
		if next := s.cron.Entry(e.id).Next; !next.IsZero() {
			return next, true
		}
	}
	return e.schedule.Next(s.now().In(s.loc)), true
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *Scheduler) fire(ctx context.Context, e *entry, at time.Time) (*engine.Outcome, error) {
	at = at.In(s.loc)
	log := s.logger.With(
		slog.String("profile", e.profile.Name),
		slog.String("trigger", e.identity.String()),
	)

	w, err := WindowAt(e.schedule, at)
	if err != nil {
		log.Error("cannot compute trigger window", slog.String("error", err.Error()))
		return nil, err
	}

	s.dispatcher.Extensions().EmitCronFired(ctx, e.profile.Name, e.identity, at)
	log.Debug("cron fired",
		slog.Time("at", at),
		slog.Time("window_start", w.Start),
		slog.Time("window_end", w.End),
	)

	out, err := s.dispatcher.DispatchTask(ctx, e.identity, w)
	switch {
	case errors.Is(err, taskrun.ErrClaimConflict):
		log.Debug("fire skipped, window claimed elsewhere", slog.Time("window_start", w.Start))
	case err != nil:
		log.Error("cron dispatch failed", slog.String("error", err.Error()))
	case out != nil && out.Err != nil:
		log.Warn("cron run did not succeed", slog.String("error", out.Err.Error()))
	}
	return out, err
}
