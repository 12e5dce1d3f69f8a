// Package taskrun is an in-process dispatch core for named units of work.
//
// A service registers its units once at start-up, then runs them from two
// front-ends: recurring cron profiles (package cron) and on-demand workflow
// calls carrying a typed payload (package workflow). Both go through the same
// dispatcher (package engine), which resolves the unit, gates recurring
// triggers on an atomic claim in the audit ledger, invokes the unit under a
// deadline, and always writes exactly one audit record per attempt.
//
// # Quick Start
//
//	b := unit.NewBuilder()
//	b.MustRegister(enrollment.ExpiryTask(repo, policy))
//	reg := b.Build()
//
//	st, err := sqlite.Open("/var/lib/taskrun/ledger.db", 5*time.Second)
//	if err := st.Migrate(ctx); err != nil { ... }
//
//	d, err := engine.New(reg, st, engine.WithLogger(logger))
//	sched, err := cron.NewScheduler(d, []cron.Profile{{
//	    Name:        "daily-expiry",
//	    Schedule:    "0 0 1 * * *",
//	    TaskName:    "expire-enrollments",
//	    ProfileID:   "daily",
//	    ProfileType: "cron",
//	    Enabled:     true,
//	}})
//	err = sched.Start(ctx)
//
// On-demand runs go through workflow.NewRunner(d). The taskrun binary
// (cmd/taskrun) wires all of this from a YAML file.
//
// # Architecture
//
// The registry is immutable after Build, so lookups need no locking. The only
// shared mutable resource is the run marker row per trigger identity, which
// every ledger backend updates with a single compare-and-swap. Audit records
// are append-only.
//
// All audit record IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package taskrun
