// Package unit defines execution units, their typed payloads, and the
// start-up registry that maps unit names to units.
//
// # Units
//
// A [Unit] is a named, side-effecting operation. Two flavors exist:
//
//   - a task ([NewTask]) takes no caller input and is fired by a cron profile;
//   - a workflow ([NewWorkflow], [WorkflowOf]) is run on demand with a
//     [Payload], an ordered key/value bag whose required keys are declared by
//     a [Schema] and validated before the unit is invoked.
//
// # Registry
//
// Units are registered through a [Builder] during process start-up:
//
//	b := unit.NewBuilder()
//	b.MustRegister(expireEnrollments, sendCredentials)
//	reg := b.Build()
//
// A second registration under the same name fails with a
// *taskrun.DuplicateNameError. After Build the [Registry] is immutable, so
// concurrent Resolve calls need no locking; the builder rejects further
// registrations.
package unit
