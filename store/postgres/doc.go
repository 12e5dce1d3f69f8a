// Package postgres implements store.Store using pgx/v5 with raw SQL and
// embedded migrations.
//
// TryClaim is one INSERT ... ON CONFLICT DO UPDATE ... WHERE statement on
// the marker's primary key. PostgreSQL re-evaluates the WHERE against the
// committed row when two sessions race, so concurrent schedulers on any
// number of hosts get exactly one Claimed per window.
package postgres
