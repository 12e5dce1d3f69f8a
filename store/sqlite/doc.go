// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. Suitable for single-node
// deployments, CLI tools, and tests that want a real SQL ledger without a
// server.
//
// Open a file-backed store that owns its handle:
//
//	s, err := sqlite.Open("/var/lib/taskrun/ledger.db", 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Or wrap a handle the caller already manages with New. Several scheduler
// processes may share one database file; the claim upsert runs under
// SQLite's write lock.
package sqlite
