// Package database provides SQLite connectivity for Gray Logic Access.
//
// This package manages:
//   - Database connection with WAL mode and a busy timeout
//   - Immediate-mode transactions so read-then-write decisions are serialised
//   - Schema migrations (additive-only, embedded into the binary)
//   - The StoreError type every repository wraps persistence failures in
//   - A fixed-width UTC timestamp codec that sorts lexically
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Only hashes of passwords and session tokens are ever persisted
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only: new columns must be NULLABLE or have
// DEFAULT values, and columns are never dropped or renamed.
package database
