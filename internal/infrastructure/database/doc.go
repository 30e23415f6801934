// Package database provides SQLite connectivity for the fleet sync core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations loaded from an fs.FS (embedded at build time)
//   - Transaction helper for multi-statement repository operations
//
// The inventory invariants (unique vendor id per manufacturer, one active
// record per IP, unique channel per record) are enforced by indexes created
// in the migrations, so every writer is held to them, not just the core.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
