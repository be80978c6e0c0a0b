// Package database provides the SQLite connection behind the device
// directory and the pairing audit trail.
//
// Schema changes live in the top-level migrations package as
// YYYYMMDD_HHMMSS_name.up.sql / .down.sql pairs, embedded in the binary
// and applied in version order by Migrate. Each migration runs in its own
// transaction.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
