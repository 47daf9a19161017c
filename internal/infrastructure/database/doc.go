// Package database provides SQLite connectivity for the router's
// persistent settings.
//
// This package manages:
//   - Database connection with WAL mode and a busy timeout
//   - Schema migrations read from any fs.FS (the binary embeds them)
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be nullable or have
// defaults, and every .up.sql ships with a .down.sql.
package database
