// Package database provides SQLite connectivity for the devicesync local store.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - A single-connection pool so SQLite sees exactly one writer
//   - Embedded schema migrations (see the migrations package)
//   - Transaction helpers used by the store and subscription packages
//
// The database file is created with 0600 permissions. All queries in the
// repository use parameterised statements.
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
//
// The special path ":memory:" opens a private in-memory database, which the
// package tests and the store tests rely on.
package database
