// Package database opens the SQLite file that stores connection profiles
// and applies the embedded schema migrations.
//
// Migrations are additive: new columns are nullable or defaulted, and every
// .up.sql has a matching .down.sql for development rollbacks.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
