// Package storage implements the progress store on a SQL database via GORM.
//
// SQLite (pure Go driver, for single node deployments) and PostgreSQL are
// supported. All GORM usage is confined to this package; the progress
// package only sees progress.Record and progress.HistoryEntry.
//
// Usage:
//
//	store, err := storage.Open(storage.Config{Driver: "sqlite", DSN: "codegrade.db"}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//	reconciler := progress.NewReconciler(logger, store, lock.NewMemoryLocker())
package storage
