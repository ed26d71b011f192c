// Package bunstore implements store.Store using the Bun ORM with
// PostgreSQL dialect. This is the durable backend: lease claims use
// FOR UPDATE SKIP LOCKED, and every conditional transition is a single
// status-guarded UPDATE, so multiple market nodes can share one database.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it. Pass
// the db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/taskfair/taskfair/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(...))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
