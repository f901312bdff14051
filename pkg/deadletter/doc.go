// Package deadletter provides durable queue.DeadLetterStore implementations
// and a JSONL fallback sink.
//
// PostgresStore keeps records in the dead_letters table created by the
// embedded goose migrations:
//
//	if err := pg.Migrate(ctx, pool, deadletter.Migrations, deadletter.MigrationsDir, pgCfg, log); err != nil {
//	    return err
//	}
//	store := deadletter.NewPostgresStore(pool)
//
// MongoStore writes to a collection with a unique index on original_job_id;
// call EnsureIndexes once at startup.
//
// FileLog appends records the primary store rejected to a local file, one
// JSON document per line. Recover moves them back into a store once it is
// reachable again. Every store treats a second Save for the same original
// job as a no-op, so recovery can be repeated safely.
package deadletter
