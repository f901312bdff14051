// Package pg bootstraps PostgreSQL access over pgx/v5: a retrying pool
// Connect, goose migrations from an fs.FS, a readiness Healthcheck and a few
// error classifiers.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, deadletter.Migrations, deadletter.MigrationsDir, cfg, log); err != nil {
//		return err
//	}
package pg
