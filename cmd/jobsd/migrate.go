package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/marketjobs/pkg/config"
	"github.com/dmitrymomot/marketjobs/pkg/deadletter"
	"github.com/dmitrymomot/marketjobs/pkg/mongo"
	"github.com/dmitrymomot/marketjobs/pkg/pg"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the dead-letter store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			switch c.cfg.DeadLetter.Backend {
			case deadletter.BackendPostgres:
				pgCfg, err := config.Load[pg.Config](c.configOptions()...)
				if err != nil {
					return err
				}
				pool, err := pg.Connect(ctx, pgCfg)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := pg.Migrate(ctx, pool, deadletter.Migrations, deadletter.MigrationsDir, pgCfg, c.log); err != nil {
					return err
				}

			case deadletter.BackendMongo:
				mongoCfg, err := config.Load[mongo.Config](c.configOptions()...)
				if err != nil {
					return err
				}
				client, err := mongo.Connect(ctx, mongoCfg)
				if err != nil {
					return err
				}
				defer func() { _ = client.Disconnect(ctx) }()
				store := deadletter.NewMongoStore(client.Database(mongoCfg.Database), c.cfg.DeadLetter.MongoCollection)
				if err := store.EnsureIndexes(ctx); err != nil {
					return err
				}

			default:
				c.log.InfoContext(ctx, "nothing to migrate", "backend", c.cfg.DeadLetter.Backend)
				return nil
			}

			c.log.InfoContext(ctx, "dead-letter schema ready", "backend", c.cfg.DeadLetter.Backend)
			return nil
		},
	}
}
