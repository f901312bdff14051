package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/marketjobs/pkg/config"
	"github.com/dmitrymomot/marketjobs/pkg/deadletter"
	"github.com/dmitrymomot/marketjobs/pkg/httpserver"
	"github.com/dmitrymomot/marketjobs/pkg/jobs"
	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/mongo"
	"github.com/dmitrymomot/marketjobs/pkg/pg"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
	"github.com/dmitrymomot/marketjobs/pkg/redis"
)

// runtime holds the connections a command opened.
type runtime struct {
	redis    goredis.UniversalClient
	registry *queue.Registry
	store    queue.DeadLetterStore
	checks   []httpserver.Check
	closers  []func() error
}

func (r *runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// connect opens Redis and the queue registry, plus the dead-letter store when
// withStore is set.
func (c *cli) connect(ctx context.Context, withStore bool) (*runtime, error) {
	rt := &runtime{}

	client, err := redis.Connect(ctx, c.cfg.Redis)
	if err != nil {
		return nil, err
	}
	rt.redis = client
	rt.onClose(client.Close)
	rt.checks = append(rt.checks, httpserver.Check{Name: "redis", Func: redis.Healthcheck(client)})

	broker, err := queue.NewRedisBroker(client, queue.WithRedisPrefix(c.cfg.Queue.RedisPrefix))
	if err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	registry, err := queue.NewRegistry(broker, queue.WithRegistryLogger(c.log))
	if err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	if err := registry.Register(jobs.Definitions()...); err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	rt.registry = registry
	rt.onClose(registry.Close)

	if !withStore {
		return rt, nil
	}
	if err := c.openDeadLetters(ctx, rt); err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	return rt, nil
}

func (c *cli) openDeadLetters(ctx context.Context, rt *runtime) error {
	log := c.log.With(logger.Component("deadletter"), slog.String("backend", c.cfg.DeadLetter.Backend))

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
		rt.onClose(func() error {
			pool.Close()
			return nil
		})
		rt.store = deadletter.NewPostgresStore(pool)
		rt.checks = append(rt.checks, httpserver.Check{Name: "postgres", Func: pg.Healthcheck(pool)})

	case deadletter.BackendMongo:
		mongoCfg, err := config.Load[mongo.Config](c.configOptions()...)
		if err != nil {
			return err
		}
		client, err := mongo.Connect(ctx, mongoCfg)
		if err != nil {
			return err
		}
		rt.onClose(func() error {
			return client.Disconnect(context.WithoutCancel(ctx))
		})
		store := deadletter.NewMongoStore(client.Database(mongoCfg.Database), c.cfg.DeadLetter.MongoCollection)
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
		rt.store = store
		rt.checks = append(rt.checks, httpserver.Check{Name: "mongo", Func: mongo.Healthcheck(client)})

	case deadletter.BackendMemory:
		log.WarnContext(ctx, "dead letters are kept in memory and lost on restart")
		rt.store = queue.NewMemoryDeadLetterStore()

	default:
		return fmt.Errorf("%w: %q", deadletter.ErrUnknownBackend, c.cfg.DeadLetter.Backend)
	}

	log.DebugContext(ctx, "dead-letter store opened")
	return nil
}
