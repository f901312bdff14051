package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/marketjobs/pkg/config"
	"github.com/dmitrymomot/marketjobs/pkg/deadletter"
	"github.com/dmitrymomot/marketjobs/pkg/email"
	"github.com/dmitrymomot/marketjobs/pkg/httpserver"
	"github.com/dmitrymomot/marketjobs/pkg/jobs"
	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/ops"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
	"github.com/dmitrymomot/marketjobs/pkg/storage"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run workers, the recurring scheduler, the stats collector and the ops endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	rt, err := c.connect(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			c.log.Error("failed to release resources", logger.Error(err))
		}
	}()

	fallback, err := deadletter.NewFileLog(c.cfg.DeadLetter.FallbackPath)
	if err != nil {
		return err
	}
	// Records parked in the fallback log during an earlier outage go back to the store first.
	switch moved, err := fallback.Recover(ctx, rt.store); {
	case err != nil:
		c.log.WarnContext(ctx, "dead-letter fallback recovery incomplete",
			slog.String("path", fallback.Path()), slog.Int("moved", moved), logger.Error(err))
	case moved > 0:
		c.log.InfoContext(ctx, "dead-letter fallback recovered",
			slog.String("path", fallback.Path()), slog.Int("moved", moved))
	}

	escalator, err := queue.NewEscalator(rt.store,
		queue.WithPublisher(rt.registry),
		queue.WithFallback(fallback),
		queue.WithEscalatorLogger(c.log),
	)
	if err != nil {
		return err
	}

	guard, err := jobs.NewRedisGuard(rt.redis, append(c.cfg.Jobs.GuardOptions(),
		jobs.WithLockTTL(min(c.cfg.Jobs.IdempotencyLock, c.cfg.Queue.LeaseDuration)),
		jobs.WithGuardLogger(c.log),
	)...)
	if err != nil {
		return err
	}
	handlerOpts, err := c.handlerOptions(ctx)
	if err != nil {
		return err
	}
	handlers, err := jobs.NewHandlers(guard, handlerOpts...)
	if err != nil {
		return err
	}
	table := handlers.Table()

	workers := make([]*queue.Worker, 0, len(table))
	for _, name := range jobs.QueueNames() {
		hs, ok := table[name]
		if !ok {
			c.log.WarnContext(ctx, "queue has no handlers configured, not consuming", logger.Queue(name))
			continue
		}
		opts := append(c.cfg.Queue.WorkerOptions(),
			queue.WithEscalator(escalator),
			queue.WithWorkerLogger(c.log),
		)
		w, err := queue.NewWorker(rt.registry, name, opts...)
		if err != nil {
			return err
		}
		if err := w.RegisterHandlers(hs...); err != nil {
			return err
		}
		workers = append(workers, w)
	}

	recurring, err := c.recurring(ctx, func(q string) bool {
		_, ok := table[q]
		return ok
	})
	if err != nil {
		return err
	}
	scheduler, err := queue.NewScheduler(rt.registry,
		queue.WithCheckInterval(c.cfg.Queue.SchedulerInterval),
		queue.WithSchedulerLogger(c.log),
	)
	if err != nil {
		return err
	}
	if err := scheduler.Register(recurring...); err != nil {
		return err
	}

	collector, err := queue.NewStatsCollector(rt.registry,
		queue.WithStatsInterval(c.cfg.Queue.StatsInterval),
		queue.WithGrowthThreshold(c.cfg.Queue.GrowthThreshold),
		queue.WithStatsLogger(c.log),
	)
	if err != nil {
		return err
	}

	router := ops.NewRouter(
		ops.WithStats(collector),
		ops.WithDeadLetters(rt.store, rt.registry),
		ops.WithSchedules(scheduler),
		ops.WithChecks(rt.checks...),
		ops.WithLogger(c.log),
	)
	server := httpserver.NewFromConfig(c.cfg.HTTP, httpserver.WithLogger(c.log))

	c.log.InfoContext(ctx, "jobsd starting",
		slog.Int("workers", len(workers)),
		slog.Int("recurring", len(recurring)),
		slog.String("ops_addr", c.cfg.HTTP.Addr),
		slog.String("deadletter_backend", c.cfg.DeadLetter.Backend))

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(w.Run(gctx))
	}
	g.Go(scheduler.Run(gctx))
	g.Go(collector.Run(gctx))
	g.Go(server.Serve(gctx, router))

	if err := g.Wait(); err != nil {
		c.log.Error("jobsd stopped with error", logger.Error(err))
		return err
	}
	c.log.Info("jobsd stopped")
	return nil
}

// handlerOptions wires the collaborators jobsd can provide on its own. Queues
// whose collaborators live in the marketplace application are left to it.
func (c *cli) handlerOptions(ctx context.Context) ([]jobs.HandlersOption, error) {
	opts := []jobs.HandlersOption{
		jobs.WithHandlersLogger(c.log),
		jobs.WithAnalyticsSink(jobs.LogAnalyticsSink{Logger: c.log.With(logger.Component("analytics"))}),
	}

	emailCfg, err := config.Load[email.Config](c.configOptions()...)
	if err != nil {
		c.log.WarnContext(ctx, "email delivery disabled", logger.Error(err))
	} else {
		sender, err := email.NewSender(emailCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, jobs.WithMailer(sender, email.NewRenderer()), jobs.WithOpsEmail(emailCfg.OpsEmail))
	}

	s3Cfg, err := config.Load[storage.Config](c.configOptions()...)
	if err != nil {
		return nil, err
	}
	if s3Cfg.Bucket == "" {
		c.log.WarnContext(ctx, "file processing disabled, S3_BUCKET is not set")
		return opts, nil
	}
	objects, err := storage.NewS3Store(ctx, s3Cfg)
	if err != nil {
		return nil, err
	}
	return append(opts,
		jobs.WithObjectStore(objects, objects.Bucket()),
		jobs.WithFileProcessor(jobs.ChecksumProcessor{Objects: objects}),
	), nil
}

// recurring builds the scheduler registrations. Schedules are dropped when
// they cannot run or when consumed reports their queue is not served.
func (c *cli) recurring(ctx context.Context, consumed func(queueName string) bool) ([]queue.Recurring, error) {
	schedules, err := jobs.LoadSchedulesFile(c.cfg.Jobs.RecurringFile, jobs.DefaultSchedules(c.cfg.Jobs.ReportRecipients))
	if err != nil {
		return nil, err
	}

	kept := make([]jobs.Schedule, 0, len(schedules))
	for _, s := range schedules {
		switch {
		case !s.Runnable():
			c.log.InfoContext(ctx, "recurring job not registered", slog.String("schedule", s.Name))
		case consumed != nil && !consumed(s.Queue()):
			c.log.WarnContext(ctx, "recurring job not registered, queue is not consumed",
				slog.String("schedule", s.Name), logger.Queue(s.Queue()))
		default:
			kept = append(kept, s)
		}
	}
	return jobs.RecurringJobs(kept)
}
