// Package queue is the job-processing core of the marketplace: named queues
// with retry policies, a broker contract with in-memory and Redis
// implementations, workers, dead-letter escalation, a recurring scheduler and
// a stats collector.
//
// # Architecture
//
//   - Registry   holds queue Definitions and validates payloads on Enqueue
//   - Broker     stores Envelopes and hands them out under leases (at-least-once)
//   - Worker     leases from one queue and dispatches to Handlers by job type
//   - Escalator  records jobs that exhausted their retries in a DeadLetterStore
//   - Scheduler  enqueues Recurring registrations on cron patterns
//   - StatsCollector polls broker counts for every registered queue
//
// Components never hold references to each other's internals: envelopes carry
// plain JSON payloads, and everything a worker needs is looked up through the
// registry.
//
// # Delivery and retries
//
// A leased envelope is invisible to other workers until its lease expires. The
// worker extends the lease while its handler runs; an envelope whose lease
// expires (worker crash) becomes eligible again without spending an attempt.
//
// On handler failure the attempt counter is incremented. While attempts remain
// the envelope is released with a delay of BaseDelay * 2^AttemptsMade. Once the
// ceiling is reached the envelope is escalated exactly once and marked dead.
//
// # Usage
//
//	broker := queue.NewMemoryBroker()
//	reg, _ := queue.NewRegistry(broker)
//	_ = reg.Register(queue.Definition{
//		Name:   "email",
//		Policy: queue.Policy{MaxAttempts: 2, BaseDelay: time.Second},
//	})
//
//	w, _ := queue.NewWorker(reg, "email", queue.WithConcurrency(4))
//	_ = w.RegisterHandler(queue.NewHandler("send-email", func(ctx context.Context, p EmailPayload) error {
//		return send(ctx, p)
//	}))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(w.Run(ctx))
//
//	_, _ = reg.Enqueue(ctx, "email", "send-email", EmailPayload{To: "a@example.com"})
//
// # Error Handling
//
// Package-level sentinel errors (ErrUnknownQueue, ErrInvalidPayload,
// ErrDuplicateJob, ErrLeaseLost, ErrBrokerUnavailable...) are wrapped and
// should be checked with errors.Is.
package queue
