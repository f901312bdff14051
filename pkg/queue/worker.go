package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/marketjobs/pkg/logger"
)

// Worker leases envelopes from one queue and dispatches them to handlers
// registered by job type.
type Worker struct {
	registry *Registry
	broker   Broker
	queue    string
	workerID string

	mu       sync.RWMutex
	handlers map[string]Handler

	concurrency     int
	pollInterval    time.Duration
	leaseDuration   time.Duration
	shutdownTimeout time.Duration
	retryLaterDelay time.Duration
	escalator       *Escalator
	backoff         BackoffStrategy
	logger          *slog.Logger
	now             func() time.Time

	stateMu sync.Mutex
	cancel  context.CancelFunc
	loops   sync.WaitGroup
}

// NewWorker creates a worker for queueName, which must be registered.
func NewWorker(registry *Registry, queueName string, opts ...WorkerOption) (*Worker, error) {
	if registry == nil {
		return nil, ErrRegistryNil
	}
	if _, ok := registry.Definition(queueName); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
	}

	options := &workerOptions{
		concurrency:     1,
		pollInterval:    time.Second,
		leaseDuration:   30 * time.Second,
		shutdownTimeout: 30 * time.Second,
		retryLaterDelay: 5 * time.Second,
		logger:          slog.Default(),
		backoff:         DefaultBrokerBackoff(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	workerID := uuid.NewString()
	return &Worker{
		registry:        registry,
		broker:          registry.Broker(),
		queue:           queueName,
		workerID:        workerID,
		handlers:        make(map[string]Handler),
		concurrency:     options.concurrency,
		pollInterval:    options.pollInterval,
		leaseDuration:   options.leaseDuration,
		shutdownTimeout: options.shutdownTimeout,
		retryLaterDelay: options.retryLaterDelay,
		escalator:       options.escalator,
		backoff:         options.backoff,
		logger:          options.logger.With(logger.Queue(queueName), logger.WorkerID(workerID)),
		now:             options.now,
	}, nil
}

// Queue returns the name of the queue the worker consumes.
func (w *Worker) Queue() string {
	return w.queue
}

// RegisterHandler registers a handler for its job type.
func (w *Worker) RegisterHandler(h Handler) error {
	if h == nil {
		return nil
	}
	if h.Type() == "" {
		return ErrEmptyJobType
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.handlers[h.Type()]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, h.Type())
	}
	w.handlers[h.Type()] = h
	return nil
}

// RegisterHandlers registers multiple handlers
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the dispatch loops in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if w.cancel != nil {
		return ErrWorkerStarted
	}

	w.mu.RLock()
	n := len(w.handlers)
	w.mu.RUnlock()
	if n == 0 {
		return ErrNoHandlers
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for range w.concurrency {
		w.loops.Add(1)
		go func() {
			defer w.loops.Done()
			w.loop(loopCtx)
		}()
	}

	w.logger.Info("worker started",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("lease", w.leaseDuration))

	return nil
}

// Stop stops leasing immediately and waits for in-flight handlers up to the
// shutdown timeout. Calling Stop on a stopped worker is a no-op.
func (w *Worker) Stop() error {
	w.stateMu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.stateMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	w.logger.Info("worker stopping, waiting for in-flight jobs")

	done := make(chan struct{})
	go func() {
		w.loops.Wait()
		close(done)
	}()

	timer := time.NewTimer(w.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		w.logger.Info("worker stopped")
		return nil
	case <-timer.C:
		w.logger.Warn("worker shutdown timed out, unfinished jobs will be redelivered after lease expiry",
			logger.Duration(w.shutdownTimeout))
		return ErrShutdownTimeout
	}
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// loop leases and processes envelopes until ctx is cancelled.
func (w *Worker) loop(ctx context.Context) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		env, err := w.broker.Lease(ctx, w.queue, w.leaseDuration)
		var wait time.Duration
		switch {
		case err == nil:
			failures = 0
			w.process(ctx, env)
			continue
		case errors.Is(err, ErrNoJobAvailable):
			failures = 0
			wait = w.pollInterval
		case ctx.Err() != nil:
			return
		default:
			failures++
			wait = w.backoff.NextInterval(failures)
			w.logger.Warn("lease failed, backing off",
				logger.Error(err),
				slog.Int("failures", failures),
				slog.Duration("retry_in", wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// process runs one leased envelope to a broker outcome. The handler context
// survives worker cancellation so shutdown lets in-flight jobs finish.
func (w *Worker) process(loopCtx context.Context, env *Envelope) {
	ctx := context.WithoutCancel(loopCtx)
	start := w.now()

	attrs := []any{
		logger.JobID(env.ID),
		logger.JobType(env.Type),
	}

	w.mu.RLock()
	handler, ok := w.handlers[env.Type]
	w.mu.RUnlock()

	if !ok {
		env.AttemptsMade++
		w.logger.ErrorContext(ctx, "no handler registered for job type",
			append(attrs, logger.Attempt(env.AttemptsMade, env.MaxAttempts))...)
		w.deadLetter(ctx, env, fmt.Errorf("%w: %s", ErrHandlerNotFound, env.Type))
		return
	}

	stopHeartbeat := w.heartbeat(ctx, env)
	err := w.execute(ctx, handler, env)
	stopHeartbeat()

	duration := w.now().Sub(start)

	if err == nil {
		if ackErr := w.broker.Ack(ctx, env); ackErr != nil {
			w.logger.ErrorContext(ctx, "failed to ack job", append(attrs, logger.Error(ackErr))...)
			return
		}
		w.logger.InfoContext(ctx, "job completed", append(attrs, logger.Duration(duration))...)
		return
	}

	if errors.Is(err, ErrRetryLater) {
		w.retryLater(ctx, env, err, attrs)
		return
	}

	env.AttemptsMade++
	w.logger.ErrorContext(ctx, "job failed", append(attrs,
		logger.Attempt(env.AttemptsMade, env.MaxAttempts),
		logger.Duration(duration),
		logger.Error(err))...)

	if env.AttemptsMade >= env.MaxAttempts {
		w.deadLetter(ctx, env, err)
		return
	}

	next := w.now().Add(ExponentialDelay(env.BaseDelay, env.AttemptsMade))
	if nackErr := w.broker.Nack(ctx, env, next, err.Error()); nackErr != nil {
		w.logger.ErrorContext(ctx, "failed to schedule job retry", append(attrs, logger.Error(nackErr))...)
	}
}

// retryLater puts env back without spending an attempt.
func (w *Worker) retryLater(ctx context.Context, env *Envelope, cause error, attrs []any) {
	next := w.now().Add(w.retryLaterDelay)
	w.logger.InfoContext(ctx, "job deferred", append(attrs,
		logger.Attempt(env.AttemptsMade, env.MaxAttempts),
		slog.Time("retry_at", next),
		logger.Error(cause))...)

	if err := w.broker.Nack(ctx, env, next, cause.Error()); err != nil {
		w.logger.ErrorContext(ctx, "failed to defer job", append(attrs, logger.Error(err))...)
	}
}

// execute calls the handler, converting panics into handler errors.
func (w *Worker) execute(ctx context.Context, h Handler, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrHandlerError, r)
			w.logger.ErrorContext(ctx, "handler panicked",
				logger.JobID(env.ID),
				logger.JobType(env.Type),
				slog.Any("panic", r))
		}
	}()

	if err := h.Handle(ctx, env.Payload); err != nil {
		return errors.Join(ErrHandlerError, err)
	}
	return nil
}

// deadLetter escalates env, then marks it dead in the broker.
func (w *Worker) deadLetter(ctx context.Context, env *Envelope, cause error) {
	if w.escalator != nil {
		w.escalator.Escalate(ctx, env, cause)
	} else {
		w.logger.WarnContext(ctx, "job dead-lettered",
			logger.JobID(env.ID),
			logger.JobType(env.Type),
			logger.Attempt(env.AttemptsMade, env.MaxAttempts),
			logger.Error(cause))
	}

	if err := w.broker.Fail(ctx, env, cause.Error()); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark job dead",
			logger.JobID(env.ID),
			logger.Error(err))
	}
}

// heartbeat extends the lease while a handler runs. The returned func stops
// it and waits for the goroutine to exit.
func (w *Worker) heartbeat(ctx context.Context, env *Envelope) func() {
	interval := w.leaseDuration / 3
	if interval <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	lease := env.Clone()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := w.broker.ExtendLease(hbCtx, lease, w.leaseDuration)
				if err == nil {
					continue
				}
				if hbCtx.Err() != nil {
					return
				}
				w.logger.Warn("failed to extend job lease",
					logger.JobID(env.ID),
					logger.Error(err))
				if errors.Is(err, ErrLeaseLost) {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
