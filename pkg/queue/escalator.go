package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/marketjobs/pkg/logger"
)

// Publisher enqueues jobs. *Registry implements it.
type Publisher interface {
	Enqueue(ctx context.Context, queueName, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error)
}

// Escalator records jobs that exhausted their retries and publishes them to
// the dead-letter queue for alerting.
type Escalator struct {
	store     DeadLetterStore
	publisher Publisher
	fallback  FallbackSink
	logger    *slog.Logger
	now       func() time.Time
}

// EscalatorOption configures an Escalator.
type EscalatorOption func(*Escalator)

// WithPublisher makes the escalator enqueue every record into DeadLetterQueue.
func WithPublisher(p Publisher) EscalatorOption {
	return func(e *Escalator) {
		e.publisher = p
	}
}

// WithFallback sets the sink for records the store failed to save.
func WithFallback(sink FallbackSink) EscalatorOption {
	return func(e *Escalator) {
		e.fallback = sink
	}
}

// WithEscalatorLogger sets the logger for the escalator.
func WithEscalatorLogger(l *slog.Logger) EscalatorOption {
	return func(e *Escalator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEscalatorClock overrides the time source used for FailedAt.
func WithEscalatorClock(now func() time.Time) EscalatorOption {
	return func(e *Escalator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEscalator creates an escalator writing to store.
func NewEscalator(store DeadLetterStore, opts ...EscalatorOption) (*Escalator, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	e := &Escalator{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Escalate records env as dead. It never fails: write and publish errors are
// logged, and a record the store rejects goes to the fallback sink. The record
// id is derived from the job id, so escalating a redelivered job again queues
// no second alert while the first is outstanding, and the alert handler can
// key its idempotency on the record id.
func (e *Escalator) Escalate(ctx context.Context, env *Envelope, cause error) {
	rec := NewDeadLetterRecord(env, cause, e.now())

	attrs := []any{
		logger.JobID(env.ID),
		logger.Queue(env.Queue),
		logger.JobType(env.Type),
		logger.Attempt(env.AttemptsMade, env.MaxAttempts),
		slog.String("reason", rec.ErrorMessage),
	}

	if err := e.store.Save(ctx, rec); err != nil {
		e.logger.ErrorContext(ctx, "dead-letter write failed",
			append(attrs, logger.Error(errors.Join(ErrDeadLetterWrite, err)))...)
		e.writeFallback(ctx, rec, attrs)
	}

	e.logger.WarnContext(ctx, "job dead-lettered", attrs...)

	// A failing alert job is recorded but never republished into its own queue.
	if e.publisher == nil || env.Queue == DeadLetterQueue {
		return
	}
	_, err := e.publisher.Enqueue(ctx, DeadLetterQueue, DeadLetterJobType, rec,
		WithDedupeKey("dead-letter:"+rec.ID.String()))
	switch {
	case errors.Is(err, ErrDuplicateJob):
		e.logger.DebugContext(ctx, "dead-letter alert already queued", attrs...)
	case err != nil:
		e.logger.ErrorContext(ctx, "dead-letter publish failed", append(attrs, logger.Error(err))...)
	}
}

func (e *Escalator) writeFallback(ctx context.Context, rec DeadLetterRecord, attrs []any) {
	if e.fallback == nil {
		return
	}
	if err := e.fallback.Append(ctx, rec); err != nil {
		e.logger.ErrorContext(ctx, "dead-letter fallback write failed", append(attrs, logger.Error(err))...)
	}
}
