package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Broker stores envelopes and hands them out under leases.
//
// Delivery is at-least-once: an envelope whose lease expires before it is
// acked, nacked or failed becomes eligible again. Each method is atomic.
type Broker interface {
	// Enqueue stores a new envelope. It returns ErrDuplicateJob when the
	// envelope carries a dedupe key that is already outstanding on its queue.
	Enqueue(ctx context.Context, env *Envelope) error

	// Lease hands out the next eligible envelope of queue: available_at <= now,
	// lowest priority value first, earliest available_at next.
	// It returns ErrNoJobAvailable when nothing is eligible.
	Lease(ctx context.Context, queue string, lease time.Duration) (*Envelope, error)

	// ExtendLease pushes the lease expiry of a held envelope to now+lease.
	ExtendLease(ctx context.Context, env *Envelope, lease time.Duration) error

	// Ack marks a held envelope completed.
	Ack(ctx context.Context, env *Envelope) error

	// Nack releases a held envelope for another attempt at availableAt.
	// env.AttemptsMade must already include the failed attempt.
	Nack(ctx context.Context, env *Envelope, availableAt time.Time, errMsg string) error

	// Fail marks a held envelope dead. Nothing re-delivers it afterwards.
	Fail(ctx context.Context, env *Envelope, errMsg string) error

	// Outstanding reports whether a job with dedupeKey is waiting, delayed
	// or active on queue.
	Outstanding(ctx context.Context, queue, dedupeKey string) (bool, error)

	// Get returns a stored envelope. Completed and dead envelopes are only
	// found while they are retained.
	Get(ctx context.Context, queue string, id uuid.UUID) (*Envelope, error)

	// Counts returns per-state totals for queue.
	Counts(ctx context.Context, queue string) (Counts, error)

	Close() error
}

// RetentionSetter is implemented by brokers that keep finished envelopes
// around for inspection. The registry calls it for every registered queue.
type RetentionSetter interface {
	SetRetention(queue string, keepCompleted, keepFailed int)
}
