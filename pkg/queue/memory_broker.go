package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process Broker for tests and local development.
type MemoryBroker struct {
	mu     sync.Mutex
	now    func() time.Time
	jobs   map[uuid.UUID]*Envelope
	queues map[string]*memoryQueue
}

type memoryQueue struct {
	pending map[uuid.UUID]struct{} // waiting and retrying
	active  map[uuid.UUID]struct{}
	dedupe  map[string]uuid.UUID

	completed []uuid.UUID
	failed    []uuid.UUID

	completedTotal int64
	failedTotal    int64
	keepCompleted  int
	keepFailed     int
}

// MemoryBrokerOption configures a MemoryBroker.
type MemoryBrokerOption func(*MemoryBroker)

// WithMemoryClock overrides the broker's time source.
func WithMemoryClock(now func() time.Time) MemoryBrokerOption {
	return func(b *MemoryBroker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker(opts ...MemoryBrokerOption) *MemoryBroker {
	b := &MemoryBroker{
		now:    time.Now,
		jobs:   make(map[uuid.UUID]*Envelope),
		queues: make(map[string]*memoryQueue),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{
			pending: make(map[uuid.UUID]struct{}),
			active:  make(map[uuid.UUID]struct{}),
			dedupe:  make(map[string]uuid.UUID),
		}
		b.queues[name] = q
	}
	return q
}

// SetRetention implements RetentionSetter.
func (b *MemoryBroker) SetRetention(queue string, keepCompleted, keepFailed int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	q.keepCompleted = max(keepCompleted, 0)
	q.keepFailed = max(keepFailed, 0)
}

func (b *MemoryBroker) Enqueue(ctx context.Context, env *Envelope) error {
	if env == nil {
		return ErrPayloadNil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.jobs[env.ID]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, env.ID)
	}

	q := b.queue(env.Queue)
	if env.DedupeKey != "" {
		if existing, ok := q.dedupe[env.DedupeKey]; ok {
			return fmt.Errorf("%w: %s (job %s)", ErrDuplicateJob, env.DedupeKey, existing)
		}
		q.dedupe[env.DedupeKey] = env.ID
	}

	stored := env.Clone()
	stored.State = StateWaiting
	stored.LeasedAt = nil
	stored.LeaseExpiresAt = nil
	b.jobs[env.ID] = stored
	q.pending[env.ID] = struct{}{}

	return nil
}

func (b *MemoryBroker) Lease(ctx context.Context, queue string, lease time.Duration) (*Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	q := b.queue(queue)
	b.reclaimExpired(q, now)

	var best *Envelope
	for id := range q.pending {
		env := b.jobs[id]
		if env.AvailableAt.After(now) {
			continue
		}
		if best == nil || before(env, best) {
			best = env
		}
	}
	if best == nil {
		return nil, ErrNoJobAvailable
	}

	expires := now.Add(lease)
	leasedAt := now
	best.State = StateActive
	best.LeasedAt = &leasedAt
	best.LeaseExpiresAt = &expires

	delete(q.pending, best.ID)
	q.active[best.ID] = struct{}{}

	return best.Clone(), nil
}

// before orders eligible envelopes: priority, then available_at, then creation.
func before(a, c *Envelope) bool {
	if a.Priority != c.Priority {
		return a.Priority < c.Priority
	}
	if !a.AvailableAt.Equal(c.AvailableAt) {
		return a.AvailableAt.Before(c.AvailableAt)
	}
	return a.CreatedAt.Before(c.CreatedAt)
}

// reclaimExpired returns envelopes with expired leases to the pending set.
// The stalled attempt is not counted.
func (b *MemoryBroker) reclaimExpired(q *memoryQueue, now time.Time) {
	for id := range q.active {
		env := b.jobs[id]
		if env.LeaseExpiresAt == nil || env.LeaseExpiresAt.After(now) {
			continue
		}
		env.State = StateWaiting
		env.LeasedAt = nil
		env.LeaseExpiresAt = nil
		delete(q.active, id)
		q.pending[id] = struct{}{}
	}
}

// held returns the stored envelope if the caller still owns its lease.
func (b *MemoryBroker) held(env *Envelope) (*Envelope, *memoryQueue, error) {
	if env == nil || env.LeasedAt == nil {
		return nil, nil, ErrLeaseLost
	}
	stored, ok := b.jobs[env.ID]
	if !ok || stored.State != StateActive || stored.LeasedAt == nil || !stored.LeasedAt.Equal(*env.LeasedAt) {
		return nil, nil, fmt.Errorf("%w: %s", ErrLeaseLost, env.ID)
	}
	return stored, b.queue(stored.Queue), nil
}

func (b *MemoryBroker) ExtendLease(ctx context.Context, env *Envelope, lease time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, _, err := b.held(env)
	if err != nil {
		return err
	}
	expires := b.now().UTC().Add(lease)
	stored.LeaseExpiresAt = &expires
	env.LeaseExpiresAt = &expires
	return nil
}

func (b *MemoryBroker) Ack(ctx context.Context, env *Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, q, err := b.held(env)
	if err != nil {
		return err
	}

	stored.State = StateCompleted
	stored.LeaseExpiresAt = nil
	delete(q.active, stored.ID)
	b.releaseDedupe(q, stored)

	q.completedTotal++
	q.completed = b.retain(q.completed, stored.ID, q.keepCompleted)
	return nil
}

func (b *MemoryBroker) Nack(ctx context.Context, env *Envelope, availableAt time.Time, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, q, err := b.held(env)
	if err != nil {
		return err
	}
	if env.AttemptsMade > stored.MaxAttempts {
		return fmt.Errorf("%w: %d > %d", ErrAttemptsExceeded, env.AttemptsMade, stored.MaxAttempts)
	}

	stored.AttemptsMade = env.AttemptsMade
	stored.State = StateRetrying
	stored.LastError = errMsg
	stored.AvailableAt = availableAt.UTC()
	stored.LeasedAt = nil
	stored.LeaseExpiresAt = nil

	delete(q.active, stored.ID)
	q.pending[stored.ID] = struct{}{}
	return nil
}

func (b *MemoryBroker) Fail(ctx context.Context, env *Envelope, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, q, err := b.held(env)
	if err != nil {
		return err
	}
	if env.AttemptsMade > stored.MaxAttempts {
		return fmt.Errorf("%w: %d > %d", ErrAttemptsExceeded, env.AttemptsMade, stored.MaxAttempts)
	}

	stored.AttemptsMade = env.AttemptsMade
	stored.State = StateDead
	stored.LastError = errMsg
	stored.LeaseExpiresAt = nil
	delete(q.active, stored.ID)
	b.releaseDedupe(q, stored)

	q.failedTotal++
	q.failed = b.retain(q.failed, stored.ID, q.keepFailed)
	return nil
}

func (b *MemoryBroker) releaseDedupe(q *memoryQueue, env *Envelope) {
	if env.DedupeKey == "" {
		return
	}
	if q.dedupe[env.DedupeKey] == env.ID {
		delete(q.dedupe, env.DedupeKey)
	}
}

// retain appends id to a finished list capped at keep, forgetting evicted envelopes.
func (b *MemoryBroker) retain(list []uuid.UUID, id uuid.UUID, keep int) []uuid.UUID {
	list = append(list, id)
	for len(list) > keep {
		delete(b.jobs, list[0])
		list = list[1:]
	}
	return list
}

func (b *MemoryBroker) Outstanding(ctx context.Context, queue, dedupeKey string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.queue(queue).dedupe[dedupeKey]
	return ok, nil
}

func (b *MemoryBroker) Get(ctx context.Context, queue string, id uuid.UUID) (*Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	env, ok := b.jobs[id]
	if !ok || env.Queue != queue {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return env.Clone(), nil
}

func (b *MemoryBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	q := b.queue(queue)

	c := Counts{
		Active:    int64(len(q.active)),
		Completed: q.completedTotal,
		Failed:    q.failedTotal,
	}
	for id := range q.pending {
		if b.jobs[id].AvailableAt.After(now) {
			c.Delayed++
		} else {
			c.Waiting++
		}
	}
	return c, nil
}

// Close is a no-op; the broker holds no external resources.
func (b *MemoryBroker) Close() error {
	return nil
}
