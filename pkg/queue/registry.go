package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/marketjobs/pkg/logger"
)

// Definition describes one named queue.
type Definition struct {
	Name   string
	Policy Policy

	// Types restricts the job types accepted by the queue. Empty accepts any.
	Types []string

	// Validate checks a payload before it is stored. Payloads that implement
	// Validate() error are checked first.
	Validate func(jobType string, payload any) error
}

// Validator is implemented by payloads that can check themselves.
type Validator interface {
	Validate() error
}

// Registry is the set of queues a process may enqueue into.
// It is safe for concurrent use.
type Registry struct {
	broker Broker
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	queues map[string]Definition

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// NewRegistry creates a registry on top of broker.
func NewRegistry(broker Broker, opts ...RegistryOption) (*Registry, error) {
	if broker == nil {
		return nil, ErrBrokerNil
	}

	r := &Registry{
		broker: broker,
		logger: slog.Default(),
		now:    time.Now,
		queues: make(map[string]Definition),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register adds queue definitions. Names must be unique.
func (r *Registry) Register(defs ...Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range defs {
		if def.Name == "" || def.Policy.MaxAttempts < 1 {
			return fmt.Errorf("%w: %q", ErrInvalidQueueDefinition, def.Name)
		}
		if !def.Policy.Priority.Valid() {
			return fmt.Errorf("%w: queue %q", ErrInvalidPriority, def.Name)
		}
		if _, ok := r.queues[def.Name]; ok {
			return fmt.Errorf("%w: %s", ErrQueueAlreadyRegistered, def.Name)
		}
		def.Types = slices.Clone(def.Types)
		r.queues[def.Name] = def

		if rs, ok := r.broker.(RetentionSetter); ok {
			rs.SetRetention(def.Name, def.Policy.KeepCompleted, def.Policy.KeepFailed)
		}
	}
	return nil
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.queues[name]
	return def, ok
}

// Queues returns the registered queue names in sorted order.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Broker returns the underlying broker.
func (r *Registry) Broker() Broker {
	return r.broker
}

// Enqueue validates payload against the queue's schema and stores a new
// envelope. The returned id identifies the job for its whole lifetime.
func (r *Registry) Enqueue(ctx context.Context, queueName, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	if r.closed.Load() {
		return uuid.Nil, ErrRegistryClosed
	}

	def, ok := r.Definition(queueName)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
	}
	if jobType == "" {
		return uuid.Nil, ErrEmptyJobType
	}
	if payload == nil {
		return uuid.Nil, ErrPayloadNil
	}
	if len(def.Types) > 0 && !slices.Contains(def.Types, jobType) {
		return uuid.Nil, fmt.Errorf("%w: queue %s does not accept job type %s", ErrInvalidPayload, queueName, jobType)
	}
	if v, ok := payload.(Validator); ok {
		if err := v.Validate(); err != nil {
			return uuid.Nil, errors.Join(ErrInvalidPayload, err)
		}
	}
	if def.Validate != nil {
		if err := def.Validate(jobType, payload); err != nil {
			return uuid.Nil, errors.Join(ErrInvalidPayload, err)
		}
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return uuid.Nil, err
	}

	options := enqueueOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.priority != nil && !options.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}

	env := r.newEnvelope(def, jobType, raw, options)
	if err := r.broker.Enqueue(ctx, env); err != nil {
		return uuid.Nil, err
	}

	r.logger.DebugContext(ctx, "job enqueued",
		logger.JobID(env.ID),
		logger.Queue(env.Queue),
		logger.JobType(env.Type),
		slog.Time("available_at", env.AvailableAt))

	return env.ID, nil
}

// Replay enqueues a fresh envelope built from a dead-letter record into the
// record's original queue. Attempts start from zero. The job carries the
// dedupe key "replay:<record id>", so a record has at most one replay
// outstanding.
func (r *Registry) Replay(ctx context.Context, rec DeadLetterRecord) (uuid.UUID, error) {
	if rec.OriginalQueue == DeadLetterQueue {
		return uuid.Nil, fmt.Errorf("%w: dead-letter envelopes cannot be replayed", ErrInvalidPayload)
	}
	return r.Enqueue(ctx, rec.OriginalQueue, rec.OriginalType, rec.OriginalPayload,
		WithDedupeKey(ReplayDedupeKey(rec.ID)))
}

// ReplayDedupeKey is the dedupe key of the job replaying record id.
func ReplayDedupeKey(id uuid.UUID) string {
	return "replay:" + id.String()
}

// Close closes the broker. It is safe to call more than once.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.broker.Close()
		r.logger.Info("queues closed")
	})
	return r.closeErr
}

func (r *Registry) newEnvelope(def Definition, jobType string, payload json.RawMessage, o enqueueOptions) *Envelope {
	now := r.now().UTC()

	availableAt := now.Add(o.delay)
	if !o.availableAt.IsZero() {
		availableAt = o.availableAt.UTC()
	}

	priority := def.Policy.Priority
	if o.priority != nil {
		priority = *o.priority
	}

	maxAttempts := def.Policy.MaxAttempts
	if o.maxAttempts > 0 {
		maxAttempts = o.maxAttempts
	}

	return &Envelope{
		ID:          uuid.New(),
		Queue:       def.Name,
		Type:        jobType,
		Payload:     payload,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		BaseDelay:   def.Policy.BaseDelay,
		DedupeKey:   o.dedupeKey,
		State:       StateWaiting,
		AvailableAt: availableAt,
		CreatedAt:   now,
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidPayload)
		}
		return append(json.RawMessage(nil), p...), nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidPayload)
		}
		return append(json.RawMessage(nil), p...), nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, err)
	}
	return raw, nil
}
