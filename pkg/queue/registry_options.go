package queue

import (
	"log/slog"
	"time"
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryClock overrides the time source used to stamp envelopes.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// EnqueueOption configures a single enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    *Priority
	delay       time.Duration
	availableAt time.Time
	dedupeKey   string
	maxAttempts int
}

// WithPriority overrides the queue's default priority.
func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = &p
	}
}

// WithDelay makes the job eligible only after d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithAvailableAt makes the job eligible at t. It takes precedence over WithDelay.
func WithAvailableAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.availableAt = t
	}
}

// WithDedupeKey rejects the enqueue with ErrDuplicateJob while another job
// with the same key is waiting, delayed or active on the queue.
func WithDedupeKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.dedupeKey = key
	}
}

// WithMaxAttempts overrides the queue's attempt ceiling for one job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}
