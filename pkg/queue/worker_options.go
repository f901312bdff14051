package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	concurrency     int
	pollInterval    time.Duration
	leaseDuration   time.Duration
	shutdownTimeout time.Duration
	retryLaterDelay time.Duration
	logger          *slog.Logger
	escalator       *Escalator
	backoff         BackoffStrategy
	now             func() time.Time
}

// WithConcurrency sets how many envelopes of the queue are processed in parallel.
func WithConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle worker waits before leasing again.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLeaseDuration sets how long a leased envelope stays invisible to other
// workers. The lease is extended while the handler runs.
func WithLeaseDuration(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.leaseDuration = d
		}
	}
}

// WithShutdownTimeout sets how long Stop waits for in-flight handlers.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithRetryLaterDelay sets how long a job whose handler returned ErrRetryLater
// waits before it is leased again.
func WithRetryLaterDelay(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.retryLaterDelay = d
		}
	}
}

// WithWorkerLogger sets the logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEscalator sets where exhausted jobs are recorded.
func WithEscalator(e *Escalator) WorkerOption {
	return func(o *workerOptions) {
		o.escalator = e
	}
}

// WithBrokerBackoff sets the wait strategy used while the broker is unreachable.
func WithBrokerBackoff(b BackoffStrategy) WorkerOption {
	return func(o *workerOptions) {
		if b != nil {
			o.backoff = b
		}
	}
}

// WithWorkerClock overrides the time source used to schedule retries.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(o *workerOptions) {
		if now != nil {
			o.now = now
		}
	}
}
