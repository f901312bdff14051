package queue

import "errors"

var (
	// ErrUnknownQueue is returned when a queue name is not registered.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrInvalidPayload is returned when a payload fails its queue's schema.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrHandlerError wraps errors returned or panics raised by job handlers.
	ErrHandlerError = errors.New("job handler failed")

	// ErrRetryLater marks a handler error that should be retried without
	// counting against the job's attempts, such as a held idempotency lock.
	ErrRetryLater = errors.New("retry later")

	// ErrBrokerUnavailable wraps transient broker connectivity failures.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrDeadLetterWrite marks a failure while recording a dead letter.
	// It is logged and never propagated.
	ErrDeadLetterWrite = errors.New("failed to write dead-letter record")

	// ErrBrokerNil is returned when a nil broker is provided.
	ErrBrokerNil = errors.New("broker cannot be nil")

	// ErrRegistryNil is returned when a nil registry is provided.
	ErrRegistryNil = errors.New("registry cannot be nil")

	// ErrStoreNil is returned when a nil dead-letter store is provided.
	ErrStoreNil = errors.New("dead-letter store cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload.
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadMarshal is returned when payload marshaling fails.
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrEmptyJobType is returned when a job type is empty.
	ErrEmptyJobType = errors.New("job type cannot be empty")

	// ErrInvalidPriority is returned when priority is outside the valid range.
	ErrInvalidPriority = errors.New("priority must be between 0 and 100")

	// ErrInvalidQueueDefinition is returned for definitions without a name or attempts.
	ErrInvalidQueueDefinition = errors.New("invalid queue definition")

	// ErrQueueAlreadyRegistered is returned when a queue name is registered twice.
	ErrQueueAlreadyRegistered = errors.New("queue already registered")

	// ErrRegistryClosed is returned by Enqueue after Close.
	ErrRegistryClosed = errors.New("registry is closed")

	// ErrDuplicateJob is returned when a job with the same dedupe key is outstanding.
	ErrDuplicateJob = errors.New("job with the same dedupe key is already outstanding")

	// ErrJobExists is returned when an envelope id is already stored.
	ErrJobExists = errors.New("job already exists")

	// ErrNoJobAvailable is returned by Lease when nothing is eligible.
	ErrNoJobAvailable = errors.New("no job available")

	// ErrLeaseLost is returned when the caller no longer holds the envelope's lease.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrAttemptsExceeded is returned by Nack when attempts would pass the ceiling.
	ErrAttemptsExceeded = errors.New("attempts exceed max attempts")

	// ErrHandlerNotFound is returned when no handler is registered for a job type.
	ErrHandlerNotFound = errors.New("no handler registered for job type")

	// ErrHandlerAlreadyRegistered is returned when a job type gets two handlers.
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for job type")

	// ErrNoHandlers is returned when a worker starts with no handlers.
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrWorkerStarted is returned by Start on a running worker.
	ErrWorkerStarted = errors.New("worker already started")

	// ErrShutdownTimeout is returned by Stop when in-flight jobs outlive the grace period.
	ErrShutdownTimeout = errors.New("worker shutdown timed out with jobs in flight")

	// ErrInvalidSchedule is returned for unparsable cron patterns.
	ErrInvalidSchedule = errors.New("invalid schedule format")

	// ErrScheduleAlreadyRegistered is returned when a dedupe key is registered twice.
	ErrScheduleAlreadyRegistered = errors.New("recurring job already registered")

	// ErrScheduleNotFound is returned by Fire for unknown dedupe keys.
	ErrScheduleNotFound = errors.New("recurring job not registered")

	// ErrSchedulerNotConfigured is returned when the scheduler has no entries.
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered recurring jobs")

	// ErrDeadLetterNotFound is returned when a dead-letter record does not exist.
	ErrDeadLetterNotFound = errors.New("dead-letter record not found")

	// ErrReplayConflict is returned by ClaimReplay when the record's replay
	// stamp changed since it was read.
	ErrReplayConflict = errors.New("dead-letter replay stamp changed concurrently")
)

// ErrJobNotFound is returned when an envelope is not stored (or no longer retained).
var ErrJobNotFound = errors.New("job not found")
