package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetterQueue is the queue every terminally failed job is published to.
const DeadLetterQueue = "dead-letter"

// DeadLetterJobType is the job type of envelopes in DeadLetterQueue.
const DeadLetterJobType = "dead-letter"

// JobState is the lifecycle state of an envelope. An envelope is in exactly
// one state at a time.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateRetrying  JobState = "retrying" // failed, attempts remain, waiting for backoff
	StateDead      JobState = "dead"
)

// Priority orders waiting jobs: lower values are served first.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 1
	PriorityNormal  Priority = 5
	PriorityLow     Priority = 10
	PriorityLowest  Priority = 100
)

// Valid reports whether p is in the accepted range.
func (p Priority) Valid() bool {
	return p >= PriorityHighest && p <= PriorityLowest
}

// Envelope is the unit of work stored in a broker.
// Payload is plain JSON; envelopes never carry callbacks or queue handles.
type Envelope struct {
	ID             uuid.UUID       `json:"id"`
	Queue          string          `json:"queue"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Priority       Priority        `json:"priority"`
	AttemptsMade   int             `json:"attempts_made"`
	MaxAttempts    int             `json:"max_attempts"`
	BaseDelay      time.Duration   `json:"base_delay"`
	DedupeKey      string          `json:"dedupe_key,omitempty"`
	State          JobState        `json:"state"`
	LastError      string          `json:"last_error,omitempty"`
	AvailableAt    time.Time       `json:"available_at"`
	CreatedAt      time.Time       `json:"created_at"`
	LeasedAt       *time.Time      `json:"leased_at,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
}

// Clone returns a deep copy so brokers never share memory with callers.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.LeasedAt != nil {
		t := *e.LeasedAt
		c.LeasedAt = &t
	}
	if e.LeaseExpiresAt != nil {
		t := *e.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return &c
}

// Exhausted reports whether the retry budget is spent.
func (e *Envelope) Exhausted() bool {
	return e.AttemptsMade >= e.MaxAttempts
}

// Counts are the per-state totals a broker reports for one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Total sums every state.
func (c Counts) Total() int64 {
	return c.Waiting + c.Active + c.Completed + c.Failed + c.Delayed
}

// DeadLetterRecord is the permanent audit entry for a job that exhausted its
// retries. It is written once and never retried automatically.
type DeadLetterRecord struct {
	ID              uuid.UUID       `json:"id"`
	OriginalQueue   string          `json:"original_queue"`
	OriginalJobID   uuid.UUID       `json:"original_job_id"`
	OriginalType    string          `json:"original_type"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	ErrorMessage    string          `json:"error_message"`
	FailedAt        time.Time       `json:"failed_at"`
	RetryCount      int             `json:"retry_count"`
	ReplayedAt      *time.Time      `json:"replayed_at,omitempty"`
	ReplayJobID     *uuid.UUID      `json:"replay_job_id,omitempty"`
}

var deadLetterNamespace = uuid.MustParse("6f1c2b8e-3d4a-5e6f-8a9b-0c1d2e3f4a5b")

// DeadLetterRecordID derives the record id for the job jobID. A job that is
// escalated more than once maps to the same record.
func DeadLetterRecordID(jobID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(deadLetterNamespace, jobID[:])
}

// NewDeadLetterRecord builds the record for env failing with cause at failedAt.
func NewDeadLetterRecord(env *Envelope, cause error, failedAt time.Time) DeadLetterRecord {
	msg := env.LastError
	if cause != nil {
		msg = cause.Error()
	}
	return DeadLetterRecord{
		ID:              DeadLetterRecordID(env.ID),
		OriginalQueue:   env.Queue,
		OriginalJobID:   env.ID,
		OriginalType:    env.Type,
		OriginalPayload: append(json.RawMessage(nil), env.Payload...),
		ErrorMessage:    msg,
		FailedAt:        failedAt.UTC(),
		RetryCount:      env.AttemptsMade,
	}
}
