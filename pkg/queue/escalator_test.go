package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

type MockDeadLetterStore struct {
	mock.Mock
}

func (m *MockDeadLetterStore) Save(ctx context.Context, rec queue.DeadLetterRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDeadLetterStore) Get(ctx context.Context, id uuid.UUID) (queue.DeadLetterRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(queue.DeadLetterRecord), args.Error(1)
}

func (m *MockDeadLetterStore) List(ctx context.Context, filter queue.DeadLetterFilter) ([]queue.DeadLetterRecord, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]queue.DeadLetterRecord), args.Error(1)
}

func (m *MockDeadLetterStore) ClaimReplay(ctx context.Context, id uuid.UUID, expected, at *time.Time) error {
	args := m.Called(ctx, id, expected, at)
	return args.Error(0)
}

func (m *MockDeadLetterStore) MarkReplayed(ctx context.Context, id, jobID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, jobID, at)
	return args.Error(0)
}

type MockFallbackSink struct {
	mock.Mock
}

func (m *MockFallbackSink) Append(ctx context.Context, rec queue.DeadLetterRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func deadEnvelope(queueName string) *queue.Envelope {
	return &queue.Envelope{
		ID:           uuid.New(),
		Queue:        queueName,
		Type:         "retry-payment",
		Payload:      json.RawMessage(`{"paymentId":"pay_1"}`),
		AttemptsMade: 5,
		MaxAttempts:  5,
		State:        queue.StateActive,
	}
}

func TestNewEscalator(t *testing.T) {
	t.Parallel()

	_, err := queue.NewEscalator(nil)
	assert.ErrorIs(t, err, queue.ErrStoreNil)
}

func TestEscalator_Escalate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("records once and publishes to the dead-letter queue", func(t *testing.T) {
		t.Parallel()

		broker := queue.NewMemoryBroker()
		reg := newTestRegistry(t, broker, queue.Definition{
			Name:   queue.DeadLetterQueue,
			Policy: queue.Policy{MaxAttempts: 1},
		})
		store := queue.NewMemoryDeadLetterStore()
		esc, err := queue.NewEscalator(store,
			queue.WithPublisher(reg),
			queue.WithEscalatorLogger(logger.Discard()),
			queue.WithEscalatorClock(func() time.Time { return testEpoch }),
		)
		require.NoError(t, err)

		env := deadEnvelope("payment-retry")
		esc.Escalate(ctx, env, errors.New("card expired"))
		esc.Escalate(ctx, env, errors.New("card expired"))

		recs, err := store.List(ctx, queue.DeadLetterFilter{})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, env.ID, recs[0].OriginalJobID)
		assert.Equal(t, "card expired", recs[0].ErrorMessage)
		assert.Equal(t, 5, recs[0].RetryCount)
		assert.Equal(t, testEpoch, recs[0].FailedAt)

		leased, err := broker.Lease(ctx, queue.DeadLetterQueue, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, queue.DeadLetterJobType, leased.Type)

		var published queue.DeadLetterRecord
		require.NoError(t, json.Unmarshal(leased.Payload, &published))
		assert.Equal(t, env.ID, published.OriginalJobID)
	})

	t.Run("redelivered escalation publishes one alert", func(t *testing.T) {
		t.Parallel()

		broker := queue.NewMemoryBroker()
		reg := newTestRegistry(t, broker, queue.Definition{
			Name:   queue.DeadLetterQueue,
			Policy: queue.Policy{MaxAttempts: 1},
		})
		logs := &syncBuffer{}
		esc, err := queue.NewEscalator(queue.NewMemoryDeadLetterStore(),
			queue.WithPublisher(reg),
			queue.WithEscalatorLogger(logger.New(logger.WithOutput(logs), logger.WithLevel(slog.LevelDebug))),
		)
		require.NoError(t, err)

		// The first escalation saved and published, then failing the job
		// errored and the broker handed it out again.
		env := deadEnvelope("payment-retry")
		esc.Escalate(ctx, env, errors.New("card expired"))
		esc.Escalate(ctx, env, errors.New("card expired"))

		counts, err := broker.Counts(ctx, queue.DeadLetterQueue)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.Waiting)
		assert.Zero(t, logs.Count("dead-letter publish failed"))
		assert.Equal(t, 1, logs.Count("dead-letter alert already queued"))

		leased, err := broker.Lease(ctx, queue.DeadLetterQueue, time.Minute)
		require.NoError(t, err)
		var published queue.DeadLetterRecord
		require.NoError(t, json.Unmarshal(leased.Payload, &published))
		assert.Equal(t, queue.DeadLetterRecordID(env.ID), published.ID)
	})

	t.Run("store failure goes to fallback and never panics", func(t *testing.T) {
		t.Parallel()

		store := &MockDeadLetterStore{}
		store.On("Save", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

		sink := &MockFallbackSink{}
		sink.On("Append", mock.Anything, mock.MatchedBy(func(rec queue.DeadLetterRecord) bool {
			return rec.OriginalQueue == "payment-retry" && rec.ErrorMessage == "card expired"
		})).Return(nil)

		logs := &syncBuffer{}
		esc, err := queue.NewEscalator(store,
			queue.WithFallback(sink),
			queue.WithEscalatorLogger(logger.New(logger.WithOutput(logs))),
		)
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			esc.Escalate(ctx, deadEnvelope("payment-retry"), errors.New("card expired"))
		})

		store.AssertExpectations(t)
		sink.AssertExpectations(t)
		assert.Equal(t, 1, logs.Count("dead-letter write failed"))
		assert.Contains(t, logs.String(), queue.ErrDeadLetterWrite.Error())
	})

	t.Run("fallback failure is logged and swallowed", func(t *testing.T) {
		t.Parallel()

		store := &MockDeadLetterStore{}
		store.On("Save", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
		sink := &MockFallbackSink{}
		sink.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		logs := &syncBuffer{}
		esc, err := queue.NewEscalator(store,
			queue.WithFallback(sink),
			queue.WithEscalatorLogger(logger.New(logger.WithOutput(logs))),
		)
		require.NoError(t, err)

		esc.Escalate(ctx, deadEnvelope("email"), errors.New("bounced"))
		assert.Equal(t, 1, logs.Count("dead-letter fallback write failed"))
	})

	t.Run("dead-letter jobs are not republished", func(t *testing.T) {
		t.Parallel()

		broker := queue.NewMemoryBroker()
		reg := newTestRegistry(t, broker, queue.Definition{
			Name:   queue.DeadLetterQueue,
			Policy: queue.Policy{MaxAttempts: 1},
		})
		store := queue.NewMemoryDeadLetterStore()
		esc, err := queue.NewEscalator(store, queue.WithPublisher(reg), queue.WithEscalatorLogger(logger.Discard()))
		require.NoError(t, err)

		esc.Escalate(ctx, deadEnvelope(queue.DeadLetterQueue), errors.New("alert mail failed"))

		counts, err := broker.Counts(ctx, queue.DeadLetterQueue)
		require.NoError(t, err)
		assert.Zero(t, counts.Total())

		recs, err := store.List(ctx, queue.DeadLetterFilter{Queue: queue.DeadLetterQueue})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

func TestMemoryDeadLetterStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := queue.NewMemoryDeadLetterStore()

	older := queue.NewDeadLetterRecord(deadEnvelope("email"), errors.New("a"), testEpoch)
	newer := queue.NewDeadLetterRecord(deadEnvelope("payment-retry"), errors.New("b"), testEpoch.Add(time.Hour))
	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	all, err := store.List(ctx, queue.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)

	byQueue, err := store.List(ctx, queue.DeadLetterFilter{Queue: "email"})
	require.NoError(t, err)
	require.Len(t, byQueue, 1)
	assert.Equal(t, older.ID, byQueue[0].ID)

	paged, err := store.List(ctx, queue.DeadLetterFilter{Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, older.ID, paged[0].ID)

	jobID := uuid.New()
	require.NoError(t, store.MarkReplayed(ctx, older.ID, jobID, testEpoch))
	got, err := store.Get(ctx, older.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReplayedAt)
	assert.Equal(t, jobID, *got.ReplayJobID)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, queue.ErrDeadLetterNotFound)
	assert.ErrorIs(t, store.MarkReplayed(ctx, uuid.New(), jobID, testEpoch), queue.ErrDeadLetterNotFound)

	later := testEpoch.Add(time.Hour)
	assert.ErrorIs(t, store.ClaimReplay(ctx, newer.ID, &testEpoch, &later), queue.ErrReplayConflict)
	require.NoError(t, store.ClaimReplay(ctx, newer.ID, nil, &later))
	assert.ErrorIs(t, store.ClaimReplay(ctx, newer.ID, nil, &later), queue.ErrReplayConflict)
	require.NoError(t, store.ClaimReplay(ctx, newer.ID, &later, nil))
	got, err = store.Get(ctx, newer.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReplayedAt)
	assert.ErrorIs(t, store.ClaimReplay(ctx, uuid.New(), nil, &later), queue.ErrDeadLetterNotFound)
}
