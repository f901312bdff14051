package queue_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

type workerFixture struct {
	clock     *fakeClock
	broker    queue.Broker
	registry  *queue.Registry
	store     *queue.MemoryDeadLetterStore
	escalator *queue.Escalator
	logs      *syncBuffer
	log       *slog.Logger
}

func newWorkerFixture(t *testing.T, broker queue.Broker, clock *fakeClock, defs ...queue.Definition) *workerFixture {
	t.Helper()

	logs := &syncBuffer{}
	log := logger.New(logger.WithOutput(logs), logger.WithFormat(logger.FormatJSON), logger.WithLevel(slog.LevelDebug))

	defs = append(defs, queue.Definition{
		Name:   queue.DeadLetterQueue,
		Policy: queue.Policy{MaxAttempts: 1, KeepCompleted: 10, KeepFailed: 10},
	})
	reg, err := queue.NewRegistry(broker, queue.WithRegistryClock(clock.Now), queue.WithRegistryLogger(log))
	require.NoError(t, err)
	require.NoError(t, reg.Register(defs...))
	t.Cleanup(func() { _ = reg.Close() })

	store := queue.NewMemoryDeadLetterStore()
	esc, err := queue.NewEscalator(store,
		queue.WithPublisher(reg),
		queue.WithEscalatorLogger(log),
		queue.WithEscalatorClock(clock.Now),
	)
	require.NoError(t, err)

	return &workerFixture{
		clock:     clock,
		broker:    broker,
		registry:  reg,
		store:     store,
		escalator: esc,
		logs:      logs,
		log:       log,
	}
}

func (f *workerFixture) startWorker(t *testing.T, queueName string, opts []queue.WorkerOption, handlers ...queue.Handler) *queue.Worker {
	t.Helper()

	opts = append([]queue.WorkerOption{
		queue.WithPollInterval(time.Millisecond),
		queue.WithLeaseDuration(time.Minute),
		queue.WithShutdownTimeout(5 * time.Second),
		queue.WithWorkerClock(f.clock.Now),
		queue.WithEscalator(f.escalator),
		queue.WithWorkerLogger(f.log),
	}, opts...)

	w, err := queue.NewWorker(f.registry, queueName, opts...)
	require.NoError(t, err)
	require.NoError(t, w.RegisterHandlers(handlers...))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func (f *workerFixture) deadLetters(t *testing.T) []queue.DeadLetterRecord {
	t.Helper()
	recs, err := f.store.List(context.Background(), queue.DeadLetterFilter{})
	require.NoError(t, err)
	return recs
}

func (f *workerFixture) counts(t *testing.T, queueName string) queue.Counts {
	t.Helper()
	c, err := f.broker.Counts(context.Background(), queueName)
	require.NoError(t, err)
	return c
}

type paymentRetry struct {
	PaymentID  string `json:"paymentId"`
	Provider   string `json:"provider"`
	RetryCount int    `json:"retryCount"`
}

func TestWorker_ExhaustedJobIsDeadLetteredOnce(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	f := newWorkerFixture(t, queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now)), clock, queue.Definition{
		Name:   "payment-retry",
		Policy: queue.Policy{MaxAttempts: 5, BaseDelay: 30 * time.Second, Priority: queue.PriorityHigh, KeepFailed: 50},
	})

	var calls atomic.Int32
	f.startWorker(t, "payment-retry", nil, queue.NewHandler("retry-payment", func(ctx context.Context, p paymentRetry) error {
		calls.Add(1)
		return errors.New("gateway declined")
	}))

	id, err := f.registry.Enqueue(context.Background(), "payment-retry", "retry-payment",
		paymentRetry{PaymentID: "pay_123", Provider: "stripe"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		clock.Advance(time.Hour)
		return f.counts(t, "payment-retry").Failed == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(5), calls.Load())

	recs := f.deadLetters(t)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].OriginalJobID)
	assert.Equal(t, "payment-retry", recs[0].OriginalQueue)
	assert.Equal(t, 5, recs[0].RetryCount)
	assert.Contains(t, recs[0].ErrorMessage, "gateway declined")
	assert.JSONEq(t, `{"paymentId":"pay_123","provider":"stripe","retryCount":0}`, string(recs[0].OriginalPayload))

	env, err := f.broker.Get(context.Background(), "payment-retry", id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDead, env.State)
	assert.Equal(t, 5, env.AttemptsMade)

	assert.Equal(t, 5, f.logs.Count("job failed"))
	assert.Equal(t, 1, f.logs.Count("job dead-lettered"))
	assert.Equal(t, int64(1), f.counts(t, queue.DeadLetterQueue).Waiting, "record published for alerting")
}

func TestWorker_RetrySucceeds(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	f := newWorkerFixture(t, queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now)), clock, emailQueue())

	var calls atomic.Int32
	f.startWorker(t, "email", nil, queue.NewHandler("send-email", func(ctx context.Context, p emailPayload) error {
		if calls.Add(1) == 1 {
			return errors.New("smtp timeout")
		}
		return nil
	}))

	_, err := f.registry.Enqueue(context.Background(), "email", "send-email", emailPayload{To: "a@example.com"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return f.counts(t, "email").Completed == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, f.deadLetters(t))
	assert.Equal(t, 1, f.logs.Count("job failed"))
	assert.Equal(t, 1, f.logs.Count("job completed"))
	assert.Zero(t, f.logs.Count("job dead-lettered"))
}

func TestWorker_RetryIsScheduledWithBackoff(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	broker := queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now))
	f := newWorkerFixture(t, broker, clock, emailQueue())

	f.startWorker(t, "email", nil, queue.NewHandler("send-email", func(ctx context.Context, p emailPayload) error {
		return errors.New("smtp timeout")
	}))

	id, err := f.registry.Enqueue(context.Background(), "email", "send-email", emailPayload{To: "a@example.com"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		env, err := broker.Get(context.Background(), "email", id)
		return err == nil && env.State == queue.StateRetrying
	}, 5*time.Second, 5*time.Millisecond)

	env, err := broker.Get(context.Background(), "email", id)
	require.NoError(t, err)
	assert.Equal(t, 1, env.AttemptsMade)
	assert.Equal(t, testEpoch.Add(2*time.Second), env.AvailableAt, "base delay 1s * 2^1")
	assert.Equal(t, int64(1), f.counts(t, "email").Delayed)
}

func TestWorker_PanicIsAHandlerFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	f := newWorkerFixture(t, queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now)), clock, emailQueue())

	var calls atomic.Int32
	f.startWorker(t, "email", nil, queue.NewHandler("send-email", func(ctx context.Context, p emailPayload) error {
		if calls.Add(1) == 1 {
			panic("template missing")
		}
		return nil
	}))

	_, err := f.registry.Enqueue(context.Background(), "email", "send-email", emailPayload{To: "a@example.com"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return f.counts(t, "email").Completed == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, f.logs.Count("handler panicked"))
	assert.Equal(t, 1, f.logs.Count("job failed"))
}

func TestWorker_MissingHandlerDeadLettersImmediately(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	f := newWorkerFixture(t, queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now)), clock, emailQueue())

	f.startWorker(t, "email", nil, queue.NewHandler("send-email", func(ctx context.Context, p emailPayload) error {
		return nil
	}))

	_, err := f.registry.Enqueue(context.Background(), "email", "send-newsletter", emailPayload{To: "a@example.com"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.deadLetters(t)) == 1
	}, 5*time.Second, 5*time.Millisecond)

	rec := f.deadLetters(t)[0]
	assert.Equal(t, "send-newsletter", rec.OriginalType)
	assert.Equal(t, 1, rec.RetryCount, "the failed dispatch counts as an attempt")
	assert.Contains(t, rec.ErrorMessage, queue.ErrHandlerNotFound.Error())
}

func TestWorker_RetryLaterDoesNotSpendAttempts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	broker := queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now))
	f := newWorkerFixture(t, broker, clock, emailQueue())

	var calls atomic.Int32
	f.startWorker(t, "email", []queue.WorkerOption{queue.WithRetryLaterDelay(10 * time.Second)},
		queue.NewHandler("send-email", func(ctx context.Context, p emailPayload) error {
			if calls.Add(1) <= 4 {
				return fmt.Errorf("lock held: %w", queue.ErrRetryLater)
			}
			return nil
		}))

	id, err := f.registry.Enqueue(context.Background(), "email", "send-email", emailPayload{To: "a@example.com"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		env, err := broker.Get(context.Background(), "email", id)
		return err == nil && env.State == queue.StateRetrying
	}, 5*time.Second, 5*time.Millisecond)

	env, err := broker.Get(context.Background(), "email", id)
	require.NoError(t, err)
	assert.Zero(t, env.AttemptsMade)
	assert.Equal(t, testEpoch.Add(10*time.Second), env.AvailableAt)

	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Second)
		return f.counts(t, "email").Completed == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(5), calls.Load(), "more deferrals than the queue's max attempts")
	assert.Empty(t, f.deadLetters(t))
	assert.Equal(t, 4, f.logs.Count("job deferred"))
	assert.Zero(t, f.logs.Count("job failed"))
}

func TestWorker_GracefulStopWaitsForInFlightJobs(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	f := newWorkerFixture(t, queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now)), clock, emailQueue())

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxDone atomic.Bool

	w := f.startWorker(t, "email", nil, queue.NewHandler("send-email", func(ctx context.Context, p emailPayload) error {
		close(started)
		<-release
		handlerCtxDone.Store(ctx.Err() != nil)
		return nil
	}))

	_, err := f.registry.Enqueue(context.Background(), "email", "send-email", emailPayload{To: "a@example.com"})
	require.NoError(t, err)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)

	assert.False(t, handlerCtxDone.Load(), "handler context must survive worker shutdown")
	assert.Equal(t, int64(1), f.counts(t, "email").Completed)
	require.NoError(t, w.Stop(), "second Stop is a no-op")
}

func TestWorker_ShutdownTimeout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	f := newWorkerFixture(t, queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now)), clock, emailQueue())

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	w := f.startWorker(t, "email",
		[]queue.WorkerOption{queue.WithShutdownTimeout(20 * time.Millisecond)},
		queue.NewHandler("send-email", func(ctx context.Context, p emailPayload) error {
			close(started)
			<-release
			return nil
		}))

	_, err := f.registry.Enqueue(context.Background(), "email", "send-email", emailPayload{To: "a@example.com"})
	require.NoError(t, err)
	<-started

	assert.ErrorIs(t, w.Stop(), queue.ErrShutdownTimeout)
}

func TestWorker_Concurrency(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	f := newWorkerFixture(t, queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now)), clock, emailQueue())

	var running, peak atomic.Int32
	release := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	f.startWorker(t, "email",
		[]queue.WorkerOption{queue.WithConcurrency(3)},
		queue.NewHandler("send-email", func(ctx context.Context, p emailPayload) error {
			n := running.Add(1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		}))

	for range 3 {
		_, err := f.registry.Enqueue(context.Background(), "email", "send-email", emailPayload{To: "a@example.com"})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return peak.Load() == 3 }, 5*time.Second, 5*time.Millisecond)
	once.Do(func() { close(release) })

	require.Eventually(t, func() bool {
		return f.counts(t, "email").Completed == 3
	}, 5*time.Second, 5*time.Millisecond)
}

// flakyBroker fails the first n leases as if the broker were unreachable.
type flakyBroker struct {
	queue.Broker
	failures atomic.Int32
}

func (b *flakyBroker) Lease(ctx context.Context, queueName string, lease time.Duration) (*queue.Envelope, error) {
	if b.failures.Add(-1) >= 0 {
		return nil, queue.ErrBrokerUnavailable
	}
	return b.Broker.Lease(ctx, queueName, lease)
}

func TestWorker_BacksOffWhileBrokerUnavailable(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	broker := &flakyBroker{Broker: queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now))}
	broker.failures.Store(3)
	f := newWorkerFixture(t, broker, clock, emailQueue())

	var calls atomic.Int32
	f.startWorker(t, "email",
		[]queue.WorkerOption{queue.WithBrokerBackoff(queue.JitterBackoff{Initial: time.Millisecond, Max: 5 * time.Millisecond})},
		queue.NewHandler("send-email", func(ctx context.Context, p emailPayload) error {
			calls.Add(1)
			return nil
		}))

	_, err := f.registry.Enqueue(context.Background(), "email", "send-email", emailPayload{To: "a@example.com"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, f.logs.Count("lease failed, backing off"))
	assert.Equal(t, 0, f.logs.Count("job failed"), "broker outages do not spend attempts")
}

func TestWorker_Registration(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testEpoch)
	f := newWorkerFixture(t, queue.NewMemoryBroker(), clock, emailQueue())

	_, err := queue.NewWorker(nil, "email")
	assert.ErrorIs(t, err, queue.ErrRegistryNil)

	_, err = queue.NewWorker(f.registry, "sms")
	assert.ErrorIs(t, err, queue.ErrUnknownQueue)

	w, err := queue.NewWorker(f.registry, "email", queue.WithWorkerLogger(logger.Discard()))
	require.NoError(t, err)
	assert.Equal(t, "email", w.Queue())

	assert.ErrorIs(t, w.Start(context.Background()), queue.ErrNoHandlers)

	h := queue.HandlerFunc("send-email", nil)
	require.NoError(t, w.RegisterHandler(h))
	assert.ErrorIs(t, w.RegisterHandler(h), queue.ErrHandlerAlreadyRegistered)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	assert.ErrorIs(t, w.Start(ctx), queue.ErrWorkerStarted)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
