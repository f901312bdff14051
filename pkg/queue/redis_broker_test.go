package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

func newRedisBroker(t *testing.T, clock *fakeClock) (*queue.RedisBroker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := queue.NewRedisBroker(client,
		queue.WithRedisPrefix("test:"),
		queue.WithRedisClock(clock.Now),
	)
	require.NoError(t, err)
	return b, mr
}

func TestRedisBroker(t *testing.T) {
	t.Parallel()

	brokerContract(t, func(t *testing.T, clock *fakeClock) queue.Broker {
		b, _ := newRedisBroker(t, clock)
		return b
	})
}

func TestRedisBroker_KeyLayout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, mr := newRedisBroker(t, newFakeClock(testEpoch))

	env := newEnvelope("email", queue.PriorityNormal, testEpoch)
	require.NoError(t, b.Enqueue(ctx, env))

	assert.True(t, mr.Exists("test:{email}:job:"+env.ID.String()))
	members, err := mr.ZMembers("test:{email}:waiting")
	require.NoError(t, err)
	assert.Equal(t, []string{env.ID.String()}, members)

	leased, err := b.Lease(ctx, "email", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, env.ID, leased.ID)
	assert.JSONEq(t, string(env.Payload), string(leased.Payload))
	require.NotNil(t, leased.LeaseExpiresAt)
	assert.True(t, testEpoch.Add(time.Minute).Equal(*leased.LeaseExpiresAt))

	active, err := mr.ZMembers("test:{email}:active")
	require.NoError(t, err)
	assert.Equal(t, []string{env.ID.String()}, active)
}

func TestRedisBroker_Unavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, mr := newRedisBroker(t, newFakeClock(testEpoch))
	mr.Close()

	_, err := b.Lease(ctx, "email", time.Minute)
	assert.ErrorIs(t, err, queue.ErrBrokerUnavailable)

	_, err = b.Counts(ctx, "email")
	assert.ErrorIs(t, err, queue.ErrBrokerUnavailable)

	assert.ErrorIs(t, b.Enqueue(ctx, newEnvelope("email", queue.PriorityNormal, testEpoch)), queue.ErrBrokerUnavailable)
}

func TestNewRedisBroker_NilClient(t *testing.T) {
	t.Parallel()

	_, err := queue.NewRedisBroker(nil)
	assert.ErrorIs(t, err, queue.ErrBrokerNil)
}
