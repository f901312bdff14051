package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

func TestStatsCollector_EmptyQueue(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, queue.NewMemoryBroker(), emailQueue())
	c, err := queue.NewStatsCollector(reg)
	require.NoError(t, err)

	stats, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)

	s := stats[0]
	assert.Equal(t, "email", s.Name)
	assert.Zero(t, s.Waiting)
	assert.Zero(t, s.Active)
	assert.Zero(t, s.Completed)
	assert.Zero(t, s.Failed)
	assert.Zero(t, s.Delayed)
	assert.Zero(t, s.Total)
}

func TestStatsCollector_Collect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := queue.NewMemoryBroker()
	reg := newTestRegistry(t, broker, emailQueue(), dailyReports())

	for range 3 {
		_, err := reg.Enqueue(ctx, "email", "send-email", emailPayload{To: "a@example.com"})
		require.NoError(t, err)
	}
	_, err := reg.Enqueue(ctx, "email", "send-email", emailPayload{To: "a@example.com"}, queue.WithDelay(time.Hour))
	require.NoError(t, err)

	env, err := broker.Lease(ctx, "email", time.Minute)
	require.NoError(t, err)
	require.NoError(t, broker.Ack(ctx, env))

	c, err := queue.NewStatsCollector(reg)
	require.NoError(t, err)

	stats, err := c.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "daily-reports", stats[0].Name)
	assert.Zero(t, stats[0].Total)

	assert.Equal(t, "email", stats[1].Name)
	assert.Equal(t, int64(2), stats[1].Waiting)
	assert.Equal(t, int64(1), stats[1].Delayed)
	assert.Equal(t, int64(1), stats[1].Completed)
	assert.Equal(t, int64(4), stats[1].Total)
}

func TestStatsCollector_BacklogGrowthWarning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := newTestRegistry(t, queue.NewMemoryBroker(), emailQueue())

	logs := &syncBuffer{}
	c, err := queue.NewStatsCollector(reg,
		queue.WithGrowthThreshold(2),
		queue.WithStatsLogger(logger.New(logger.WithOutput(logs))),
	)
	require.NoError(t, err)

	require.NoError(t, c.Poll(ctx))
	for range 2 {
		_, err := reg.Enqueue(ctx, "email", "send-email", emailPayload{To: "a@example.com"})
		require.NoError(t, err)
		require.NoError(t, c.Poll(ctx))
	}

	assert.Equal(t, 1, logs.Count("queue backlog growing"))

	latest := c.Latest()
	require.Len(t, latest, 1)
	assert.Equal(t, int64(2), latest[0].Waiting)
}
