package queue_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

var testEpoch = time.Date(2025, 3, 10, 5, 59, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Count(msg string) int {
	return strings.Count(b.String(), `"msg":"`+msg+`"`)
}

func newTestRegistry(t *testing.T, broker queue.Broker, defs ...queue.Definition) *queue.Registry {
	t.Helper()

	reg, err := queue.NewRegistry(broker)
	require.NoError(t, err)
	require.NoError(t, reg.Register(defs...))
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func emailQueue() queue.Definition {
	return queue.Definition{
		Name: "email",
		Policy: queue.Policy{
			MaxAttempts:   2,
			BaseDelay:     time.Second,
			Priority:      queue.PriorityNormal,
			KeepCompleted: 100,
			KeepFailed:    50,
		},
	}
}

type emailPayload struct {
	To       string `json:"to"`
	Template string `json:"template"`
}

func (p emailPayload) Validate() error {
	if p.To == "" {
		return errMissingRecipient
	}
	return nil
}

var errMissingRecipient = errorString("recipient is required")

type errorString string

func (e errorString) Error() string { return string(e) }
