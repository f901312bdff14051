package ops

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/marketjobs/pkg/deadletter"
	"github.com/dmitrymomot/marketjobs/pkg/httpserver"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

// StatsSource provides queue snapshots. *queue.StatsCollector implements it.
type StatsSource interface {
	Latest() []queue.QueueStats
	Collect(ctx context.Context) ([]queue.QueueStats, error)
}

// ScheduleSource lists and fires recurring jobs. *queue.Scheduler implements it.
type ScheduleSource interface {
	Entries() []queue.EntryInfo
	Fire(ctx context.Context, dedupeKey string) (queue.FireOutcome, error)
}

// Option configures the ops router.
type Option func(*router)

// WithStats enables GET /stats.
func WithStats(src StatsSource) Option {
	return func(h *router) { h.stats = src }
}

// WithDeadLetters enables the dead-letter endpoints. Replay stays disabled
// when replayer is nil.
func WithDeadLetters(store queue.DeadLetterStore, replayer deadletter.Replayer) Option {
	return func(h *router) {
		h.store = store
		h.replayer = replayer
	}
}

// WithSchedules enables GET /schedules and POST /schedules/{key}/fire.
func WithSchedules(src ScheduleSource) Option {
	return func(h *router) { h.schedules = src }
}

// WithChecks adds readiness checks.
func WithChecks(checks ...httpserver.Check) Option {
	return func(h *router) { h.checks = append(h.checks, checks...) }
}

// WithReadinessTimeout bounds the total time of all readiness checks.
func WithReadinessTimeout(d time.Duration) Option {
	return func(h *router) {
		if d > 0 {
			h.readyTimeout = d
		}
	}
}

// WithMaxPageSize caps the limit accepted by GET /dead-letters.
func WithMaxPageSize(n int) Option {
	return func(h *router) {
		if n > 0 {
			h.maxLimit = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *router) {
		if l != nil {
			h.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *router) {
		if now != nil {
			h.now = now
		}
	}
}
