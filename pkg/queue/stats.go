package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/marketjobs/pkg/logger"
)

// QueueStats is a point-in-time snapshot of one queue.
type QueueStats struct {
	Name      string    `json:"name"`
	Waiting   int64     `json:"waiting"`
	Active    int64     `json:"active"`
	Completed int64     `json:"completed"`
	Failed    int64     `json:"failed"`
	Delayed   int64     `json:"delayed"`
	Total     int64     `json:"total"`
	At        time.Time `json:"at"`
}

// StatsCollector polls broker counts for every registered queue. It only reads.
type StatsCollector struct {
	registry  *Registry
	interval  time.Duration
	threshold int
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	latest []QueueStats
	growth map[string]int
}

// StatsOption configures a StatsCollector.
type StatsOption func(*StatsCollector)

// WithStatsInterval sets the polling interval.
func WithStatsInterval(d time.Duration) StatsOption {
	return func(c *StatsCollector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithGrowthThreshold sets after how many consecutive polls of a growing
// waiting count a backlog warning is logged.
func WithGrowthThreshold(n int) StatsOption {
	return func(c *StatsCollector) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithStatsLogger sets the logger for the collector.
func WithStatsLogger(l *slog.Logger) StatsOption {
	return func(c *StatsCollector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewStatsCollector creates a collector over registry's queues.
func NewStatsCollector(registry *Registry, opts ...StatsOption) (*StatsCollector, error) {
	if registry == nil {
		return nil, ErrRegistryNil
	}
	c := &StatsCollector{
		registry:  registry,
		interval:  time.Minute,
		threshold: 5,
		logger:    slog.Default(),
		now:       time.Now,
		growth:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("stats"))
	return c, nil
}

// Collect returns fresh stats for every registered queue, in name order.
func (c *StatsCollector) Collect(ctx context.Context) ([]QueueStats, error) {
	broker := c.registry.Broker()
	now := c.now().UTC()

	names := c.registry.Queues()
	out := make([]QueueStats, 0, len(names))
	for _, name := range names {
		counts, err := broker.Counts(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("collect stats for %s: %w", name, err)
		}
		out = append(out, QueueStats{
			Name:      name,
			Waiting:   counts.Waiting,
			Active:    counts.Active,
			Completed: counts.Completed,
			Failed:    counts.Failed,
			Delayed:   counts.Delayed,
			Total:     counts.Total(),
			At:        now,
		})
	}
	return out, nil
}

// Latest returns the most recent snapshot taken by Poll.
func (c *StatsCollector) Latest() []QueueStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]QueueStats, len(c.latest))
	copy(out, c.latest)
	return out
}

// Poll collects stats, stores them as Latest and checks backlog growth.
func (c *StatsCollector) Poll(ctx context.Context) error {
	stats, err := c.Collect(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to collect queue stats", logger.Error(err))
		return err
	}

	c.mu.Lock()
	prev := make(map[string]int64, len(c.latest))
	for _, s := range c.latest {
		prev[s.Name] = s.Waiting
	}
	c.latest = stats

	var growing []QueueStats
	for _, s := range stats {
		before, seen := prev[s.Name]
		if seen && s.Waiting > before {
			c.growth[s.Name]++
		} else {
			c.growth[s.Name] = 0
		}
		if c.growth[s.Name] >= c.threshold {
			growing = append(growing, s)
			c.growth[s.Name] = 0
		}
	}
	c.mu.Unlock()

	for _, s := range growing {
		c.logger.WarnContext(ctx, "queue backlog growing",
			logger.Queue(s.Name),
			slog.Int64("waiting", s.Waiting),
			slog.Int("polls", c.threshold))
	}
	return nil
}

// Run polls until ctx is cancelled and returns a function suitable for errgroup.
func (c *StatsCollector) Run(ctx context.Context) func() error {
	return func() error {
		_ = c.Poll(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				_ = c.Poll(ctx)
			}
		}
	}
}
