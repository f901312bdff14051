package queue

import "time"

// Config holds the configuration for workers, the scheduler and the stats collector
type Config struct {
	PollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LeaseDuration     time.Duration `env:"QUEUE_LEASE_DURATION" envDefault:"30s"`
	ShutdownTimeout   time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RetryLaterDelay   time.Duration `env:"QUEUE_RETRY_LATER_DELAY" envDefault:"5s"`
	Concurrency       int           `env:"QUEUE_CONCURRENCY" envDefault:"2"`
	SchedulerInterval time.Duration `env:"QUEUE_SCHEDULER_INTERVAL" envDefault:"30s"`
	StatsInterval     time.Duration `env:"QUEUE_STATS_INTERVAL" envDefault:"1m"`
	GrowthThreshold   int           `env:"QUEUE_STATS_GROWTH_THRESHOLD" envDefault:"5"`
	RedisPrefix       string        `env:"QUEUE_REDIS_PREFIX" envDefault:"mq:"`
}

// WorkerOptions translates the config into worker options.
func (c Config) WorkerOptions() []WorkerOption {
	return []WorkerOption{
		WithPollInterval(c.PollInterval),
		WithLeaseDuration(c.LeaseDuration),
		WithShutdownTimeout(c.ShutdownTimeout),
		WithRetryLaterDelay(c.RetryLaterDelay),
		WithConcurrency(c.Concurrency),
	}
}
