package jobs

import "time"

// Config holds job-level settings.
type Config struct {
	RecurringFile    string        `env:"JOBS_RECURRING_FILE"`
	ReportRecipients []string      `env:"JOBS_REPORT_RECIPIENTS" envSeparator:","`
	IdempotencyTTL   time.Duration `env:"JOBS_IDEMPOTENCY_TTL" envDefault:"168h"`
	IdempotencyLock  time.Duration `env:"JOBS_IDEMPOTENCY_LOCK" envDefault:"30s"`
}

// GuardOptions converts the config into guard options.
func (c Config) GuardOptions() []GuardOption {
	return []GuardOption{
		WithDoneTTL(c.IdempotencyTTL),
		WithLockTTL(c.IdempotencyLock),
	}
}
