package logger

import (
	"log/slog"
	"time"
)

// Error records err under the key "error". Nil errors produce an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// JobID records a job identifier under "job_id".
func JobID(id any) slog.Attr {
	return slog.Any("job_id", id)
}

// Queue records a queue name under "queue".
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// JobType records a job type under "job_type".
func JobType(t string) slog.Attr {
	return slog.String("job_type", t)
}

// Attempt records the attempts made so far and the ceiling under "attempt".
func Attempt(made, max int) slog.Attr {
	return slog.Group("attempt", slog.Int("made", made), slog.Int("max", max))
}

// WorkerID records a worker identifier under "worker_id".
func WorkerID(id string) slog.Attr {
	return slog.String("worker_id", id)
}

// DedupeKey records a recurring-job dedupe key under "dedupe_key".
func DedupeKey(key string) slog.Attr {
	return slog.String("dedupe_key", key)
}

// Duration records d under "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
