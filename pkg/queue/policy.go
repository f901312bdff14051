package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// maxBackoffShift caps the exponent so base<<shift cannot overflow.
const maxBackoffShift = 30

// maxDelay is the saturation point of exponential delays.
const maxDelay = time.Duration(math.MaxInt64 / 2)

// Policy is the default retry and retention behaviour of a queue.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	Priority      Priority
	KeepCompleted int // completed envelopes retained for inspection; 0 keeps none
	KeepFailed    int // dead envelopes retained for inspection; 0 keeps none
}

// Backoff returns BaseDelay * 2^attemptsMade. The result is deterministic and
// non-decreasing in attemptsMade.
func (p Policy) Backoff(attemptsMade int) time.Duration {
	return ExponentialDelay(p.BaseDelay, attemptsMade)
}

// ExponentialDelay returns base * 2^attempts, saturating instead of overflowing.
func ExponentialDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 || attempts < 0 {
		return max(base, 0)
	}
	shift := min(attempts, maxBackoffShift)
	if base > maxDelay>>shift {
		return maxDelay
	}
	return base << shift
}

// BackoffStrategy computes the wait before the next attempt of an operation
// that keeps failing, such as leasing from an unreachable broker.
// Implementations must be safe for concurrent use.
type BackoffStrategy interface {
	// NextInterval returns the wait after the given consecutive failure (1-based).
	NextInterval(failures int) time.Duration
}

// JitterBackoff grows exponentially from Initial up to Max, spreading each
// interval by ±Jitter so many workers do not hammer a recovering broker together.
type JitterBackoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// DefaultBrokerBackoff is used by workers when none is configured.
func DefaultBrokerBackoff() BackoffStrategy {
	return JitterBackoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2}
}

func (b JitterBackoff) NextInterval(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	ceiling := b.Max
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}

	d := min(ExponentialDelay(initial, failures-1), ceiling)
	if b.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * b.Jitter
		d = time.Duration(float64(d) * (1 + spread))
	}
	return min(d, ceiling)
}
