package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

// DefaultPaymentRetryDelay is how long RetryPayment waits before the first try.
const DefaultPaymentRetryDelay = 30 * time.Second

// Producer enqueues marketplace jobs with typed payloads.
type Producer struct {
	pub queue.Publisher
	now func() time.Time
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithProducerClock overrides the time source used for defaulted timestamps.
func WithProducerClock(now func() time.Time) ProducerOption {
	return func(p *Producer) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProducer creates a producer on top of pub, usually a *queue.Registry.
func NewProducer(pub queue.Publisher, opts ...ProducerOption) (*Producer, error) {
	if pub == nil {
		return nil, ErrRegistryNil
	}
	p := &Producer{pub: pub, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SendEmail enqueues a templated email. The payload priority, when set,
// overrides the queue default; explicit options win over both.
func (p *Producer) SendEmail(ctx context.Context, payload EmailPayload, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	var base []queue.EnqueueOption
	switch payload.Priority {
	case EmailPriorityHigh:
		base = append(base, queue.WithPriority(queue.PriorityHigh))
	case EmailPriorityLow:
		base = append(base, queue.WithPriority(queue.PriorityLow))
	}
	return p.pub.Enqueue(ctx, QueueEmail, TypeSendEmail, payload, append(base, opts...)...)
}

// ProcessFile enqueues one processing step for a file. A step already
// outstanding for the same file is rejected with queue.ErrDuplicateJob.
func (p *Producer) ProcessFile(ctx context.Context, payload FilePayload, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	base := []queue.EnqueueOption{queue.WithDedupeKey(fileKey(payload))}
	return p.pub.Enqueue(ctx, QueueFileProcessing, TypeProcessFile, payload, append(base, opts...)...)
}

// TrackEvent enqueues an analytics event, assigning an ID and OccurredAt when unset.
func (p *Producer) TrackEvent(ctx context.Context, event AnalyticsEvent, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}
	return p.pub.Enqueue(ctx, QueueAnalytics, TypeTrackEvent, event, opts...)
}

// AggregateAnalytics enqueues the roll-up of the hour containing hour.
func (p *Producer) AggregateAnalytics(ctx context.Context, hour time.Time, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	payload := AnalyticsAggregate{Hour: hour.UTC().Truncate(time.Hour)}
	base := []queue.EnqueueOption{queue.WithDedupeKey(aggregateKey(payload))}
	return p.pub.Enqueue(ctx, QueueAnalytics, TypeAggregateAnalytics, payload, append(base, opts...)...)
}

// RetryPayment schedules a payment retry DefaultPaymentRetryDelay from now
// unless opts say otherwise.
func (p *Producer) RetryPayment(ctx context.Context, payload PaymentRetryPayload, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	base := []queue.EnqueueOption{
		queue.WithDelay(DefaultPaymentRetryDelay),
		queue.WithDedupeKey(paymentKey(payload)),
	}
	return p.pub.Enqueue(ctx, QueuePaymentRetry, TypeRetryPayment, payload, append(base, opts...)...)
}

// ProcessCommission enqueues crediting a referral commission.
func (p *Producer) ProcessCommission(ctx context.Context, payload CommissionPayload, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	base := []queue.EnqueueOption{queue.WithDedupeKey(commissionKey(payload))}
	return p.pub.Enqueue(ctx, QueueReferralCommission, TypeProcessCommission, payload, append(base, opts...)...)
}

// GenerateDailyReport enqueues a report for payload.Date.
func (p *Producer) GenerateDailyReport(ctx context.Context, payload ReportPayload, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	return p.pub.Enqueue(ctx, QueueDailyReports, TypeGenerateDailyReport, payload, opts...)
}

// GenerateWeeklyReport enqueues a report for payload.WeekStart..WeekEnd.
func (p *Producer) GenerateWeeklyReport(ctx context.Context, payload ReportPayload, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	return p.pub.Enqueue(ctx, QueueWeeklyReports, TypeGenerateWeeklyReport, payload, opts...)
}
