package jobs

import (
	"time"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

// Queue names.
const (
	QueueEmail              = "email"
	QueueFileProcessing     = "file-processing"
	QueueAnalytics          = "analytics"
	QueuePaymentRetry       = "payment-retry"
	QueueReferralCommission = "referral-commission"
	QueueDailyReports       = "daily-reports"
	QueueWeeklyReports      = "weekly-reports"
	QueueDeadLetter         = queue.DeadLetterQueue
)

// Job types.
const (
	TypeSendEmail            = "send-email"
	TypeProcessFile          = "process-file"
	TypeTrackEvent           = "track-event"
	TypeAggregateAnalytics   = "aggregate-analytics"
	TypeRetryPayment         = "retry-payment"
	TypeProcessCommission    = "process-commission"
	TypeGenerateDailyReport  = "generate-daily-report"
	TypeGenerateWeeklyReport = "generate-weekly-report"
	TypeDeadLetter           = queue.DeadLetterJobType
)

const (
	defaultKeepCompleted = 100
	defaultKeepFailed    = 50
	deadLetterRetention  = 1000
)

// Definitions returns every marketplace queue bound to its default policy.
func Definitions() []queue.Definition {
	return []queue.Definition{
		{
			Name:   QueueEmail,
			Policy: policy(2, time.Second, queue.PriorityNormal),
			Types:  []string{TypeSendEmail},
		},
		{
			Name:   QueueFileProcessing,
			Policy: policy(5, 5*time.Second, queue.PriorityHigh),
			Types:  []string{TypeProcessFile},
		},
		{
			Name:   QueueAnalytics,
			Policy: policy(2, 10*time.Second, queue.PriorityLow),
			Types:  []string{TypeTrackEvent, TypeAggregateAnalytics},
		},
		{
			Name:   QueuePaymentRetry,
			Policy: policy(5, 30*time.Second, queue.PriorityHigh),
			Types:  []string{TypeRetryPayment},
		},
		{
			Name:   QueueReferralCommission,
			Policy: policy(3, 2*time.Second, queue.PriorityNormal),
			Types:  []string{TypeProcessCommission},
		},
		{
			Name:   QueueDailyReports,
			Policy: policy(2, 5*time.Second, queue.PriorityLow),
			Types:  []string{TypeGenerateDailyReport},
		},
		{
			Name:   QueueWeeklyReports,
			Policy: policy(2, 10*time.Second, queue.PriorityLow),
			Types:  []string{TypeGenerateWeeklyReport},
		},
		{
			Name: QueueDeadLetter,
			Policy: queue.Policy{
				MaxAttempts:   1,
				BaseDelay:     time.Second,
				Priority:      queue.PriorityNormal,
				KeepCompleted: deadLetterRetention,
				KeepFailed:    deadLetterRetention,
			},
			Types: []string{TypeDeadLetter},
		},
	}
}

// QueueNames lists the marketplace queues in registration order.
func QueueNames() []string {
	defs := Definitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

func policy(attempts int, base time.Duration, p queue.Priority) queue.Policy {
	return queue.Policy{
		MaxAttempts:   attempts,
		BaseDelay:     base,
		Priority:      p,
		KeepCompleted: defaultKeepCompleted,
		KeepFailed:    defaultKeepFailed,
	}
}
