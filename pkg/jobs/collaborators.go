package jobs

import (
	"context"
	"time"

	"github.com/dmitrymomot/marketjobs/pkg/storage"
)

// The interfaces below are the marketplace services job handlers drive.
// Implementations must tolerate repeated calls with the same identifiers.

// FileProcessor runs one processing step on a stored object and returns a
// short summary recorded in the processing manifest.
type FileProcessor interface {
	Process(ctx context.Context, file FilePayload, object storage.ObjectInfo) (map[string]any, error)
}

// AnalyticsSink stores tracked events and hourly roll-ups.
type AnalyticsSink interface {
	Record(ctx context.Context, event AnalyticsEvent) error
	AggregateHour(ctx context.Context, hour time.Time) error
}

// PaymentResult is the gateway's answer to a retried charge.
type PaymentResult struct {
	TransactionID string
	Succeeded     bool
	Reason        string
}

// PaymentGateway charges a previously failed payment again.
type PaymentGateway interface {
	Retry(ctx context.Context, payment PaymentRetryPayload) (PaymentResult, error)
}

// PurchaseStore grants product access after a successful payment.
type PurchaseStore interface {
	GrantAccess(ctx context.Context, userID, productID, paymentID string) error
}

// CommissionLedger credits referral commissions.
type CommissionLedger interface {
	Credit(ctx context.Context, commission CommissionPayload) error
}

// Report is a built report file.
type Report struct {
	Title       string
	FileName    string
	ContentType string
	Content     []byte
}

// ReportBuilder renders a report for the payload's period.
type ReportBuilder interface {
	Build(ctx context.Context, req ReportPayload, from, to time.Time) (Report, error)
}
