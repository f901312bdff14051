package jobs

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/marketjobs/pkg/email"
	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
	"github.com/dmitrymomot/marketjobs/pkg/storage"
)

// Handlers builds the queue handlers from the collaborators it is given.
// A queue whose collaborators are missing gets no handlers.
type Handlers struct {
	guard  IdempotencyGuard
	logger *slog.Logger
	now    func() time.Time

	mailer   email.Sender
	renderer *email.Renderer
	opsEmail string

	objects storage.ObjectStore
	bucket  string
	files   FileProcessor

	analytics   AnalyticsSink
	payments    PaymentGateway
	purchases   PurchaseStore
	commissions CommissionLedger
	reports     ReportBuilder
}

// HandlersOption configures Handlers.
type HandlersOption func(*Handlers)

// WithMailer enables the email, report and dead-letter alert handlers.
func WithMailer(sender email.Sender, renderer *email.Renderer) HandlersOption {
	return func(h *Handlers) {
		h.mailer = sender
		h.renderer = renderer
	}
}

// WithOpsEmail sets the address dead-letter alerts go to.
func WithOpsEmail(addr string) HandlersOption {
	return func(h *Handlers) {
		h.opsEmail = addr
	}
}

// WithObjectStore sets where uploaded files and processing manifests live.
func WithObjectStore(store storage.ObjectStore, bucket string) HandlersOption {
	return func(h *Handlers) {
		h.objects = store
		h.bucket = bucket
	}
}

// WithFileProcessor enables the file-processing handler.
func WithFileProcessor(p FileProcessor) HandlersOption {
	return func(h *Handlers) {
		h.files = p
	}
}

// WithAnalyticsSink enables the analytics handlers.
func WithAnalyticsSink(s AnalyticsSink) HandlersOption {
	return func(h *Handlers) {
		h.analytics = s
	}
}

// WithPayments enables the payment-retry handler.
func WithPayments(gateway PaymentGateway, purchases PurchaseStore) HandlersOption {
	return func(h *Handlers) {
		h.payments = gateway
		h.purchases = purchases
	}
}

// WithCommissionLedger enables the referral commission handler.
func WithCommissionLedger(l CommissionLedger) HandlersOption {
	return func(h *Handlers) {
		h.commissions = l
	}
}

// WithReportBuilder enables the report handlers. Reports also need a mailer.
func WithReportBuilder(b ReportBuilder) HandlersOption {
	return func(h *Handlers) {
		h.reports = b
	}
}

// WithHandlersLogger sets the logger.
func WithHandlersLogger(l *slog.Logger) HandlersOption {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHandlersClock overrides the time source.
func WithHandlersClock(now func() time.Time) HandlersOption {
	return func(h *Handlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandlers creates the handler set. Every side effect runs through guard.
func NewHandlers(guard IdempotencyGuard, opts ...HandlersOption) (*Handlers, error) {
	if guard == nil {
		return nil, ErrGuardNil
	}
	h := &Handlers{
		guard:  guard,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(logger.Component("jobs"))
	return h, nil
}

// Table maps each queue to its handlers. Queues without configured
// collaborators are absent.
func (h *Handlers) Table() map[string][]queue.Handler {
	t := make(map[string][]queue.Handler)

	if h.canMail() {
		t[QueueEmail] = []queue.Handler{queue.NewHandler[EmailPayload](TypeSendEmail, h.SendEmail)}
	}
	if h.objects != nil && h.files != nil {
		t[QueueFileProcessing] = []queue.Handler{queue.NewHandler[FilePayload](TypeProcessFile, h.ProcessFile)}
	}
	if h.analytics != nil {
		t[QueueAnalytics] = []queue.Handler{
			queue.NewHandler[AnalyticsEvent](TypeTrackEvent, h.TrackEvent),
			queue.NewHandler[AnalyticsAggregate](TypeAggregateAnalytics, h.AggregateAnalytics),
		}
	}
	if h.payments != nil && h.purchases != nil {
		t[QueuePaymentRetry] = []queue.Handler{queue.NewHandler[PaymentRetryPayload](TypeRetryPayment, h.RetryPayment)}
	}
	if h.commissions != nil {
		t[QueueReferralCommission] = []queue.Handler{queue.NewHandler[CommissionPayload](TypeProcessCommission, h.ProcessCommission)}
	}
	if h.reports != nil && h.canMail() {
		t[QueueDailyReports] = []queue.Handler{queue.NewHandler[ReportPayload](TypeGenerateDailyReport, h.GenerateReport)}
		t[QueueWeeklyReports] = []queue.Handler{queue.NewHandler[ReportPayload](TypeGenerateWeeklyReport, h.GenerateReport)}
	}
	t[QueueDeadLetter] = []queue.Handler{queue.NewHandler[queue.DeadLetterRecord](TypeDeadLetter, h.AlertDeadLetter)}

	return t
}

func (h *Handlers) canMail() bool {
	return h.mailer != nil && h.renderer != nil
}
