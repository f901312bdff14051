package jobs

import (
	"time"

	"github.com/dmitrymomot/marketjobs/pkg/email"
	"github.com/dmitrymomot/marketjobs/pkg/validator"
)

// DateLayout is the calendar date format used by report payloads.
const DateLayout = "2006-01-02"

// Email priorities map onto queue priorities by the producer.
const (
	EmailPriorityHigh   = "high"
	EmailPriorityNormal = "normal"
	EmailPriorityLow    = "low"
)

// File processing kinds.
const (
	ProcessingVirusScan           = "virus_scan"
	ProcessingOptimization        = "optimization"
	ProcessingThumbnailGeneration = "thumbnail_generation"
	ProcessingFormatConversion    = "format_conversion"
)

// Payment providers.
const (
	ProviderStripe   = "stripe"
	ProviderYookassa = "yookassa"
	ProviderCrypto   = "crypto"
)

// Report types and formats.
const (
	ReportSales     = "sales"
	ReportUsers     = "users"
	ReportProducts  = "products"
	ReportReferrals = "referrals"
	ReportAll       = "all"

	FormatPDF  = "pdf"
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// EmailPayload asks the email queue to render Template with Data and send it.
type EmailPayload struct {
	To          string             `json:"to"`
	Template    string             `json:"template"`
	Data        map[string]any     `json:"data,omitempty"`
	Priority    string             `json:"priority,omitempty"`
	Subject     string             `json:"subject,omitempty"`
	Attachments []email.Attachment `json:"attachments,omitempty"`

	// IdempotencyKey collapses repeated sends of the same logical message.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (p EmailPayload) Validate() error {
	return validator.Apply(
		validator.Required("to", p.To),
		validator.ValidEmail("to", p.To),
		validator.Required("template", p.Template),
		validator.When(p.Priority != "",
			validator.OneOf("priority", p.Priority, []string{EmailPriorityHigh, EmailPriorityNormal, EmailPriorityLow})),
		validator.MaxLen("subject", p.Subject, 998),
		validator.Each("attachments", p.Attachments, "attachment name and content are required",
			func(a email.Attachment) bool { return a.Name != "" && len(a.Content) > 0 }),
	)
}

// FilePayload asks the file-processing queue to run one processing step.
type FilePayload struct {
	FileID         string `json:"file_id"`
	FileURL        string `json:"file_url"`
	FileName       string `json:"file_name"`
	FileType       string `json:"file_type"`
	ProcessingType string `json:"processing_type"`
}

func (p FilePayload) Validate() error {
	return validator.Apply(
		validator.Required("file_id", p.FileID),
		validator.Required("file_url", p.FileURL),
		validator.Required("file_name", p.FileName),
		validator.Required("file_type", p.FileType),
		validator.OneOf("processing_type", p.ProcessingType, []string{
			ProcessingVirusScan, ProcessingOptimization, ProcessingThumbnailGeneration, ProcessingFormatConversion,
		}),
	)
}

// AnalyticsEvent is a single tracked user action.
type AnalyticsEvent struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	UserID     string         `json:"user_id,omitempty"`
	ProductID  string         `json:"product_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (e AnalyticsEvent) Validate() error {
	return validator.Apply(
		validator.Required("id", e.ID),
		validator.Required("event", e.Event),
		validator.MaxLen("event", e.Event, 128),
		validator.RequiredTime("occurred_at", e.OccurredAt),
	)
}

// AnalyticsAggregate asks for the events of one hour to be rolled up.
type AnalyticsAggregate struct {
	Hour time.Time `json:"hour"`
}

func (a AnalyticsAggregate) Validate() error {
	return validator.Apply(validator.RequiredTime("hour", a.Hour))
}

// PaymentRetryPayload identifies a failed payment to charge again.
// Amount is in minor currency units.
type PaymentRetryPayload struct {
	PaymentID  string `json:"payment_id"`
	UserID     string `json:"user_id"`
	ProductID  string `json:"product_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Provider   string `json:"provider"`
	RetryCount int    `json:"retry_count"`
}

func (p PaymentRetryPayload) Validate() error {
	return validator.Apply(
		validator.Required("payment_id", p.PaymentID),
		validator.Required("user_id", p.UserID),
		validator.Required("product_id", p.ProductID),
		validator.PositiveAmount("amount", p.Amount),
		validator.ValidCurrencyCode("currency", p.Currency),
		validator.OneOf("provider", p.Provider, []string{ProviderStripe, ProviderYookassa, ProviderCrypto}),
		validator.NonNegativeAmount("retry_count", p.RetryCount),
	)
}

// CommissionPayload credits a referrer for a purchase. Amounts are in minor units.
type CommissionPayload struct {
	ReferralID       string  `json:"referral_id"`
	ReferrerID       string  `json:"referrer_id"`
	BuyerID          string  `json:"buyer_id"`
	ProductID        string  `json:"product_id"`
	PurchaseID       string  `json:"purchase_id"`
	Amount           int64   `json:"amount"`
	CommissionRate   float64 `json:"commission_rate"`
	CommissionAmount int64   `json:"commission_amount"`
	Currency         string  `json:"currency"`
}

func (p CommissionPayload) Validate() error {
	return validator.Apply(
		validator.Required("referral_id", p.ReferralID),
		validator.Required("referrer_id", p.ReferrerID),
		validator.Required("buyer_id", p.BuyerID),
		validator.Required("product_id", p.ProductID),
		validator.Required("purchase_id", p.PurchaseID),
		validator.PositiveAmount("amount", p.Amount),
		validator.Custom("commission_rate", "must be greater than 0 and at most 1", func() bool {
			return p.CommissionRate > 0 && p.CommissionRate <= 1
		}),
		validator.PositiveAmount("commission_amount", p.CommissionAmount),
		validator.Custom("commission_amount", "must not exceed amount", func() bool { return p.CommissionAmount <= p.Amount }),
		validator.ValidCurrencyCode("currency", p.Currency),
		validator.Custom("referrer_id", "must differ from buyer_id", func() bool { return p.ReferrerID != p.BuyerID }),
	)
}

// ReportPayload describes a daily (Date) or weekly (WeekStart..WeekEnd) report.
type ReportPayload struct {
	Date       string   `json:"date,omitempty"`
	WeekStart  string   `json:"week_start,omitempty"`
	WeekEnd    string   `json:"week_end,omitempty"`
	ReportType string   `json:"report_type"`
	Recipients []string `json:"recipients"`
	Format     string   `json:"format"`
}

// Daily reports whether the payload targets a single day.
func (p ReportPayload) Daily() bool {
	return p.Date != ""
}

// Period returns the covered range, end exclusive.
func (p ReportPayload) Period() (from, to time.Time, err error) {
	if p.Daily() {
		from, err = time.Parse(DateLayout, p.Date)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return from, from.AddDate(0, 0, 1), nil
	}
	from, err = time.Parse(DateLayout, p.WeekStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(DateLayout, p.WeekEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, end.AddDate(0, 0, 1), nil
}

func (p ReportPayload) Validate() error {
	weekly := p.WeekStart != "" || p.WeekEnd != ""
	return validator.Apply(
		validator.Custom("date", "either date or week_start and week_end are required", func() bool {
			return p.Daily() != weekly
		}),
		validator.When(p.Daily(), dateRule("date", p.Date)),
		validator.When(weekly, dateRule("week_start", p.WeekStart)),
		validator.When(weekly, dateRule("week_end", p.WeekEnd)),
		validator.When(weekly, validator.Custom("week_end", "must not be before week_start", func() bool {
			return p.WeekEnd >= p.WeekStart
		})),
		validator.OneOf("report_type", p.ReportType, []string{ReportSales, ReportUsers, ReportProducts, ReportReferrals, ReportAll}),
		validator.RequiredSlice("recipients", p.Recipients),
		validator.Each("recipients", p.Recipients, "must be valid email addresses", func(addr string) bool {
			return validator.Apply(validator.ValidEmail("recipients", addr)) == nil
		}),
		validator.OneOf("format", p.Format, []string{FormatPDF, FormatCSV, FormatJSON}),
	)
}

func dateRule(field, value string) validator.Rule {
	return validator.Custom(field, "must be a date in YYYY-MM-DD format", func() bool {
		_, err := time.Parse(DateLayout, value)
		return err == nil
	})
}
