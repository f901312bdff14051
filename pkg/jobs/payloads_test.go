package jobs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/email"
	"github.com/dmitrymomot/marketjobs/pkg/jobs"
	"github.com/dmitrymomot/marketjobs/pkg/validator"
)

func TestEmailPayload_Validate(t *testing.T) {
	t.Parallel()

	valid := jobs.EmailPayload{To: "buyer@example.com", Template: email.TemplatePurchaseConfirmation}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*jobs.EmailPayload)
		field  string
	}{
		{"missing to", func(p *jobs.EmailPayload) { p.To = "" }, "to"},
		{"bad address", func(p *jobs.EmailPayload) { p.To = "not-an-email" }, "to"},
		{"missing template", func(p *jobs.EmailPayload) { p.Template = "" }, "template"},
		{"unknown priority", func(p *jobs.EmailPayload) { p.Priority = "urgent" }, "priority"},
		{"empty attachment", func(p *jobs.EmailPayload) {
			p.Attachments = []email.Attachment{{Name: "a.pdf"}}
		}, "attachments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			require.ErrorIs(t, err, validator.ErrValidationFailed)
			assert.True(t, validator.ExtractValidationErrors(err).Has(tt.field))
		})
	}
}

func TestPaymentRetryPayload_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validPayment().Validate())

	tests := []struct {
		name   string
		mutate func(*jobs.PaymentRetryPayload)
		field  string
	}{
		{"missing payment id", func(p *jobs.PaymentRetryPayload) { p.PaymentID = "" }, "payment_id"},
		{"unknown provider", func(p *jobs.PaymentRetryPayload) { p.Provider = "paypal" }, "provider"},
		{"zero amount", func(p *jobs.PaymentRetryPayload) { p.Amount = 0 }, "amount"},
		{"lowercase currency", func(p *jobs.PaymentRetryPayload) { p.Currency = "usd" }, "currency"},
		{"negative retry count", func(p *jobs.PaymentRetryPayload) { p.RetryCount = -1 }, "retry_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validPayment()
			tt.mutate(&p)
			assert.True(t, validator.ExtractValidationErrors(p.Validate()).Has(tt.field))
		})
	}
}

func TestCommissionPayload_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validCommission().Validate())

	tests := []struct {
		name   string
		mutate func(*jobs.CommissionPayload)
		field  string
	}{
		{"rate above one", func(p *jobs.CommissionPayload) { p.CommissionRate = 1.5 }, "commission_rate"},
		{"commission above amount", func(p *jobs.CommissionPayload) { p.CommissionAmount = 20000 }, "commission_amount"},
		{"self referral", func(p *jobs.CommissionPayload) { p.BuyerID = p.ReferrerID }, "referrer_id"},
		{"missing purchase", func(p *jobs.CommissionPayload) { p.PurchaseID = "" }, "purchase_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validCommission()
			tt.mutate(&p)
			assert.True(t, validator.ExtractValidationErrors(p.Validate()).Has(tt.field))
		})
	}
}

func TestFilePayload_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validFile().Validate())

	p := validFile()
	p.ProcessingType = "transcode"
	assert.True(t, validator.ExtractValidationErrors(p.Validate()).Has("processing_type"))
}

func TestReportPayload(t *testing.T) {
	t.Parallel()

	t.Run("daily", func(t *testing.T) {
		t.Parallel()
		p := validReport()
		require.NoError(t, p.Validate())
		assert.True(t, p.Daily())

		from, to, err := p.Period()
		require.NoError(t, err)
		assert.Equal(t, "2025-03-09", from.Format(jobs.DateLayout))
		assert.Equal(t, "2025-03-10", to.Format(jobs.DateLayout))
	})

	t.Run("weekly", func(t *testing.T) {
		t.Parallel()
		p := validReport()
		p.Date = ""
		p.WeekStart = "2025-03-03"
		p.WeekEnd = "2025-03-09"
		require.NoError(t, p.Validate())
		assert.False(t, p.Daily())

		from, to, err := p.Period()
		require.NoError(t, err)
		assert.Equal(t, 7*24.0, to.Sub(from).Hours())
	})

	tests := []struct {
		name   string
		mutate func(*jobs.ReportPayload)
		field  string
	}{
		{"both date and week", func(p *jobs.ReportPayload) { p.WeekStart, p.WeekEnd = "2025-03-03", "2025-03-09" }, "date"},
		{"neither date nor week", func(p *jobs.ReportPayload) { p.Date = "" }, "date"},
		{"bad date", func(p *jobs.ReportPayload) { p.Date = "09.03.2025" }, "date"},
		{"week end before start", func(p *jobs.ReportPayload) {
			p.Date, p.WeekStart, p.WeekEnd = "", "2025-03-09", "2025-03-03"
		}, "week_end"},
		{"unknown type", func(p *jobs.ReportPayload) { p.ReportType = "inventory" }, "report_type"},
		{"no recipients", func(p *jobs.ReportPayload) { p.Recipients = nil }, "recipients"},
		{"bad recipient", func(p *jobs.ReportPayload) { p.Recipients = []string{"nope"} }, "recipients"},
		{"unknown format", func(p *jobs.ReportPayload) { p.Format = "xlsx" }, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validReport()
			tt.mutate(&p)
			assert.True(t, validator.ExtractValidationErrors(p.Validate()).Has(tt.field))
		})
	}
}
