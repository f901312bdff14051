package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/marketjobs/pkg/email/templates"
)

// Template names shipped with the package.
const (
	TemplatePurchaseConfirmation = "purchase_confirmation"
	TemplatePaymentFailed        = "payment_failed"
	TemplateCommissionEarned     = "commission_earned"
	TemplateReportReady          = "report_ready"
	TemplateDeadLetterAlert      = "dead_letter_alert"
	TemplateNotification         = "notification"
)

// Content is an email template bound to its data.
type Content interface {
	Subject() string
	Body() templ.Component
}

type builder func(data any) (Content, error)

// Renderer renders named templates into a subject line and an HTML body
// wrapped in the shared layout.
type Renderer struct {
	templates map[string]builder
}

// NewRenderer registers the templates shipped with the package.
func NewRenderer() *Renderer {
	return &Renderer{templates: map[string]builder{
		TemplatePurchaseConfirmation: bind[templates.PurchaseConfirmation],
		TemplatePaymentFailed:        bind[templates.PaymentFailed],
		TemplateCommissionEarned:     bind[templates.CommissionEarned],
		TemplateReportReady:          bind[templates.ReportReady],
		TemplateDeadLetterAlert:      bind[templates.DeadLetterAlert],
		TemplateNotification:         bind[templates.Notification],
	}}
}

// Render binds data to template name and renders it. data is either the
// template's own type from the templates package or a value whose JSON form
// has the template's field names, such as a job payload map.
func (r *Renderer) Render(ctx context.Context, name string, data any) (subject, body string, err error) {
	build, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	content, err := build(data)
	if err != nil {
		return "", "", errors.Join(ErrRenderTemplate, fmt.Errorf("%s: %w", name, err))
	}
	return RenderContent(ctx, content)
}

// RenderContent renders c inside the shared layout.
func RenderContent(ctx context.Context, c Content) (subject, body string, err error) {
	body, err = templates.Render(ctx, templates.Layout(c.Body()))
	if err != nil {
		return "", "", errors.Join(ErrRenderTemplate, err)
	}
	return c.Subject(), body, nil
}

// Has reports whether a template is registered under name.
func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

func bind[T Content](data any) (Content, error) {
	if v, ok := data.(T); ok {
		return v, nil
	}
	var v T
	if data == nil {
		return v, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
