package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dmitrymomot/marketjobs/pkg/email"
	"github.com/dmitrymomot/marketjobs/pkg/email/templates"
	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

// SendEmail renders p.Template and sends it. p.Subject overrides the
// template's subject line.
func (h *Handlers) SendEmail(ctx context.Context, p EmailPayload) error {
	ran, err := h.guard.Once(ctx, emailKey(p), func(ctx context.Context) error {
		subject, body, err := h.renderer.Render(ctx, p.Template, p.Data)
		if err != nil {
			return err
		}
		if p.Subject != "" {
			subject = p.Subject
		}
		return h.mailer.Send(ctx, email.Message{
			To:          p.To,
			Subject:     subject,
			HTML:        body,
			Tag:         p.Template,
			Attachments: p.Attachments,
		})
	})
	if err != nil {
		return err
	}
	if !ran {
		h.logger.InfoContext(ctx, "email already sent, skipping", slog.String("template", p.Template))
	}
	return nil
}

// AlertDeadLetter reports a dead-lettered job to operators. Without a mailer
// or ops address the alert is only logged.
func (h *Handlers) AlertDeadLetter(ctx context.Context, rec queue.DeadLetterRecord) error {
	h.logger.WarnContext(ctx, "dead-letter alert",
		logger.JobID(rec.OriginalJobID),
		logger.Queue(rec.OriginalQueue),
		logger.JobType(rec.OriginalType),
		slog.Int("retry_count", rec.RetryCount),
		slog.String("reason", rec.ErrorMessage))

	if !h.canMail() || h.opsEmail == "" {
		return nil
	}

	_, err := h.guard.Once(ctx, join("deadletter", rec.ID.String()), func(ctx context.Context) error {
		subject, body, err := email.RenderContent(ctx, templates.DeadLetterAlert{
			ID:            templates.Text(rec.ID.String()),
			OriginalQueue: templates.Text(rec.OriginalQueue),
			OriginalJobID: templates.Text(rec.OriginalJobID.String()),
			OriginalType:  templates.Text(rec.OriginalType),
			RetryCount:    templates.Text(strconv.Itoa(rec.RetryCount)),
			FailedAt:      templates.Text(rec.FailedAt.UTC().Format(time.RFC3339)),
			ErrorMessage:  templates.Text(rec.ErrorMessage),
		})
		if err != nil {
			return err
		}
		if err := h.mailer.Send(ctx, email.Message{
			To:      h.opsEmail,
			Subject: subject,
			HTML:    body,
			Tag:     email.TemplateDeadLetterAlert,
		}); err != nil {
			return fmt.Errorf("send dead-letter alert: %w", err)
		}
		return nil
	})
	return err
}
