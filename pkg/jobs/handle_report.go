package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/marketjobs/pkg/email"
	"github.com/dmitrymomot/marketjobs/pkg/email/templates"
)

// GenerateReport builds the report for the payload's period and mails it to
// every recipient. Recipients already served are skipped on redelivery.
func (h *Handlers) GenerateReport(ctx context.Context, p ReportPayload) error {
	from, to, err := p.Period()
	if err != nil {
		return err
	}

	report, err := h.reports.Build(ctx, p, from, to)
	if err != nil {
		return fmt.Errorf("build %s report: %w", p.ReportType, err)
	}

	period := p.Date
	if !p.Daily() {
		period = p.WeekStart + " - " + p.WeekEnd
	}
	subject, body, err := email.RenderContent(ctx, templates.ReportReady{
		Title:  templates.Text(report.Title),
		Period: templates.Text(period),
		Format: templates.Text(p.Format),
	})
	if err != nil {
		return err
	}

	var errs []error
	sent := 0
	for _, rcpt := range p.Recipients {
		ran, err := h.guard.Once(ctx, join(reportKey(p), rcpt), func(ctx context.Context) error {
			return h.mailer.Send(ctx, email.Message{
				To:      rcpt,
				Subject: subject,
				HTML:    body,
				Tag:     email.TemplateReportReady,
				Attachments: []email.Attachment{{
					Name:        report.FileName,
					ContentType: report.ContentType,
					Content:     report.Content,
				}},
			})
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("send report to %s: %w", rcpt, err))
			continue
		}
		if ran {
			sent++
		}
	}

	h.logger.InfoContext(ctx, "report delivered",
		slog.String("report_type", p.ReportType),
		slog.String("period", period),
		slog.Int("sent", sent),
		slog.Int("failed", len(errs)))

	return errors.Join(errs...)
}
