// Package email sends transactional emails for the marketplace job handlers.
//
// The package is built around the Sender interface:
//   - PostmarkSender delivers through Postmark with open and link tracking
//   - DevSender writes messages and attachments to a local directory
//
// NewSender picks Postmark when both tokens are configured and falls back to
// DevSender otherwise.
//
// Templates are templ components in the templates subpackage. Each binds its
// data to a subject line and a body; Renderer wraps the body in a shared layout:
//
//	r := email.NewRenderer()
//	subject, body, err := r.Render(ctx, email.TemplateReportReady, templates.ReportReady{Title: "Sales"})
//	err = sender.Send(ctx, email.Message{To: to, Subject: subject, HTML: body})
//
// Messages are validated before sending; invalid ones fail with
// ErrInvalidMessage, provider failures with ErrFailedToSendEmail.
package email
