package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/dmitrymomot/marketjobs/pkg/validator"
)

// PostmarkAPI is the subset of the Postmark client used by PostmarkSender.
type PostmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkSender sends messages through Postmark's transactional API.
type PostmarkSender struct {
	api    PostmarkAPI
	config Config
}

// NewPostmarkSender creates a Postmark-backed sender.
// Both tokens are required: a production sender must never fail silently.
func NewPostmarkSender(cfg Config) (*PostmarkSender, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &PostmarkSender{
		api:    postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}, nil
}

// NewPostmarkSenderWithAPI creates a sender over an existing API client.
func NewPostmarkSenderWithAPI(api PostmarkAPI, cfg Config) (*PostmarkSender, error) {
	if api == nil {
		return nil, fmt.Errorf("%w: postmark client is nil", ErrInvalidConfig)
	}
	if err := validator.Apply(
		validator.ValidEmail("sender_email", cfg.SenderEmail),
		validator.ValidEmail("support_email", cfg.SupportEmail),
	); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	return &PostmarkSender{api: api, config: cfg}, nil
}

func validateConfig(cfg Config) error {
	if err := validator.Apply(
		validator.Required("postmark_server_token", cfg.PostmarkServerToken),
		validator.Required("postmark_account_token", cfg.PostmarkAccountToken),
		validator.ValidEmail("sender_email", cfg.SenderEmail),
		validator.ValidEmail("support_email", cfg.SupportEmail),
	); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}

// Send implements Sender. Opens and HTML link clicks are tracked; replies go
// to the support address.
func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	email := postmark.Email{
		From:       s.config.SenderEmail,
		ReplyTo:    s.config.SupportEmail,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	}
	for _, a := range msg.Attachments {
		email.Attachments = append(email.Attachments, postmark.Attachment{
			Name:        a.Name,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			ContentType: a.ContentType,
		})
	}

	resp, err := s.api.SendEmail(ctx, email)
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
