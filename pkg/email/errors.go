package email

import "errors"

var (
	ErrFailedToSendEmail = errors.New("failed to send email")
	ErrInvalidConfig     = errors.New("invalid email config")
	ErrInvalidMessage    = errors.New("invalid email message")
	ErrTemplateNotFound  = errors.New("email template not found")
	ErrRenderTemplate    = errors.New("failed to render email template")
)
