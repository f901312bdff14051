package email

import (
	"context"
	"errors"
	"strconv"

	"github.com/dmitrymomot/marketjobs/pkg/validator"
)

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a single outbound email.
type Message struct {
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	HTML        string       `json:"html"`
	Tag         string       `json:"tag,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file sent with a message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// Validate checks the message before it is handed to a provider.
func (m Message) Validate() error {
	rules := []validator.Rule{
		validator.Required("to", m.To),
		validator.ValidEmail("to", m.To),
		validator.Required("subject", m.Subject),
		validator.MaxLen("subject", m.Subject, 998),
		validator.Required("html", m.HTML),
		validator.MaxLen("tag", m.Tag, 1000),
	}
	for i, a := range m.Attachments {
		field := "attachments[" + strconv.Itoa(i) + "]"
		rules = append(rules,
			validator.Required(field+".name", a.Name),
			validator.Required(field+".content_type", a.ContentType),
			validator.Custom(field+".content", "must not be empty", func() bool { return len(a.Content) > 0 }),
		)
	}
	if err := validator.Apply(rules...); err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}
	return nil
}
