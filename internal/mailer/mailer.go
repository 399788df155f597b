// Package mailer sends transactional email.
package mailer

import (
	"context"
	"errors"
)

// ErrNoRecipient is returned for a message without a recipient.
var ErrNoRecipient = errors.New("message has no recipient")

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Sender delivers messages and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}
