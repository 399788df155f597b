// Package payment talks to the card processor: it opens hosted checkout
// sessions, verifies and decodes webhook deliveries, and looks up receipts.
package payment

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNoReceipt        = errors.New("no receipt available")
	ErrSessionNotFound  = errors.New("checkout session not found")
	// ErrMalformedEvent is a correctly signed event whose object cannot be
	// decoded. Redelivering it cannot help.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// EventPaymentSucceeded is the only event type that completes a registration.
const EventPaymentSucceeded = "payment_intent.succeeded"

// Metadata keys attached to sessions and payment intents.
const (
	MetaRegistrationID = "registrationId"
	MetaGuardianEmail  = "guardianEmail"
)

// CheckoutRequest describes a hosted checkout to open.
type CheckoutRequest struct {
	RegistrationID string
	GuardianEmail  string
	Description    string
	Currency       string
	UnitAmount     int64
	Quantity       int64
	SuccessURL     string
	CancelURL      string
}

// Total is the amount the guardian will be charged.
func (r CheckoutRequest) Total() int64 {
	return r.UnitAmount * r.Quantity
}

// CheckoutSession is an opened hosted checkout.
type CheckoutSession struct {
	ID       string `json:"sessionId"`
	URL      string `json:"url"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Event is a verified processor notification.
type Event struct {
	ID             string
	Type           string
	Succeeded      bool
	RegistrationID string
	GuardianEmail  string
	PaymentRef     string
	Amount         int64
	Currency       string
	Status         string
	ReceiptURL     string
}

// Provider is the payment collaborator.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	// ParseWebhook verifies header against payload and decodes the event.
	// A bad signature returns ErrInvalidSignature.
	ParseWebhook(payload []byte, header string) (Event, error)
	ReceiptURL(ctx context.Context, paymentRef string) (string, error)
}
