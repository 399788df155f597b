package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// parseStripeEvent verifies a Stripe-Signature header and maps the event. A
// verified event whose payment intent does not decode comes back with its id
// and type set and an ErrMalformedEvent error.
func parseStripeEvent(payload []byte, header, secret string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != EventPaymentSucceeded || ev.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return out, fmt.Errorf("%w: decode payment intent: %v", ErrMalformedEvent, err)
	}
	out.Succeeded = pi.Status == stripe.PaymentIntentStatusSucceeded
	out.PaymentRef = pi.ID
	out.Amount = pi.Amount
	out.Currency = strings.ToLower(string(pi.Currency))
	out.Status = string(pi.Status)
	out.RegistrationID = pi.Metadata[MetaRegistrationID]
	out.GuardianEmail = pi.Metadata[MetaGuardianEmail]
	if out.GuardianEmail == "" {
		out.GuardianEmail = pi.ReceiptEmail
	}
	if pi.LatestCharge != nil {
		out.ReceiptURL = pi.LatestCharge.ReceiptURL
	}
	return out, nil
}

// PaymentIntentObject is the subset of a Stripe payment intent the service reads.
type PaymentIntentObject struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ReceiptEmail string            `json:"receipt_email,omitempty"`
	Metadata     map[string]string `json:"metadata"`
	LatestCharge *ChargeObject     `json:"latest_charge,omitempty"`
}

// ChargeObject is the subset of a Stripe charge the service reads.
type ChargeObject struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	ReceiptURL string `json:"receipt_url,omitempty"`
}

// BuildEvent encodes a Stripe-format event envelope around object.
func BuildEvent(id, eventType string, object any, created time.Time) ([]byte, error) {
	data, err := json.Marshal(object)
	if err != nil {
		return nil, fmt.Errorf("marshal event object: %w", err)
	}
	return json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"created":     created.Unix(),
		"type":        eventType,
		"livemode":    false,
		"data":        map[string]json.RawMessage{"object": data},
	})
}
