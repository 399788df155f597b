package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the API endpoint; tests point it at a local server.
	APIURL string
}

// Stripe is the production Provider backed by Stripe Checkout.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

// NewStripe creates a Stripe adapter.
func NewStripe(cfg StripeConfig) *Stripe {
	var backends *stripe.Backends
	if cfg.APIURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.APIURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	return &Stripe{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

// CreateCheckout opens a Checkout Session in payment mode. Registration
// metadata is attached to both the session and its payment intent so the
// payment_intent.succeeded webhook can be matched back.
func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	meta := map[string]string{
		MetaRegistrationID: req.RegistrationID,
		MetaGuardianEmail:  req.GuardianEmail,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		CustomerEmail:     stripe.String(req.GuardianEmail),
		ClientReferenceID: stripe.String(req.RegistrationID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
				UnitAmount: stripe.Int64(req.UnitAmount),
			},
			Quantity: stripe.Int64(req.Quantity),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata:     meta,
			ReceiptEmail: stripe.String(req.GuardianEmail),
		},
	}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	amount := sess.AmountTotal
	if amount == 0 {
		amount = req.Total()
	}
	currency := strings.ToLower(string(sess.Currency))
	if currency == "" {
		currency = strings.ToLower(req.Currency)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL, Amount: amount, Currency: currency}, nil
}

// ParseWebhook verifies a Stripe-Signature header and decodes the event.
func (s *Stripe) ParseWebhook(payload []byte, header string) (Event, error) {
	return parseStripeEvent(payload, header, s.webhookSecret)
}

// ReceiptURL returns the receipt of the payment intent's latest charge,
// fetching the charge separately when it is not embedded.
func (s *Stripe) ReceiptURL(ctx context.Context, paymentRef string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	pi, err := s.api.PaymentIntents.Get(paymentRef, params)
	if err != nil {
		return "", fmt.Errorf("get payment intent: %w", err)
	}
	if pi.LatestCharge == nil || pi.LatestCharge.ID == "" {
		return "", ErrNoReceipt
	}
	if pi.LatestCharge.ReceiptURL != "" {
		return pi.LatestCharge.ReceiptURL, nil
	}

	chargeParams := &stripe.ChargeParams{}
	chargeParams.Context = ctx
	ch, err := s.api.Charges.Get(pi.LatestCharge.ID, chargeParams)
	if err != nil {
		return "", fmt.Errorf("get charge: %w", err)
	}
	if ch.ReceiptURL == "" {
		return "", ErrNoReceipt
	}
	return ch.ReceiptURL, nil
}
