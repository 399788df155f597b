package registration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/precisionheat/tryouts/internal/payment"
	"github.com/precisionheat/tryouts/internal/store"
)

// StartPaymentInput asks for a hosted checkout for a registration.
type StartPaymentInput struct {
	RegistrationID string
	// ClientAmount is the total the client displayed, if it sent one.
	ClientAmount *int64
	SuccessURL   string
	CancelURL    string
}

// Checkout is an opened hosted checkout.
type Checkout struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"url"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// StartPayment opens a checkout for the server-computed total. A client
// amount that disagrees with it is rejected before the processor is called.
// Processor failures leave the registration PENDING_PAYMENT and are not
// retried here.
func (s *Service) StartPayment(ctx context.Context, in StartPaymentInput) (out Checkout, err error) {
	ctx, span := s.start(ctx, "start_payment", attribute.String("registration.id", in.RegistrationID))
	defer func() { finish(span, err) }()

	if strings.TrimSpace(in.RegistrationID) == "" {
		return Checkout{}, invalid("registrationId", "is required")
	}
	reg, err := s.store.GetRegistration(ctx, in.RegistrationID)
	if err != nil {
		return Checkout{}, err
	}
	if reg.Status != store.StatusPendingPayment {
		return Checkout{}, fmt.Errorf("registration %s is %s: %w", reg.ID, reg.Status, ErrNotPending)
	}

	amount := ExpectedAmount(reg)
	if in.ClientAmount != nil && *in.ClientAmount != amount {
		s.logger.Warn("client amount mismatch",
			"registration_id", reg.ID,
			"client_amount", *in.ClientAmount,
			"expected_amount", amount,
		)
		return Checkout{}, fmt.Errorf("%w: got %d, expected %d", ErrAmountMismatch, *in.ClientAmount, amount)
	}

	req := payment.CheckoutRequest{
		RegistrationID: reg.ID,
		GuardianEmail:  reg.GuardianEmail,
		Description:    checkoutDescription(reg),
		Currency:       s.catalog.Currency,
		UnitAmount:     reg.UnitPrice,
		Quantity:       int64(len(reg.Players)),
		SuccessURL:     firstNonEmpty(in.SuccessURL, s.successURL(reg.ID)),
		CancelURL:      firstNonEmpty(in.CancelURL, s.cancelURL(reg.ID)),
	}
	session, err := s.payments.CreateCheckout(ctx, req)
	if err != nil {
		s.logger.Error("create checkout failed", "registration_id", reg.ID, "err", err)
		return Checkout{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	s.logger.Info("checkout started",
		"registration_id", reg.ID,
		"session_id", session.ID,
		"amount", amount,
	)
	return Checkout{
		SessionID:   session.ID,
		RedirectURL: session.URL,
		Amount:      req.Total(),
		Currency:    req.Currency,
	}, nil
}

func checkoutDescription(reg store.Registration) string {
	n := len(reg.Players)
	plural := "s"
	if n == 1 {
		plural = ""
	}
	return fmt.Sprintf("%s registration (%d player%s)", reg.TryoutName, n, plural)
}

func (s *Service) successURL(id string) string {
	return s.baseURL + "/registration-complete?registration_id=" + url.QueryEscape(id)
}

func (s *Service) cancelURL(id string) string {
	return s.baseURL + "/register?canceled=1&registration_id=" + url.QueryEscape(id)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ReceiptURL returns the receipt link for a processor payment reference,
// caching it on the payment row once the processor has one.
func (s *Service) ReceiptURL(ctx context.Context, paymentRef string) (string, error) {
	if strings.TrimSpace(paymentRef) == "" {
		return "", invalid("paymentRef", "is required")
	}
	known := true
	p, err := s.store.PaymentByRef(ctx, paymentRef)
	switch {
	case errors.Is(err, store.ErrNotFound):
		known = false
	case err != nil:
		return "", err
	case p.ReceiptURL != "":
		return p.ReceiptURL, nil
	}

	receipt, err := s.payments.ReceiptURL(ctx, paymentRef)
	if errors.Is(err, payment.ErrNoReceipt) {
		return "", fmt.Errorf("payment %s: %w", paymentRef, ErrNotFound)
	}
	if err != nil {
		s.logger.Warn("receipt lookup failed", "payment_ref", paymentRef, "err", err)
		return "", fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	if known {
		if err := s.store.SetReceiptURL(ctx, paymentRef, receipt, s.clock.Now()); err != nil {
			s.logger.Warn("cache receipt url failed", "payment_ref", paymentRef, "err", err)
		}
	}
	return receipt, nil
}
