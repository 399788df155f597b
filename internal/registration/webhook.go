package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/precisionheat/tryouts/internal/mailer"
	"github.com/precisionheat/tryouts/internal/payment"
	"github.com/precisionheat/tryouts/internal/store"
)

// Outcome is what a webhook delivery did.
type Outcome string

// Webhook outcomes, recorded per event id.
const (
	// OutcomeIgnored is an event type or payload the workflow does not act on.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeCompleted moved a registration to COMPLETED.
	OutcomeCompleted Outcome = "completed"
	// OutcomeDuplicate found the registration already completed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeAbandoned recorded a payment for an ABANDONED registration,
	// which needs an operator.
	OutcomeAbandoned Outcome = "abandoned_paid"
	// OutcomeUnknownRegistration named a registration that does not exist.
	OutcomeUnknownRegistration Outcome = "unknown_registration"
	// OutcomeFailed could not be persisted; the processor will redeliver.
	OutcomeFailed Outcome = "failed"
	// OutcomeMalformed was signed correctly but could not be decoded. It is
	// acknowledged so the processor stops redelivering it.
	OutcomeMalformed Outcome = "malformed"
)

// ResendCooldown is how long an operator resend, or an unfinished webhook
// confirmation, blocks the next resend.
const ResendCooldown = time.Minute

// ReconcileWebhook verifies and applies one processor delivery. Only
// succeeded payments carrying a registration id change state. The payment
// upsert, the COMPLETED transition and the confirmation claim happen in one
// transaction, so concurrent deliveries of the same event send at most one
// email. A returned error means the delivery should be retried by the
// processor; email failures are never returned.
func (s *Service) ReconcileWebhook(ctx context.Context, payload []byte, signature string) (outcome Outcome, err error) {
	ev, err := s.payments.ParseWebhook(payload, signature)
	if errors.Is(err, payment.ErrMalformedEvent) {
		s.logger.Error("webhook payload malformed", "event_id", ev.ID, "event_type", ev.Type, "err", err)
		s.alert(ctx, fmt.Sprintf("Webhook %s (%s) could not be decoded and was acknowledged: %v", ev.ID, ev.Type, err))
		s.recordEvent(ctx, ev, OutcomeMalformed)
		return OutcomeMalformed, nil
	}
	if err != nil {
		s.logger.Warn("webhook rejected", "err", err)
		return "", err
	}

	ctx, span := s.start(ctx, "reconcile_webhook",
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type),
		attribute.String("registration.id", ev.RegistrationID),
	)
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		finish(span, err)
	}()
	log := s.logger.With("event_id", ev.ID, "registration_id", ev.RegistrationID)

	if !ev.Succeeded {
		log.Debug("webhook ignored", "event_type", ev.Type)
		s.recordEvent(ctx, ev, OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	if strings.TrimSpace(ev.RegistrationID) == "" {
		log.Warn("payment without registration id", "payment_ref", ev.PaymentRef)
		s.recordEvent(ctx, ev, OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	now := s.clock.Now()
	res, err := s.store.ReconcilePayment(ctx, store.PaymentRecord{
		RegistrationID: ev.RegistrationID,
		ProcessorRef:   ev.PaymentRef,
		Amount:         ev.Amount,
		Currency:       ev.Currency,
		Status:         ev.Status,
		ReceiptURL:     ev.ReceiptURL,
	}, now)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("payment for unknown registration", "payment_ref", ev.PaymentRef, "amount", ev.Amount)
		s.alert(ctx, fmt.Sprintf("Payment %s (%d %s) references unknown registration %s.",
			ev.PaymentRef, ev.Amount, ev.Currency, ev.RegistrationID))
		s.recordEvent(ctx, ev, OutcomeUnknownRegistration)
		return OutcomeUnknownRegistration, nil
	}
	if err != nil {
		log.Error("webhook reconcile failed", "payment_ref", ev.PaymentRef, "err", err)
		s.alert(ctx, fmt.Sprintf("Webhook %s for registration %s failed to reconcile: %v",
			ev.ID, ev.RegistrationID, err))
		s.recordEvent(ctx, ev, OutcomeFailed)
		return "", fmt.Errorf("reconcile registration %s: %w", ev.RegistrationID, err)
	}

	reg := res.Registration
	switch {
	case reg.Status == store.StatusAbandoned:
		outcome = OutcomeAbandoned
		log.Warn("payment for abandoned registration", "payment_ref", ev.PaymentRef, "amount", ev.Amount)
		s.alert(ctx, fmt.Sprintf("Registration %s was paid (%s) after it was abandoned; it needs manual review.",
			reg.ID, ev.PaymentRef))
	case res.Completed:
		outcome = OutcomeCompleted
		log.Info("registration completed", "payment_ref", ev.PaymentRef, "amount", ev.Amount)
	default:
		outcome = OutcomeDuplicate
		log.Info("webhook already applied", "payment_ref", ev.PaymentRef)
	}

	if res.ClaimedConfirmation {
		if err := s.sendConfirmation(ctx, reg); err != nil {
			log.Error("confirmation email failed", "guardian_email", reg.GuardianEmail, "err", err)
			if markErr := s.store.MarkConfirmationFailed(ctx, reg.ID, err.Error(), s.clock.Now()); markErr != nil {
				log.Error("record confirmation failure failed", "err", markErr)
			}
			s.alert(ctx, fmt.Sprintf("Confirmation email for registration %s (%s) failed: %v. Resend it from the admin dashboard.",
				reg.ID, reg.GuardianEmail, err))
		}
	}

	s.recordEvent(ctx, ev, outcome)
	return outcome, nil
}

// recordEvent keeps the delivery trail; a failure here is logged only.
func (s *Service) recordEvent(ctx context.Context, ev payment.Event, outcome Outcome) {
	dup, err := s.store.RecordWebhookEvent(ctx, store.WebhookEvent{
		EventID:        ev.ID,
		EventType:      ev.Type,
		RegistrationID: ev.RegistrationID,
		Outcome:        string(outcome),
	}, s.clock.Now())
	if err != nil {
		s.logger.Warn("record webhook event failed", "event_id", ev.ID, "err", err)
		return
	}
	if dup {
		s.logger.Info("webhook redelivered", "event_id", ev.ID, "outcome", outcome)
	}
}

func (s *Service) alert(ctx context.Context, text string) {
	if err := s.alerts.Alert(ctx, text); err != nil {
		s.logger.Warn("operator alert failed", "err", err)
	}
}

// sendConfirmation renders and sends the confirmation email for reg and
// records the delivery.
func (s *Service) sendConfirmation(ctx context.Context, reg store.Registration) (err error) {
	ctx, span := s.start(ctx, "send_confirmation", attribute.String("registration.id", reg.ID))
	defer func() { finish(span, err) }()

	if s.mailer == nil {
		return errors.New("no mailer configured")
	}
	msg, err := mailer.RenderConfirmation(reg.GuardianEmail, s.confirmationData(ctx, reg))
	if err != nil {
		return err
	}
	id, err := s.mailer.Send(ctx, msg)
	if err != nil {
		return err
	}
	if err := s.store.MarkConfirmationSent(ctx, reg.ID, id, s.clock.Now()); err != nil {
		// The email is out; only the bookkeeping failed.
		s.logger.Error("record confirmation sent failed", "registration_id", reg.ID, "message_id", id, "err", err)
	}
	s.logger.Info("confirmation email sent", "registration_id", reg.ID, "message_id", id)
	return nil
}

func (s *Service) confirmationData(ctx context.Context, reg store.Registration) mailer.ConfirmationData {
	data := mailer.ConfirmationData{
		TryoutName:     reg.TryoutName,
		RegistrationID: reg.ID,
		Amount:         ExpectedAmount(reg),
		Currency:       s.catalog.Currency,
		ContactEmail:   s.catalog.ContactEmail,
	}
	for _, p := range reg.Players {
		data.Players = append(data.Players, p.FirstName+" "+p.LastName)
	}
	for _, sess := range s.catalog.Sessions {
		data.Sessions = append(data.Sessions, mailer.SessionInfo{Label: sess.Label, Date: sess.Date, Location: sess.Location})
	}
	if p := reg.Payment; p != nil {
		data.Amount = p.Amount
		if p.Currency != "" {
			data.Currency = p.Currency
		}
		data.ReceiptURL = p.ReceiptURL
		if data.ReceiptURL == "" && p.ProcessorRef != "" {
			receipt, err := s.ReceiptURL(ctx, p.ProcessorRef)
			if err != nil {
				s.logger.Debug("confirmation sent without receipt", "registration_id", reg.ID, "err", err)
			}
			data.ReceiptURL = receipt
		}
	}
	return data
}

// ResendConfirmation sends the confirmation email again for a COMPLETED
// registration. Operators use it after a logged send failure. A resend is
// refused with ErrResendTooSoon while another resend or the webhook's own
// send is in progress or finished less than ResendCooldown ago.
func (s *Service) ResendConfirmation(ctx context.Context, id string) (store.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, id)
	if err != nil {
		return store.Registration{}, err
	}
	if reg.Status != store.StatusCompleted {
		return store.Registration{}, fmt.Errorf("registration %s is %s: %w", reg.ID, reg.Status, ErrNotCompleted)
	}
	now := s.clock.Now()
	claimed, err := s.store.ClaimResend(ctx, reg.ID, now, now.Add(-ResendCooldown))
	if err != nil {
		return store.Registration{}, err
	}
	if !claimed {
		s.logger.Info("confirmation resend refused", "registration_id", reg.ID)
		return store.Registration{}, fmt.Errorf("registration %s: %w", reg.ID, ErrResendTooSoon)
	}
	if err := s.sendConfirmation(ctx, reg); err != nil {
		s.logger.Error("confirmation email failed", "registration_id", reg.ID, "err", err)
		if markErr := s.store.MarkConfirmationFailed(ctx, reg.ID, err.Error(), s.clock.Now()); markErr != nil {
			s.logger.Error("record confirmation failure failed", "registration_id", reg.ID, "err", markErr)
		}
		return store.Registration{}, fmt.Errorf("%w: %v", ErrEmailUnavailable, err)
	}
	s.logger.Info("confirmation resent", "registration_id", reg.ID)
	return s.store.GetRegistration(ctx, reg.ID)
}
