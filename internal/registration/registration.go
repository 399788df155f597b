// Package registration is the registration workflow: it creates
// registrations, opens checkouts, reconciles processor webhooks, and sends
// each completed registration exactly one confirmation email.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/precisionheat/tryouts/internal/alert"
	"github.com/precisionheat/tryouts/internal/catalog"
	"github.com/precisionheat/tryouts/internal/clock"
	"github.com/precisionheat/tryouts/internal/identity"
	"github.com/precisionheat/tryouts/internal/mailer"
	"github.com/precisionheat/tryouts/internal/payment"
	"github.com/precisionheat/tryouts/internal/store"
	"github.com/precisionheat/tryouts/internal/telemetry"
)

// DefaultAbandonAfter is the sweep threshold when none is given.
const DefaultAbandonAfter = time.Hour

// Sentinel errors.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = store.ErrNotFound
	ErrNotPending          = errors.New("registration is not awaiting payment")
	ErrNotCompleted        = errors.New("registration is not completed")
	ErrAmountMismatch      = errors.New("amount does not match expected total")
	ErrPaymentUnavailable  = errors.New("payment processor unavailable")
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
	ErrEmailUnavailable    = errors.New("email delivery failed")
	ErrResendTooSoon       = errors.New("a confirmation email is already being sent or was just sent")
	ErrEmailInUse          = store.ErrEmailInUse
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Store is the persistence the workflow needs.
type Store interface {
	CreateRegistration(ctx context.Context, d store.RegistrationDraft) (store.Registration, error)
	GetRegistration(ctx context.Context, id string) (store.Registration, error)
	DeleteRegistration(ctx context.Context, id string) error
	ReconcilePayment(ctx context.Context, rec store.PaymentRecord, now time.Time) (store.ReconcileResult, error)
	ClaimResend(ctx context.Context, id string, now, cutoff time.Time) (bool, error)
	MarkConfirmationSent(ctx context.Context, id, messageID string, at time.Time) error
	MarkConfirmationFailed(ctx context.Context, id, cause string, at time.Time) error
	AbandonStale(ctx context.Context, cutoff, now time.Time) (int64, error)
	ListAbandonCandidates(ctx context.Context, cutoff time.Time) ([]store.Registration, error)
	RecordWebhookEvent(ctx context.Context, ev store.WebhookEvent, at time.Time) (bool, error)
	PaymentByRef(ctx context.Context, ref string) (store.Payment, error)
	SetReceiptURL(ctx context.Context, ref, url string, at time.Time) error
	CompleteAtDesk(ctx context.Context, playerID string, now time.Time) (store.Registration, error)
	UpdateRegistrationPlayers(ctx context.Context, id string, upd store.RegistrationUpdate, now time.Time) (store.Registration, error)
	CaptureLead(ctx context.Context, email, source string, now time.Time) (store.User, error)
	AccountBySubject(ctx context.Context, subject string) (store.Account, error)
	DeletePlayer(ctx context.Context, id string) error
	DeleteGuardian(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, id string) error
}

// Options configures a Service.
type Options struct {
	Store    Store
	Payments payment.Provider
	Mailer   mailer.Sender
	Identity identity.Directory
	Catalog  *catalog.Catalog
	Alerts   alert.Notifier
	Clock    *clock.Clock
	Logger   *slog.Logger
	// BaseURL is the public origin used for default checkout redirects.
	BaseURL string
}

// Service runs the registration workflow. It holds no registration or
// payment state between calls; every decision re-reads the store.
type Service struct {
	store    Store
	payments payment.Provider
	mailer   mailer.Sender
	identity identity.Directory
	catalog  *catalog.Catalog
	alerts   alert.Notifier
	clock    *clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	baseURL  string
}

// NewService creates a workflow service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Identity == nil {
		opts.Identity = identity.NewLocalDirectory()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Alerts == nil {
		opts.Alerts = alert.Nop{}
	}
	return &Service{
		store:    opts.Store,
		payments: opts.Payments,
		mailer:   opts.Mailer,
		identity: opts.Identity,
		catalog:  opts.Catalog,
		alerts:   opts.Alerts,
		clock:    opts.Clock,
		logger:   opts.Logger,
		tracer:   telemetry.Tracer(),
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Catalog returns the tryout catalog the service prices against.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "registration."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// PlayerInput is one player on a registration form.
type PlayerInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Birthdate string `json:"birthdate"`
	Gender    string `json:"gender"`
}

// CreateInput is a submitted registration form.
type CreateInput struct {
	GuardianEmail string        `json:"guardianEmail"`
	Players       []PlayerInput `json:"players"`
	PromoCode     string        `json:"promoCode,omitempty"`
}

func (in CreateInput) validate(now time.Time) error {
	if err := validateEmail("guardianEmail", in.GuardianEmail); err != nil {
		return err
	}
	return validatePlayers(in.Players, now)
}

func validateEmail(field, value string) error {
	email := strings.TrimSpace(value)
	if email == "" {
		return invalid(field, "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid(field, "is not a valid email address")
	}
	return nil
}

func validatePlayers(players []PlayerInput, now time.Time) error {
	if len(players) == 0 {
		return invalid("players", "at least one player is required")
	}
	for i, p := range players {
		field := fmt.Sprintf("players[%d]", i)
		if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
			return invalid(field, "first and last name are required")
		}
		birth, err := time.Parse(time.DateOnly, strings.TrimSpace(p.Birthdate))
		if err != nil {
			return invalid(field+".birthdate", "must be YYYY-MM-DD")
		}
		if birth.After(now) {
			return invalid(field+".birthdate", "is in the future")
		}
		if strings.TrimSpace(p.Gender) == "" {
			return invalid(field+".gender", "is required")
		}
	}
	return nil
}

func playerDrafts(players []PlayerInput) []store.PlayerDraft {
	drafts := make([]store.PlayerDraft, 0, len(players))
	for _, p := range players {
		drafts = append(drafts, store.PlayerDraft{
			FirstName: strings.TrimSpace(p.FirstName),
			LastName:  strings.TrimSpace(p.LastName),
			Birthdate: strings.TrimSpace(p.Birthdate),
			Gender:    strings.TrimSpace(p.Gender),
		})
	}
	return drafts
}

// Create validates the form and persists a PENDING_PAYMENT registration
// with its guardian and players, all or nothing.
func (s *Service) Create(ctx context.Context, in CreateInput) (reg store.Registration, err error) {
	ctx, span := s.start(ctx, "create", attribute.Int("players", len(in.Players)))
	defer func() { finish(span, err) }()

	now := s.clock.Now()
	if err := in.validate(now); err != nil {
		return store.Registration{}, err
	}
	quote, err := s.catalog.Quote(len(in.Players), in.PromoCode)
	if errors.Is(err, catalog.ErrUnknownPromo) {
		return store.Registration{}, invalid("promoCode", "is not a valid promo code")
	}
	if err != nil {
		return store.Registration{}, invalid("players", "%v", err)
	}

	email := strings.ToLower(strings.TrimSpace(in.GuardianEmail))
	subject, err := s.identity.EnsureUser(ctx, email)
	if err != nil {
		s.logger.Error("identity lookup failed", "err", err)
		return store.Registration{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}

	draft := store.RegistrationDraft{
		GuardianEmail: email,
		ExternalID:    subject,
		TryoutName:    s.catalog.Name,
		PromoCode:     quote.PromoCode,
		UnitPrice:     quote.UnitPrice,
		Players:       playerDrafts(in.Players),
		CreatedAt:     now,
	}

	reg, err = s.store.CreateRegistration(ctx, draft)
	if err != nil {
		s.logger.Error("create registration failed", "err", err)
		return store.Registration{}, err
	}
	span.SetAttributes(attribute.String("registration.id", reg.ID))
	s.logger.Info("registration created",
		"registration_id", reg.ID,
		"players", len(reg.Players),
		"promo_code", reg.PromoCode,
	)
	return reg, nil
}

// Get returns a registration by id.
func (s *Service) Get(ctx context.Context, id string) (store.Registration, error) {
	return s.store.GetRegistration(ctx, id)
}

// Delete removes a registration and its payment; players are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteRegistration(ctx, id); err != nil {
		return err
	}
	s.logger.Info("registration deleted", "registration_id", id)
	return nil
}

// ExpectedAmount is the server-side total for reg in minor units.
func ExpectedAmount(reg store.Registration) int64 {
	return reg.UnitPrice * int64(len(reg.Players))
}

// PaymentHint is the server's view of a registration's payment, returned to
// a client that reports its own view. It is informational only.
type PaymentHint struct {
	RegistrationID string       `json:"registrationId"`
	Status         store.Status `json:"status"`
	PaymentStatus  string       `json:"paymentStatus,omitempty"`
	ReceiptURL     string       `json:"receiptUrl,omitempty"`
	// Pending is true when the client says it paid but the webhook has not
	// arrived yet.
	Pending bool `json:"pending"`
}

// ClientPaymentHint reports the stored status for a registration. The
// client's reported status is only logged; it never changes state.
func (s *Service) ClientPaymentHint(ctx context.Context, id, reported string) (PaymentHint, error) {
	reg, err := s.store.GetRegistration(ctx, id)
	if err != nil {
		return PaymentHint{}, err
	}
	hint := PaymentHint{RegistrationID: reg.ID, Status: reg.Status}
	if reg.Payment != nil {
		hint.PaymentStatus = reg.Payment.Status
		hint.ReceiptURL = reg.Payment.ReceiptURL
	}
	if reportsPaid(reported) && reg.Status == store.StatusPendingPayment {
		hint.Pending = true
		s.logger.Info("client reports payment before webhook",
			"registration_id", reg.ID, "reported", reported)
	}
	return hint, nil
}

func reportsPaid(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "paid", "complete", "completed":
		return true
	}
	return false
}

// CompleteAtDesk marks the player's most recent unpaid registration as
// paid at the front desk.
func (s *Service) CompleteAtDesk(ctx context.Context, playerID string) (store.Registration, error) {
	reg, err := s.store.CompleteAtDesk(ctx, playerID, s.clock.Now())
	if err != nil {
		return store.Registration{}, err
	}
	s.logger.Info("registration completed at desk", "registration_id", reg.ID, "player_id", playerID)
	return reg, nil
}

// AbandonStale moves every registration left unpaid for longer than
// olderThan to ABANDONED and returns how many moved. Walk-ins are swept
// too unless they were completed at the desk first.
func (s *Service) AbandonStale(ctx context.Context, olderThan time.Duration) (n int, err error) {
	if olderThan <= 0 {
		olderThan = DefaultAbandonAfter
	}
	ctx, span := s.start(ctx, "abandon_stale", attribute.String("older_than", olderThan.String()))
	defer func() { finish(span, err) }()

	now := s.clock.Now()
	moved, err := s.store.AbandonStale(ctx, now.Add(-olderThan), now)
	if err != nil {
		s.logger.Error("abandon sweep failed", "err", err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("abandoned", moved))
	s.logger.Info("abandon sweep", "abandoned", moved, "older_than", olderThan.String())
	return int(moved), nil
}

// AbandonCandidates lists the registrations the next sweep with olderThan
// would abandon.
func (s *Service) AbandonCandidates(ctx context.Context, olderThan time.Duration) ([]store.Registration, error) {
	if olderThan <= 0 {
		olderThan = DefaultAbandonAfter
	}
	return s.store.ListAbandonCandidates(ctx, s.clock.Now().Add(-olderThan))
}
