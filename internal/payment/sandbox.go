package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// SandboxConfig configures the local sandbox processor.
type SandboxConfig struct {
	// BaseURL is where the sandbox checkout pages are served.
	BaseURL       string
	WebhookURL    string
	WebhookSecret string
	Logger        *slog.Logger
	Dispatcher    *Dispatcher
	Now           func() time.Time
}

// SandboxSession is a checkout opened against the sandbox.
type SandboxSession struct {
	ID              string    `json:"id"`
	PaymentIntentID string    `json:"payment_intent"`
	RegistrationID  string    `json:"registration_id"`
	GuardianEmail   string    `json:"guardian_email"`
	Description     string    `json:"description"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	SuccessURL      string    `json:"success_url"`
	CancelURL       string    `json:"cancel_url"`
	Paid            bool      `json:"paid"`
	CreatedAt       time.Time `json:"created_at"`
}

// Sandbox is an in-memory Provider for local development. Paying a session
// sends a signed payment_intent.succeeded event through the same webhook
// endpoint the real processor uses.
type Sandbox struct {
	mu       sync.RWMutex
	sessions map[string]*SandboxSession
	byIntent map[string]string
	counter  int

	baseURL    string
	secret     string
	logger     *slog.Logger
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewSandbox creates a sandbox processor.
func NewSandbox(cfg SandboxConfig) *Sandbox {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher(DispatcherConfig{
			URL:    cfg.WebhookURL,
			Secret: cfg.WebhookSecret,
			Logger: cfg.Logger,
		})
	}
	return &Sandbox{
		sessions:   make(map[string]*SandboxSession),
		byIntent:   make(map[string]string),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:     cfg.WebhookSecret,
		logger:     cfg.Logger,
		dispatcher: cfg.Dispatcher,
		now:        cfg.Now,
	}
}

func (s *Sandbox) nextID(prefix string) string {
	s.counter++
	return fmt.Sprintf("%s_sandbox_%06d", prefix, s.counter)
}

// CreateCheckout records a session and returns its local pay page.
func (s *Sandbox) CreateCheckout(_ context.Context, req CheckoutRequest) (CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &SandboxSession{
		ID:              s.nextID("cs"),
		PaymentIntentID: s.nextID("pi"),
		RegistrationID:  req.RegistrationID,
		GuardianEmail:   req.GuardianEmail,
		Description:     req.Description,
		Amount:          req.Total(),
		Currency:        strings.ToLower(req.Currency),
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
		CreatedAt:       s.now(),
	}
	s.sessions[sess.ID] = sess
	s.byIntent[sess.PaymentIntentID] = sess.ID
	return CheckoutSession{
		ID:       sess.ID,
		URL:      s.baseURL + "/sandbox/checkout/" + sess.ID,
		Amount:   sess.Amount,
		Currency: sess.Currency,
	}, nil
}

// ParseWebhook verifies events with the Stripe signature scheme.
func (s *Sandbox) ParseWebhook(payload []byte, header string) (Event, error) {
	return parseStripeEvent(payload, header, s.secret)
}

// ReceiptURL returns a local receipt link for paid sessions.
func (s *Sandbox) ReceiptURL(_ context.Context, paymentRef string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIntent[paymentRef]
	if !ok || !s.sessions[id].Paid {
		return "", ErrNoReceipt
	}
	return s.receiptURL(paymentRef), nil
}

func (s *Sandbox) receiptURL(paymentRef string) string {
	return s.baseURL + "/sandbox/receipts/" + paymentRef
}

// Session returns a copy of the session with the given id.
func (s *Sandbox) Session(id string) (SandboxSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return SandboxSession{}, false
	}
	return *sess, true
}

// Sessions returns every session, oldest first.
func (s *Sandbox) Sessions() []SandboxSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SandboxSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pay marks the session paid and delivers the success webhook. Paying twice
// redelivers the same event, like a processor retry.
func (s *Sandbox) Pay(ctx context.Context, sessionID string) (SandboxSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return SandboxSession{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	sess.Paid = true
	snapshot := *sess
	s.mu.Unlock()

	eventID := "evt_" + strings.TrimPrefix(snapshot.PaymentIntentID, "pi_")
	payload, err := BuildEvent(eventID, EventPaymentSucceeded, PaymentIntentObject{
		ID:           snapshot.PaymentIntentID,
		Object:       "payment_intent",
		Amount:       snapshot.Amount,
		Currency:     snapshot.Currency,
		Status:       "succeeded",
		ReceiptEmail: snapshot.GuardianEmail,
		Metadata: map[string]string{
			MetaRegistrationID: snapshot.RegistrationID,
			MetaGuardianEmail:  snapshot.GuardianEmail,
		},
		LatestCharge: &ChargeObject{
			ID:         "ch_" + strings.TrimPrefix(snapshot.PaymentIntentID, "pi_"),
			Object:     "charge",
			ReceiptURL: s.receiptURL(snapshot.PaymentIntentID),
		},
	}, s.now())
	if err != nil {
		return snapshot, err
	}

	s.logger.Info("sandbox payment", "session_id", sessionID, "registration_id", snapshot.RegistrationID, "event_id", eventID)
	if err := s.dispatcher.Deliver(ctx, eventID, payload); err != nil {
		return snapshot, fmt.Errorf("deliver webhook: %w", err)
	}
	return snapshot, nil
}

// Deliveries exposes the webhook delivery log.
func (s *Sandbox) Deliveries() []Delivery {
	return s.dispatcher.Deliveries()
}
