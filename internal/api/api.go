// Package api mounts the tryouts HTTP routes: the public registration flow,
// the processor webhook, the front-desk check-in board, and the admin API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/precisionheat/tryouts/internal/auth"
	"github.com/precisionheat/tryouts/internal/checkin"
	"github.com/precisionheat/tryouts/internal/clock"
	"github.com/precisionheat/tryouts/internal/payment"
	"github.com/precisionheat/tryouts/internal/registration"
	"github.com/precisionheat/tryouts/internal/roster"
	"github.com/precisionheat/tryouts/internal/server"
	"github.com/precisionheat/tryouts/internal/store"
)

// Store is the read side the admin API lists from.
type Store interface {
	ListRegistrations(ctx context.Context) ([]store.Registration, error)
	ListGuardians(ctx context.Context) ([]store.GuardianSummary, error)
	ListUsers(ctx context.Context) ([]store.UserSummary, error)
	ListWebhookEvents(ctx context.Context, limit int) ([]store.WebhookEvent, error)
	Ping(ctx context.Context) error
}

// RosterExporter pushes the paid roster to its destination.
type RosterExporter interface {
	Export(ctx context.Context) (int, error)
}

// Options configures a Handler.
type Options struct {
	Registrations *registration.Service
	CheckIn       *checkin.Service
	Store         Store
	Issuer        *auth.Issuer
	// AdminPasswordHash and CheckInPasswordHash are bcrypt hashes. An empty
	// hash disables that login.
	AdminPasswordHash   string
	CheckInPasswordHash string
	// Roster is optional; export returns 503 without it.
	Roster   RosterExporter
	Requests *server.RequestLog
	// Sandbox mounts the local checkout pages and the clock controls.
	Sandbox *payment.Sandbox
	Clock   *clock.Clock
	Logger  *slog.Logger
	// SecureCookies marks the check-in session cookie Secure.
	SecureCookies bool
}

// Handler serves the API.
type Handler struct {
	regs          *registration.Service
	checkin       *checkin.Service
	store         Store
	issuer        *auth.Issuer
	adminHash     string
	checkInHash   string
	roster        RosterExporter
	requests      *server.RequestLog
	sandbox       *payment.Sandbox
	clock         *clock.Clock
	logger        *slog.Logger
	secureCookies bool
}

// New creates a Handler.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		regs:          opts.Registrations,
		checkin:       opts.CheckIn,
		store:         opts.Store,
		issuer:        opts.Issuer,
		adminHash:     opts.AdminPasswordHash,
		checkInHash:   opts.CheckInPasswordHash,
		roster:        opts.Roster,
		requests:      opts.Requests,
		sandbox:       opts.Sandbox,
		clock:         opts.Clock,
		logger:        opts.Logger,
		secureCookies: opts.SecureCookies,
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/catalog", h.handleCatalog)
	r.Post("/api/registrations", h.handleCreateRegistration)
	r.Put("/api/registrations/{id}", h.handleUpdateRegistration)
	r.Post("/api/registrations/{id}/checkout", h.handleCheckout)
	r.Get("/api/registrations/{id}/status", h.handleStatus)
	r.Get("/api/receipts/{ref}", h.handleReceipt)
	r.Post("/api/leads", h.handleCaptureLead)
	r.Get("/api/accounts/{subject}", h.handleAccount)
	r.Post("/webhooks/stripe", h.handleWebhook)

	r.Route("/api/checkin", func(r chi.Router) {
		r.Post("/login", h.handleCheckInLogin)
		r.Get("/session", h.handleCheckInSession)
		r.Group(func(r chi.Router) {
			r.Use(h.issuer.RequireRole(h.authError, auth.RoleCheckIn, auth.RoleAdmin))
			r.Get("/players", h.handleBoard)
			r.Post("/toggle", h.handleToggle)
			r.Post("/walk-ins", h.handleWalkIn)
			r.Get("/events", h.checkin.ServeEvents)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Post("/login", h.handleAdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(h.issuer.RequireRole(h.authError, auth.RoleAdmin))
			r.Get("/registrations", h.handleListRegistrations)
			r.Get("/registrations/{id}", h.handleGetRegistration)
			r.Delete("/registrations/{id}", h.handleDeleteRegistration)
			r.Post("/registrations/{id}/resend-confirmation", h.handleResendConfirmation)
			r.Get("/guardians", h.handleListGuardians)
			r.Delete("/guardians/{id}", h.handleDeleteGuardian)
			r.Delete("/players/{id}", h.handleDeletePlayer)
			r.Get("/users", h.handleListUsers)
			r.Delete("/users/{id}", h.handleDeleteUser)
			r.Post("/players/{id}/complete-registration", h.handleCompleteRegistration)
			r.Post("/sweep", h.handleSweep)
			r.Get("/abandoned", h.handleAbandoned)
			r.Post("/roster/export", h.handleRosterExport)
			r.Get("/webhook-events", h.handleWebhookEvents)
			r.Get("/requests", h.handleGetRequests)
			if h.sandbox != nil && h.clock != nil {
				r.Get("/time", h.handleGetTime)
				r.Post("/time/advance", h.handleTimeAdvance)
			}
		})
	})

	if h.sandbox != nil {
		h.sandbox.Routes(r)
	}
}

// fail writes err as a structured error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *registration.ValidationError
	switch {
	case errors.As(err, &verr):
		server.ErrorCode(w, http.StatusBadRequest, "invalid_request_error", "validation_error", verr.Error())
	case errors.Is(err, registration.ErrAmountMismatch):
		server.ErrorCode(w, http.StatusBadRequest, "invalid_request_error", "amount_mismatch", err.Error())
	case errors.Is(err, checkin.ErrInvalidWalkIn):
		server.ErrorCode(w, http.StatusBadRequest, "invalid_request_error", "validation_error", err.Error())
	case errors.Is(err, payment.ErrInvalidSignature):
		server.ErrorCode(w, http.StatusBadRequest, "invalid_request_error", "invalid_signature", "webhook signature verification failed")
	case errors.Is(err, store.ErrNotFound):
		server.ErrorCode(w, http.StatusNotFound, "invalid_request_error", "not_found", err.Error())
	case errors.Is(err, registration.ErrNotPending),
		errors.Is(err, registration.ErrNotCompleted),
		errors.Is(err, store.ErrInvalidStatus):
		server.ErrorCode(w, http.StatusConflict, "invalid_request_error", "invalid_status", err.Error())
	case errors.Is(err, registration.ErrResendTooSoon):
		server.ErrorCode(w, http.StatusConflict, "invalid_request_error", "resend_too_soon", err.Error())
	case errors.Is(err, registration.ErrEmailInUse):
		server.ErrorCode(w, http.StatusConflict, "invalid_request_error", "email_in_use", err.Error())
	case errors.Is(err, checkin.ErrNotEligible):
		server.ErrorCode(w, http.StatusConflict, "invalid_request_error", "not_eligible", err.Error())
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrForbidden):
		h.authError(w, err)
	case errors.Is(err, registration.ErrPaymentUnavailable),
		errors.Is(err, registration.ErrIdentityUnavailable),
		errors.Is(err, registration.ErrEmailUnavailable):
		server.ErrorCode(w, http.StatusBadGateway, "api_error", "upstream_unavailable", err.Error())
	case errors.Is(err, roster.ErrNotConfigured):
		server.ErrorCode(w, http.StatusServiceUnavailable, "api_error", "not_configured", err.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		server.ErrorCode(w, http.StatusInternalServerError, "api_error", "internal_error", "internal error")
	}
}

func (h *Handler) authError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrForbidden) {
		server.ErrorCode(w, http.StatusForbidden, "authentication_error", "forbidden", "insufficient role")
		return
	}
	server.ErrorCode(w, http.StatusUnauthorized, "authentication_error", "unauthorized", "authentication required")
}

// badRequest writes a 400 for a malformed body or query.
func badRequest(w http.ResponseWriter, message string) {
	server.ErrorCode(w, http.StatusBadRequest, "invalid_request_error", "bad_request", message)
}

// hoursParam reads a positive whole number of hours from ?hours=, default 1.
func hoursParam(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return registration.DefaultAbandonAfter, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("hours must be a positive integer")
	}
	return time.Duration(n) * time.Hour, nil
}
