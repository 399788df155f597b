package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/precisionheat/tryouts/internal/auth"
	"github.com/precisionheat/tryouts/internal/roster"
	"github.com/precisionheat/tryouts/internal/server"
	"github.com/precisionheat/tryouts/internal/store"
)

const defaultWebhookEventLimit = 100

func (h *Handler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := server.DecodeJSON(r, &body); err != nil {
		badRequest(w, "invalid login request: "+err.Error())
		return
	}
	if !auth.CheckPassword(h.adminHash, body.Password) {
		h.logger.Warn("admin login rejected", "remote", r.RemoteAddr)
		h.authError(w, auth.ErrUnauthorized)
		return
	}
	token, exp, err := h.issuer.Issue(auth.RoleAdmin, auth.AdminTTL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, loginResponse{Token: token, Role: auth.RoleAdmin, ExpiresAt: exp.Unix()})
}

func (h *Handler) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.store.ListRegistrations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"registrations": nonNil(regs)})
}

func (h *Handler) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.regs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, reg)
}

func (h *Handler) handleDeleteRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.regs.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

func (h *Handler) handleResendConfirmation(w http.ResponseWriter, r *http.Request) {
	reg, err := h.regs.ResendConfirmation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, reg)
}

func (h *Handler) handleListGuardians(w http.ResponseWriter, r *http.Request) {
	guardians, err := h.store.ListGuardians(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"guardians": nonNil(guardians)})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"users": nonNil(users)})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	h.deleted(w, r, h.regs.DeleteUser)
}

func (h *Handler) handleDeleteGuardian(w http.ResponseWriter, r *http.Request) {
	h.deleted(w, r, h.regs.DeleteGuardian)
}

func (h *Handler) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	h.deleted(w, r, h.regs.DeletePlayer)
}

// deleted runs del for the {id} path parameter.
func (h *Handler) deleted(w http.ResponseWriter, r *http.Request, del func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := del(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

func (h *Handler) handleCompleteRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.regs.CompleteAtDesk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, reg)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	olderThan, err := hoursParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	n, err := h.regs.AbandonStale(r.Context(), olderThan)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"abandoned": n,
		"olderThan": olderThan.String(),
		"sweptAt":   h.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleAbandoned(w http.ResponseWriter, r *http.Request) {
	olderThan, err := hoursParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	regs, err := h.regs.AbandonCandidates(r.Context(), olderThan)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"registrations": nonNil(regs), "olderThan": olderThan.String()})
}

func (h *Handler) handleRosterExport(w http.ResponseWriter, r *http.Request) {
	if h.roster == nil {
		h.fail(w, r, roster.ErrNotConfigured)
		return
	}
	n, err := h.roster.Export(r.Context())
	if err != nil {
		h.logger.Error("roster export failed", "err", err)
		server.ErrorCode(w, http.StatusBadGateway, "api_error", "upstream_unavailable", "roster export failed: "+err.Error())
		return
	}
	h.logger.Info("roster exported", "rows", n)
	server.JSON(w, http.StatusOK, map[string]any{"status": "exported", "rows": n})
}

func (h *Handler) handleWebhookEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultWebhookEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := h.store.ListWebhookEvents(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"events": nonNil(events)})
}

func (h *Handler) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	if h.requests == nil {
		server.JSON(w, http.StatusOK, []server.RequestLogEntry{})
		return
	}
	server.JSON(w, http.StatusOK, nonNil(h.requests.Entries()))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("health check failed", "err", err)
		server.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTimeAdvance shifts the process clock, so sandbox runs can age
// registrations past the abandon window without waiting.
func (h *Handler) handleTimeAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Duration string `json:"duration"` // e.g. "90m"
	}
	if err := server.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request: "+err.Error())
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		badRequest(w, "invalid duration: "+err.Error())
		return
	}
	h.clock.Advance(d)
	h.logger.Info("clock advanced", "duration", d, "offset", h.clock.Offset())
	server.JSON(w, http.StatusOK, map[string]any{
		"status":    "advanced",
		"duration":  d.String(),
		"offset":    h.clock.Offset().String(),
		"simulated": h.clock.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleGetTime(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, map[string]any{
		"real":      time.Now().Format(time.RFC3339),
		"simulated": h.clock.Now().Format(time.RFC3339),
		"offset":    h.clock.Offset().String(),
	})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var _ Store = (*store.Store)(nil)
