package api

import (
	"net/http"
	"strings"

	"github.com/precisionheat/tryouts/internal/auth"
	"github.com/precisionheat/tryouts/internal/checkin"
	"github.com/precisionheat/tryouts/internal/server"
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"expiresAt"`
}

// handleCheckInLogin trades the shared front-desk password for a session.
// The token is also set as an HttpOnly cookie so EventSource can send it.
func (h *Handler) handleCheckInLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := server.DecodeJSON(r, &body); err != nil {
		badRequest(w, "invalid login request: "+err.Error())
		return
	}
	if !auth.CheckPassword(h.checkInHash, body.Password) {
		h.logger.Warn("check-in login rejected", "remote", r.RemoteAddr)
		h.authError(w, auth.ErrUnauthorized)
		return
	}
	token, exp, err := h.issuer.Issue(auth.RoleCheckIn, auth.CheckInTTL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(auth.CheckInTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	server.JSON(w, http.StatusOK, loginResponse{Token: token, Role: auth.RoleCheckIn, ExpiresAt: exp.Unix()})
}

func (h *Handler) handleCheckInSession(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"authenticated": false}
	if token := auth.TokenFromRequest(r); token != "" {
		if claims, err := h.issuer.Verify(token); err == nil &&
			(claims.Role == auth.RoleCheckIn || claims.Role == auth.RoleAdmin) {
			resp["authenticated"] = true
			resp["role"] = claims.Role
		}
	}
	server.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	players, err := h.checkin.Board(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"players": players})
}

type toggleRequest struct {
	PlayerID string `json:"playerId"`
	CheckIn  bool   `json:"checkIn"`
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	var body toggleRequest
	if err := server.DecodeJSON(r, &body); err != nil {
		badRequest(w, "invalid toggle request: "+err.Error())
		return
	}
	if strings.TrimSpace(body.PlayerID) == "" {
		badRequest(w, "playerId is required")
		return
	}
	pr, err := h.checkin.Toggle(r.Context(), body.PlayerID, body.CheckIn)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, pr)
}

func (h *Handler) handleWalkIn(w http.ResponseWriter, r *http.Request) {
	var in checkin.WalkInInput
	if err := server.DecodeJSON(r, &in); err != nil {
		badRequest(w, "invalid walk-in: "+err.Error())
		return
	}
	reg, err := h.checkin.AddWalkIn(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, reg)
}
