package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/precisionheat/tryouts/internal/catalog"
	"github.com/precisionheat/tryouts/internal/payment"
	"github.com/precisionheat/tryouts/internal/registration"
	"github.com/precisionheat/tryouts/internal/server"
	"github.com/precisionheat/tryouts/internal/store"
)

// maxWebhookBody bounds a processor delivery.
const maxWebhookBody = 1 << 20

type catalogResponse struct {
	Name           string            `json:"name"`
	Currency       string            `json:"currency"`
	PricePerPlayer int64             `json:"pricePerPlayer"`
	ContactEmail   string            `json:"contactEmail,omitempty"`
	Sessions       []catalog.Session `json:"sessions"`
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c := h.regs.Catalog()
	sessions := c.Sessions
	if sessions == nil {
		sessions = []catalog.Session{}
	}
	server.JSON(w, http.StatusOK, catalogResponse{
		Name:           c.Name,
		Currency:       c.Currency,
		PricePerPlayer: c.PricePerPlayer,
		ContactEmail:   c.ContactEmail,
		Sessions:       sessions,
	})
}

type createResponse struct {
	RegistrationID string       `json:"registrationId"`
	Status         store.Status `json:"status"`
	Amount         int64        `json:"amount"`
	Currency       string       `json:"currency"`
}

func (h *Handler) handleCreateRegistration(w http.ResponseWriter, r *http.Request) {
	var in registration.CreateInput
	if err := server.DecodeJSON(r, &in); err != nil {
		badRequest(w, "invalid registration: "+err.Error())
		return
	}
	reg, err := h.regs.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, createResponse{
		RegistrationID: reg.ID,
		Status:         reg.Status,
		Amount:         registration.ExpectedAmount(reg),
		Currency:       h.regs.Catalog().Currency,
	})
}

func (h *Handler) handleUpdateRegistration(w http.ResponseWriter, r *http.Request) {
	var in registration.UpdateInput
	if err := server.DecodeJSON(r, &in); err != nil {
		badRequest(w, "invalid registration: "+err.Error())
		return
	}
	reg, err := h.regs.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, createResponse{
		RegistrationID: reg.ID,
		Status:         reg.Status,
		Amount:         registration.ExpectedAmount(reg),
		Currency:       h.regs.Catalog().Currency,
	})
}

func (h *Handler) handleCaptureLead(w http.ResponseWriter, r *http.Request) {
	var in registration.LeadInput
	if err := server.DecodeJSON(r, &in); err != nil {
		badRequest(w, "invalid lead: "+err.Error())
		return
	}
	user, err := h.regs.CaptureLead(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, map[string]any{"userId": user.ID, "isLead": user.IsLead})
}

func (h *Handler) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.regs.Account(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	acct.Players = nonNil(acct.Players)
	acct.Registrations = nonNil(acct.Registrations)
	server.JSON(w, http.StatusOK, acct)
}

type checkoutRequest struct {
	Amount     *int64 `json:"amount,omitempty"`
	SuccessURL string `json:"successUrl,omitempty"`
	CancelURL  string `json:"cancelUrl,omitempty"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var body checkoutRequest
	if err := server.DecodeJSON(r, &body); err != nil && !errors.Is(err, server.ErrEmptyBody) {
		badRequest(w, "invalid checkout request: "+err.Error())
		return
	}
	out, err := h.regs.StartPayment(r.Context(), registration.StartPaymentInput{
		RegistrationID: chi.URLParam(r, "id"),
		ClientAmount:   body.Amount,
		SuccessURL:     body.SuccessURL,
		CancelURL:      body.CancelURL,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	hint, err := h.regs.ClientPaymentHint(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("reported"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, hint)
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	url, err := h.regs.ReceiptURL(r.Context(), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"paymentRef": ref, "receiptUrl": url})
}

// handleWebhook acknowledges every verified delivery the workflow handled,
// including ones it chose to ignore. Only persistence failures ask the
// processor to redeliver.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		badRequest(w, "could not read webhook body")
		return
	}
	outcome, err := h.regs.ReconcileWebhook(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			h.fail(w, r, err)
			return
		}
		h.logger.Error("webhook not applied", "err", err)
		server.ErrorCode(w, http.StatusInternalServerError, "api_error", "webhook_failed", "webhook could not be applied")
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"received": true, "outcome": outcome})
}
