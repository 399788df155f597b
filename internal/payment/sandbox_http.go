package payment

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/precisionheat/tryouts/internal/server"
)

var sandboxPage = template.Must(template.New("checkout").Parse(`<!doctype html>
<html><head><title>Sandbox checkout</title></head>
<body>
<h1>Sandbox checkout</h1>
<p>{{.Description}}</p>
<p>Amount: {{.Amount}} {{.Currency}} (minor units)</p>
{{if .Paid}}<p>Paid.</p>{{else}}
<form method="post" action="/sandbox/checkout/{{.ID}}/pay"><button type="submit">Pay</button></form>
{{end}}
{{if .CancelURL}}<p><a href="{{.CancelURL}}">Cancel</a></p>{{end}}
</body></html>`))

var receiptPage = template.Must(template.New("receipt").Parse(`<!doctype html>
<html><head><title>Receipt</title></head>
<body><h1>Receipt {{.PaymentIntentID}}</h1><p>{{.Amount}} {{.Currency}} paid by {{.GuardianEmail}}</p></body></html>`))

// Routes mounts the sandbox pay pages on r.
func (s *Sandbox) Routes(r chi.Router) {
	r.Get("/sandbox/checkout/{id}", s.handleCheckoutPage)
	r.Post("/sandbox/checkout/{id}/pay", s.handlePay)
	r.Get("/sandbox/receipts/{ref}", s.handleReceipt)
	r.Get("/sandbox/deliveries", func(w http.ResponseWriter, r *http.Request) {
		server.JSON(w, http.StatusOK, s.Deliveries())
	})
}

func (s *Sandbox) handleCheckoutPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Session(chi.URLParam(r, "id"))
	if !ok {
		server.Error(w, http.StatusNotFound, "checkout session not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	sandboxPage.Execute(w, sess)
}

func (s *Sandbox) handlePay(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Pay(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrSessionNotFound) {
		server.Error(w, http.StatusNotFound, "checkout session not found")
		return
	}
	if err != nil {
		server.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	if sess.SuccessURL != "" && r.Header.Get("Accept") != "application/json" {
		http.Redirect(w, r, sess.SuccessURL, http.StatusSeeOther)
		return
	}
	server.JSON(w, http.StatusOK, sess)
}

func (s *Sandbox) handleReceipt(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	s.mu.RLock()
	id, ok := s.byIntent[ref]
	var sess SandboxSession
	if ok {
		sess = *s.sessions[id]
	}
	s.mu.RUnlock()
	if !ok || !sess.Paid {
		server.Error(w, http.StatusNotFound, "receipt not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	receiptPage.Execute(w, sess)
}
