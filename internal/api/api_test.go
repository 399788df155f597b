package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/precisionheat/tryouts/internal/alert"
	"github.com/precisionheat/tryouts/internal/auth"
	"github.com/precisionheat/tryouts/internal/checkin"
	"github.com/precisionheat/tryouts/internal/clock"
	"github.com/precisionheat/tryouts/internal/mailer"
	"github.com/precisionheat/tryouts/internal/payment"
	"github.com/precisionheat/tryouts/internal/registration"
	"github.com/precisionheat/tryouts/internal/server"
	"github.com/precisionheat/tryouts/internal/store"
	"github.com/precisionheat/tryouts/internal/testutil"
)

const (
	webhookSecret   = "whsec_api_test"
	adminPassword   = "admin-pass"
	checkInPassword = "desk-pass"
)

type env struct {
	srv     *httptest.Server
	client  *testutil.Client
	store   *store.Store
	mail    *mailer.MemorySender
	alerts  *alert.Recorder
	sandbox *payment.Sandbox
	clock   *clock.Clock
}

// newEnv runs the full API behind an httptest server, with the sandbox
// processor delivering its webhooks back to the same server.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	adminHash, err := auth.HashPassword(adminPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	deskHash, err := auth.HashPassword(checkInPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	e := &env{
		store:  st,
		mail:   mailer.NewMemorySender(),
		alerts: alert.NewRecorder(nil),
		clock:  clock.New(),
	}
	dispatcher := payment.NewDispatcher(payment.DispatcherConfig{
		Secret:     webhookSecret,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
	e.sandbox = payment.NewSandbox(payment.SandboxConfig{
		WebhookSecret: webhookSecret,
		Dispatcher:    dispatcher,
		Now:           e.clock.Now,
	})

	regs := registration.NewService(registration.Options{
		Store:    st,
		Payments: e.sandbox,
		Mailer:   e.mail,
		Alerts:   e.alerts,
		Clock:    e.clock,
	})
	desk := checkin.NewService(checkin.Options{
		Store:     st,
		Clock:     e.clock,
		Heartbeat: time.Minute,
	})

	srv := server.New(server.Options{})
	New(Options{
		Registrations:       regs,
		CheckIn:             desk,
		Store:               st,
		Issuer:              auth.NewIssuer("api-test-secret", nil),
		AdminPasswordHash:   adminHash,
		CheckInPasswordHash: deskHash,
		Requests:            srv.Requests,
		Sandbox:             e.sandbox,
		Clock:               e.clock,
	}).Routes(srv.Router)

	e.srv = httptest.NewServer(srv)
	t.Cleanup(e.srv.Close)
	dispatcher.SetURL(e.srv.URL + "/webhooks/stripe")

	e.client = testutil.NewClient(t, e.srv)
	return e
}

func (e *env) admin() *testutil.AdminClient {
	return testutil.NewAdminClient(e.client, adminPassword)
}

func (e *env) desk(t *testing.T) *testutil.Client {
	t.Helper()
	var body struct {
		Token string `json:"token"`
	}
	e.client.Post("/api/checkin/login", map[string]string{"password": checkInPassword}).
		AssertStatus(http.StatusOK).
		JSON(&body)
	return e.client.WithToken(body.Token)
}

func registrationBody(email string, players ...string) map[string]any {
	var list []map[string]string
	for _, name := range players {
		list = append(list, map[string]string{
			"firstName": name,
			"lastName":  "Doe",
			"birthdate": "2012-04-09",
			"gender":    "female",
		})
	}
	return map[string]any{"guardianEmail": email, "players": list}
}

func (e *env) register(t *testing.T, email string, players ...string) string {
	t.Helper()
	var out struct {
		RegistrationID string `json:"registrationId"`
		Status         string `json:"status"`
	}
	e.client.Post("/api/registrations", registrationBody(email, players...)).
		AssertStatus(http.StatusCreated).
		JSON(&out)
	if out.RegistrationID == "" || out.Status != string(store.StatusPendingPayment) {
		t.Fatalf("unexpected create response %+v", out)
	}
	return out.RegistrationID
}

// pay opens a checkout for id and pays it in the sandbox, which delivers the
// webhook synchronously. It returns the payment intent id.
func (e *env) pay(t *testing.T, id string) string {
	t.Helper()
	var co struct {
		SessionID string `json:"sessionId"`
	}
	e.client.Post("/api/registrations/"+id+"/checkout", map[string]any{}).
		AssertStatus(http.StatusOK).
		JSON(&co)
	return e.paySession(t, co.SessionID)
}

func (e *env) paySession(t *testing.T, sessionID string) string {
	t.Helper()
	var sess struct {
		PaymentIntent string `json:"payment_intent"`
	}
	e.client.DoWithHeaders(http.MethodPost, "/sandbox/checkout/"+sessionID+"/pay", nil,
		map[string]string{"Accept": "application/json"}).
		AssertStatus(http.StatusOK).
		JSON(&sess)
	return sess.PaymentIntent
}

func (e *env) status(t *testing.T, id string) registration.PaymentHint {
	t.Helper()
	var hint registration.PaymentHint
	e.client.Get("/api/registrations/" + id + "/status").AssertStatus(http.StatusOK).JSON(&hint)
	return hint
}

// ---------------------------------------------------------------------------
// Public flow
// ---------------------------------------------------------------------------

func TestRegistrationPaidThroughSandbox(t *testing.T) {
	e := newEnv(t)

	var created map[string]any
	e.client.Post("/api/registrations", registrationBody("g@example.com", "Jo")).
		AssertStatus(http.StatusCreated).
		JSON(&created)
	if created["amount"] != float64(3000) || created["currency"] != "cad" {
		t.Errorf("unexpected quote in %v", created)
	}
	id := created["registrationId"].(string)

	var co map[string]any
	e.client.Post("/api/registrations/"+id+"/checkout", map[string]any{"amount": 3000}).
		AssertStatus(http.StatusOK).
		JSON(&co)
	if co["amount"] != float64(3000) || !strings.Contains(co["url"].(string), "/sandbox/checkout/") {
		t.Errorf("unexpected checkout %v", co)
	}

	intent := e.paySession(t, co["sessionId"].(string))

	hint := e.status(t, id)
	if hint.Status != store.StatusCompleted || hint.PaymentStatus != "succeeded" || hint.ReceiptURL == "" {
		t.Errorf("expected completed with receipt, got %+v", hint)
	}
	if e.mail.Count() != 1 {
		t.Fatalf("expected 1 confirmation, got %d", e.mail.Count())
	}
	if to := e.mail.Messages()[0].To; to != "g@example.com" {
		t.Errorf("expected email to guardian, got %q", to)
	}

	// Paying again redelivers the same event.
	e.paySession(t, co["sessionId"].(string))
	if e.mail.Count() != 1 {
		t.Errorf("expected redelivery to send nothing, got %d emails", e.mail.Count())
	}

	var events struct {
		Events []store.WebhookEvent `json:"events"`
	}
	e.admin().Get("/admin/webhook-events").AssertStatus(http.StatusOK).JSON(&events)
	if len(events.Events) != 1 || events.Events[0].Deliveries != 2 || events.Events[0].Outcome != "duplicate" {
		t.Errorf("expected one event delivered twice, got %+v", events.Events)
	}

	var receipt map[string]string
	e.client.Get("/api/receipts/" + intent).AssertStatus(http.StatusOK).JSON(&receipt)
	if receipt["receiptUrl"] != hint.ReceiptURL {
		t.Errorf("expected receipt %q, got %v", hint.ReceiptURL, receipt)
	}
}

func TestCheckoutRejectsClientAmount(t *testing.T) {
	e := newEnv(t)
	id := e.register(t, "g@example.com", "Jo", "Sam")

	e.client.Post("/api/registrations/"+id+"/checkout", map[string]any{"amount": 3000}).
		AssertStatus(http.StatusBadRequest).
		AssertErrorCode("amount_mismatch")

	e.client.Post("/api/registrations/"+id+"/checkout", nil).
		AssertStatus(http.StatusOK).
		AssertBodyContains(`"amount":6000`)

	e.client.Post("/api/registrations/missing/checkout", nil).
		AssertStatus(http.StatusNotFound).
		AssertErrorCode("not_found")
}

func TestCheckoutRequiresPending(t *testing.T) {
	e := newEnv(t)
	id := e.register(t, "g@example.com", "Jo")
	e.pay(t, id)

	e.client.Post("/api/registrations/"+id+"/checkout", nil).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("invalid_status")
}

func TestCreateRegistrationValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing email", registrationBody("", "Jo"), "validation_error"},
		{"no players", map[string]any{"guardianEmail": "g@example.com", "players": []any{}}, "validation_error"},
		{"unknown promo", map[string]any{"guardianEmail": "g@example.com", "players": registrationBody("x", "Jo")["players"], "promoCode": "FREE"}, "validation_error"},
		{"unknown field", map[string]any{"guardianEmail": "g@example.com", "extra": true}, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.client.Post("/api/registrations", tt.body).
				AssertStatus(http.StatusBadRequest).
				AssertErrorCode(tt.code)
		})
	}

	var regs struct {
		Registrations []store.Registration `json:"registrations"`
	}
	e.admin().Registrations().JSON(&regs)
	if len(regs.Registrations) != 0 {
		t.Errorf("expected no registrations, got %d", len(regs.Registrations))
	}
}

func TestStatusReportNeverMutates(t *testing.T) {
	e := newEnv(t)
	id := e.register(t, "g@example.com", "Jo")

	var hint registration.PaymentHint
	e.client.Get("/api/registrations/" + id + "/status?reported=succeeded").
		AssertStatus(http.StatusOK).
		JSON(&hint)
	if !hint.Pending || hint.Status != store.StatusPendingPayment {
		t.Errorf("expected pending hint, got %+v", hint)
	}
	if got := e.status(t, id); got.Status != store.StatusPendingPayment {
		t.Errorf("expected status unchanged, got %s", got.Status)
	}
	if e.mail.Count() != 0 {
		t.Errorf("expected no email, got %d", e.mail.Count())
	}
}

func TestCatalog(t *testing.T) {
	e := newEnv(t)
	m := e.client.Get("/api/catalog").AssertStatus(http.StatusOK).JSONMap()
	if m["pricePerPlayer"] != float64(3000) || m["currency"] != "cad" {
		t.Errorf("unexpected catalog %v", m)
	}
}

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

func succeededEvent(t *testing.T, eventID, regID string) []byte {
	t.Helper()
	payload, err := payment.BuildEvent(eventID, payment.EventPaymentSucceeded, payment.PaymentIntentObject{
		ID:       "pi_" + eventID,
		Object:   "payment_intent",
		Amount:   3000,
		Currency: "cad",
		Status:   "succeeded",
		Metadata: map[string]string{payment.MetaRegistrationID: regID},
	}, time.Now())
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return payload
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	id := e.register(t, "g@example.com", "Jo")
	payload := succeededEvent(t, "evt_forged", id)

	e.client.PostRaw("/webhooks/stripe", payload, map[string]string{
		payment.SignatureHeader: "t=1,v1=deadbeef",
	}).AssertStatus(http.StatusBadRequest).AssertErrorCode("invalid_signature")

	e.client.PostRaw("/webhooks/stripe", payload, nil).
		AssertStatus(http.StatusBadRequest)

	if got := e.status(t, id); got.Status != store.StatusPendingPayment {
		t.Errorf("expected forged event to change nothing, got %s", got.Status)
	}
}

func TestWebhookUnknownRegistrationIsAcknowledged(t *testing.T) {
	e := newEnv(t)
	payload := succeededEvent(t, "evt_orphan", "does-not-exist")
	headers := payment.NewStripeSigner().Sign(payload, webhookSecret)

	m := e.client.PostRaw("/webhooks/stripe", payload, headers).
		AssertStatus(http.StatusOK).
		JSONMap()
	if m["received"] != true || m["outcome"] != string(registration.OutcomeUnknownRegistration) {
		t.Errorf("unexpected ack %v", m)
	}
	if len(e.alerts.Alerts()) != 1 {
		t.Errorf("expected an operator alert, got %v", e.alerts.Alerts())
	}
}

func TestWebhookSignedDirectly(t *testing.T) {
	e := newEnv(t)
	id := e.register(t, "g@example.com", "Jo")
	payload := succeededEvent(t, "evt_direct", id)
	headers := payment.NewStripeSigner().Sign(payload, webhookSecret)

	e.client.PostRaw("/webhooks/stripe", payload, headers).
		AssertStatus(http.StatusOK).
		AssertBodyContains(`"outcome":"completed"`)
	e.client.PostRaw("/webhooks/stripe", payload, headers).
		AssertStatus(http.StatusOK).
		AssertBodyContains(`"outcome":"duplicate"`)

	if e.mail.Count() != 1 {
		t.Errorf("expected exactly one email, got %d", e.mail.Count())
	}
}

func TestWebhookMalformedIsAcknowledged(t *testing.T) {
	e := newEnv(t)
	payload, err := payment.BuildEvent("evt_garbled", payment.EventPaymentSucceeded,
		map[string]any{"id": "pi_garbled", "object": "payment_intent", "amount": "lots"}, time.Now())
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	headers := payment.NewStripeSigner().Sign(payload, webhookSecret)

	e.client.PostRaw("/webhooks/stripe", payload, headers).
		AssertStatus(http.StatusOK).
		AssertBodyContains(`"outcome":"malformed"`)
	if len(e.alerts.Alerts()) != 1 {
		t.Errorf("expected an operator alert, got %v", e.alerts.Alerts())
	}
}

func TestUpdateRegistration(t *testing.T) {
	e := newEnv(t)
	id := e.register(t, "g@example.com", "Jo")

	var out struct {
		RegistrationID string `json:"registrationId"`
		Status         string `json:"status"`
		Amount         int64  `json:"amount"`
	}
	e.client.DoWithHeaders(http.MethodPut, "/api/registrations/"+id, registrationBody("g@example.com", "Jo", "Max"), nil).
		AssertStatus(http.StatusOK).
		JSON(&out)
	if out.RegistrationID != id || out.Amount != 2*3000 {
		t.Errorf("unexpected update response %+v", out)
	}

	e.client.DoWithHeaders(http.MethodPut, "/api/registrations/"+id, registrationBody("g@example.com"), nil).
		AssertStatus(http.StatusBadRequest).
		AssertErrorCode("validation_error")
	e.client.DoWithHeaders(http.MethodPut, "/api/registrations/missing", registrationBody("g@example.com", "Jo"), nil).
		AssertStatus(http.StatusNotFound)

	e.register(t, "other@example.com", "Sam")
	e.client.DoWithHeaders(http.MethodPut, "/api/registrations/"+id, registrationBody("other@example.com", "Jo"), nil).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("email_in_use")

	e.pay(t, id)
	e.client.DoWithHeaders(http.MethodPut, "/api/registrations/"+id, registrationBody("g@example.com", "Jo"), nil).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("invalid_status")
}

func TestCaptureLead(t *testing.T) {
	e := newEnv(t)
	m := e.client.Post("/api/leads", map[string]string{"email": "lead@example.com", "firstName": "Sam"}).
		AssertStatus(http.StatusCreated).
		JSONMap()
	if m["userId"] == "" || m["isLead"] != true {
		t.Errorf("unexpected lead response %v", m)
	}
	if e.mail.Count() != 1 {
		t.Errorf("expected the guide email, got %d", e.mail.Count())
	}
	e.client.Post("/api/leads", map[string]string{"email": "lead@example.com"}).
		AssertStatus(http.StatusBadRequest).
		AssertErrorCode("validation_error")
}

func TestAccount(t *testing.T) {
	e := newEnv(t)
	id := e.register(t, "g@example.com", "Jo")
	user, err := e.store.UserByEmail(context.Background(), "g@example.com")
	if err != nil {
		t.Fatalf("user by email: %v", err)
	}

	var acct store.Account
	e.client.Get("/api/accounts/" + user.ExternalID).AssertStatus(http.StatusOK).JSON(&acct)
	if acct.User.Email != "g@example.com" || len(acct.Players) != 1 ||
		len(acct.Registrations) != 1 || acct.Registrations[0].ID != id {
		t.Errorf("unexpected account %+v", acct)
	}
	e.client.Get("/api/accounts/nobody").
		AssertStatus(http.StatusNotFound).
		AssertErrorCode("not_found")
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestAdminAuth(t *testing.T) {
	e := newEnv(t)

	e.client.Get("/admin/registrations").
		AssertStatus(http.StatusUnauthorized).
		AssertErrorCode("unauthorized")
	e.client.WithToken("not-a-token").Get("/admin/registrations").
		AssertStatus(http.StatusUnauthorized)
	e.desk(t).Get("/admin/registrations").
		AssertStatus(http.StatusForbidden).
		AssertErrorCode("forbidden")
	e.client.Post("/admin/login", map[string]string{"password": "wrong"}).
		AssertStatus(http.StatusUnauthorized)

	e.admin().Registrations().AssertStatus(http.StatusOK)
	e.client.Get("/admin/health").AssertStatus(http.StatusOK).AssertBodyContains(`"ok"`)
}

func TestAdminSweep(t *testing.T) {
	e := newEnv(t)
	ac := e.admin()
	stale := e.register(t, "old@example.com", "Jo")

	ac.Post("/admin/time/advance", map[string]string{"duration": "90m"}).AssertStatus(http.StatusOK)
	fresh := e.register(t, "new@example.com", "Sam")

	var candidates struct {
		Registrations []store.Registration `json:"registrations"`
	}
	ac.Get("/admin/abandoned?hours=1").AssertStatus(http.StatusOK).JSON(&candidates)
	if len(candidates.Registrations) != 1 || candidates.Registrations[0].ID != stale {
		t.Fatalf("expected only the stale registration, got %+v", candidates.Registrations)
	}

	m := ac.Sweep(1).AssertStatus(http.StatusOK).JSONMap()
	if m["abandoned"] != float64(1) {
		t.Errorf("expected 1 abandoned, got %v", m["abandoned"])
	}
	if got := e.status(t, stale); got.Status != store.StatusAbandoned {
		t.Errorf("expected stale registration abandoned, got %s", got.Status)
	}
	if got := e.status(t, fresh); got.Status != store.StatusPendingPayment {
		t.Errorf("expected fresh registration pending, got %s", got.Status)
	}

	ac.Post("/admin/sweep?hours=0", nil).AssertStatus(http.StatusBadRequest)
	ac.Post("/admin/sweep?hours=abc", nil).AssertStatus(http.StatusBadRequest)
}

func TestAdminResendAndDelete(t *testing.T) {
	e := newEnv(t)
	ac := e.admin()

	pending := e.register(t, "p@example.com", "Jo")
	ac.ResendConfirmation(pending).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("invalid_status")

	paid := e.register(t, "g@example.com", "Sam")
	e.pay(t, paid)
	ac.ResendConfirmation(paid).AssertStatus(http.StatusOK)
	ac.ResendConfirmation(paid).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("resend_too_soon")
	if e.mail.Count() != 2 {
		t.Errorf("expected original plus resend, got %d emails", e.mail.Count())
	}

	var guardians struct {
		Guardians []store.GuardianSummary `json:"guardians"`
	}
	ac.Get("/admin/guardians").AssertStatus(http.StatusOK).JSON(&guardians)
	if len(guardians.Guardians) != 2 {
		t.Errorf("expected 2 guardians, got %d", len(guardians.Guardians))
	}

	ac.Delete("/admin/registrations/" + pending).AssertStatus(http.StatusOK)
	ac.Get("/admin/registrations/" + pending).AssertStatus(http.StatusNotFound)
	ac.Delete("/admin/registrations/" + pending).AssertStatus(http.StatusNotFound)
}

func TestAdminUsersAndDeletes(t *testing.T) {
	e := newEnv(t)
	ac := e.admin()
	id := e.register(t, "g@example.com", "Jo", "Max")
	e.client.Post("/api/leads", map[string]string{"email": "lead@example.com", "firstName": "Sam"}).
		AssertStatus(http.StatusCreated)

	e.client.Get("/admin/users").AssertStatus(http.StatusUnauthorized)
	var users struct {
		Users []store.UserSummary `json:"users"`
	}
	ac.Get("/admin/users").AssertStatus(http.StatusOK).JSON(&users)
	if len(users.Users) != 2 {
		t.Fatalf("expected 2 users, got %+v", users.Users)
	}

	reg, err := e.store.GetRegistration(context.Background(), id)
	if err != nil {
		t.Fatalf("get registration: %v", err)
	}
	ac.Delete("/admin/players/" + reg.Players[0].ID).AssertStatus(http.StatusOK)
	ac.Delete("/admin/players/" + reg.Players[0].ID).AssertStatus(http.StatusNotFound)

	ac.Delete("/admin/guardians/" + reg.GuardianID).AssertStatus(http.StatusOK)
	ac.Get("/admin/registrations/" + id).AssertStatus(http.StatusNotFound)

	for _, u := range users.Users {
		ac.Delete("/admin/users/" + u.ID).AssertStatus(http.StatusOK)
	}
	ac.Get("/admin/users").AssertStatus(http.StatusOK).JSON(&users)
	if len(users.Users) != 0 {
		t.Errorf("expected no users left, got %+v", users.Users)
	}
}

func TestAdminRosterNotConfigured(t *testing.T) {
	e := newEnv(t)
	e.admin().Post("/admin/roster/export", nil).
		AssertStatus(http.StatusServiceUnavailable).
		AssertErrorCode("not_configured")
}

func TestAdminRequestLog(t *testing.T) {
	e := newEnv(t)
	ac := e.admin()
	e.client.Get("/api/catalog")

	var entries []server.RequestLogEntry
	ac.GetRequests().AssertStatus(http.StatusOK).JSON(&entries)
	found := false
	for _, entry := range entries {
		if entry.Path == "/api/catalog" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected /api/catalog in request log, got %+v", entries)
	}
}

// ---------------------------------------------------------------------------
// Check-in
// ---------------------------------------------------------------------------

func TestCheckInLoginSetsCookie(t *testing.T) {
	e := newEnv(t)

	resp := e.client.Post("/api/checkin/login", map[string]string{"password": checkInPassword}).
		AssertStatus(http.StatusOK)
	c := resp.Cookie(auth.SessionCookie)
	if c == nil || c.Value == "" || !c.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie, got %+v", c)
	}

	m := e.client.DoWithHeaders(http.MethodGet, "/api/checkin/session", nil, map[string]string{
		"Cookie": auth.SessionCookie + "=" + c.Value,
	}).AssertStatus(http.StatusOK).JSONMap()
	if m["authenticated"] != true || m["role"] != auth.RoleCheckIn {
		t.Errorf("expected authenticated session, got %v", m)
	}
	if m := e.client.Get("/api/checkin/session").JSONMap(); m["authenticated"] != false {
		t.Errorf("expected anonymous session, got %v", m)
	}

	e.client.Post("/api/checkin/login", map[string]string{"password": "nope"}).
		AssertStatus(http.StatusUnauthorized)
	e.client.Get("/api/checkin/players").AssertStatus(http.StatusUnauthorized)
}

func TestCheckInWalkInAndToggle(t *testing.T) {
	e := newEnv(t)
	desk := e.desk(t)

	var walkIn store.Registration
	desk.Post("/api/checkin/walk-ins", map[string]string{
		"email":     "walkin@example.com",
		"firstName": "Ava",
		"lastName":  "Lee",
		"birthdate": "2012-02-02",
	}).AssertStatus(http.StatusCreated).JSON(&walkIn)
	if !walkIn.IsWalkIn || len(walkIn.Players) != 1 {
		t.Fatalf("unexpected walk-in %+v", walkIn)
	}
	playerID := walkIn.Players[0].ID

	// An unpaid online registration is not on the board.
	online := e.register(t, "g@example.com", "Jo")

	var board struct {
		Players []store.BoardPlayer `json:"players"`
	}
	desk.Get("/api/checkin/players").AssertStatus(http.StatusOK).JSON(&board)
	if len(board.Players) != 1 || board.Players[0].ID != playerID || board.Players[0].CheckInCode == nil {
		t.Fatalf("expected only the walk-in with a code, got %+v", board.Players)
	}

	var pr store.PlayerRegistration
	desk.Post("/api/checkin/toggle", map[string]any{"playerId": playerID, "checkIn": true}).
		AssertStatus(http.StatusOK).
		JSON(&pr)
	if pr.CheckedInAt == nil {
		t.Errorf("expected checked in, got %+v", pr)
	}

	reg, err := e.store.GetRegistration(context.Background(), online)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	desk.Post("/api/checkin/toggle", map[string]any{"playerId": reg.Players[0].ID, "checkIn": true}).
		AssertStatus(http.StatusConflict).
		AssertErrorCode("not_eligible")
	desk.Post("/api/checkin/toggle", map[string]any{"checkIn": true}).
		AssertStatus(http.StatusBadRequest)

	desk.Post("/api/checkin/walk-ins", map[string]string{"email": "x@example.com"}).
		AssertStatus(http.StatusBadRequest).
		AssertErrorCode("validation_error")
}

func TestCompleteRegistrationAtDesk(t *testing.T) {
	e := newEnv(t)
	var walkIn store.Registration
	e.desk(t).Post("/api/checkin/walk-ins", map[string]string{
		"email":     "walkin@example.com",
		"firstName": "Ava",
		"lastName":  "Lee",
		"birthdate": "2012-02-02",
	}).AssertStatus(http.StatusCreated).JSON(&walkIn)

	ac := e.admin()
	var reg store.Registration
	ac.Post("/admin/players/"+walkIn.Players[0].ID+"/complete-registration", nil).
		AssertStatus(http.StatusOK).
		JSON(&reg)
	if reg.Status != store.StatusCompleted {
		t.Errorf("expected completed, got %s", reg.Status)
	}
	ac.Post("/admin/players/"+walkIn.Players[0].ID+"/complete-registration", nil).
		AssertStatus(http.StatusNotFound)
	if e.mail.Count() != 0 {
		t.Errorf("expected desk completion to send no email, got %d", e.mail.Count())
	}
}

func TestCheckInEventStream(t *testing.T) {
	e := newEnv(t)
	desk := e.desk(t)

	var walkIn store.Registration
	desk.Post("/api/checkin/walk-ins", map[string]string{
		"email":     "walkin@example.com",
		"firstName": "Ava",
		"lastName":  "Lee",
		"birthdate": "2012-02-02",
	}).AssertStatus(http.StatusCreated).JSON(&walkIn)

	e.client.Get("/api/checkin/events").AssertStatus(http.StatusUnauthorized)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var login struct {
		Token string `json:"token"`
	}
	e.client.Post("/api/checkin/login", map[string]string{"password": checkInPassword}).JSON(&login)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/api/checkin/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: login.Token})
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		t.Helper()
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "data: ") {
				return line
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	if first := next(); !strings.Contains(first, `"type":"connected"`) {
		t.Fatalf("expected connected first, got %s", first)
	}

	desk.Post("/api/checkin/toggle", map[string]any{"playerId": walkIn.Players[0].ID, "checkIn": true}).
		AssertStatus(http.StatusOK)

	update := next()
	if !strings.Contains(update, `"type":"checkin_updated"`) ||
		!strings.Contains(update, `"playerId":"`+walkIn.Players[0].ID+`"`) ||
		!strings.Contains(update, `"isCheckedIn":true`) {
		t.Errorf("unexpected update %s", update)
	}
}
