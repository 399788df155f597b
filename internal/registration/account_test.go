package registration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/precisionheat/tryouts/internal/store"
)

func TestCaptureLeadSendsGuide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.svc.CaptureLead(ctx, LeadInput{Email: " Lead@Example.com ", FirstName: "Sam"})
	if err != nil {
		t.Fatalf("capture lead: %v", err)
	}
	if !user.IsLead || user.LeadSource != LeadSourceGuide || user.Email != "lead@example.com" {
		t.Errorf("unexpected lead: %+v", user)
	}
	msgs := h.mail.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 guide email, got %d", len(msgs))
	}
	if msgs[0].To != "lead@example.com" || !strings.Contains(msgs[0].HTML, "https://tryouts.example/downloads/tryout-guide.pdf") {
		t.Errorf("unexpected guide email: %+v", msgs[0])
	}

	// A repeat download keeps a single user.
	again, err := h.svc.CaptureLead(ctx, LeadInput{Email: "lead@example.com", FirstName: "Sam"})
	if err != nil {
		t.Fatalf("capture lead again: %v", err)
	}
	if again.ID != user.ID {
		t.Errorf("expected the same user, got %s and %s", user.ID, again.ID)
	}
}

func TestCaptureLeadValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name  string
		in    LeadInput
		field string
	}{
		{"missing email", LeadInput{FirstName: "Sam"}, "email"},
		{"bad email", LeadInput{Email: "nope", FirstName: "Sam"}, "email"},
		{"missing name", LeadInput{Email: "lead@example.com"}, "firstName"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CaptureLead(context.Background(), tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Errorf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}
	if n := h.mail.Count(); n != 0 {
		t.Errorf("expected no email, got %d", n)
	}
}

func TestCaptureLeadEmailFailureKeepsLead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mail.FailWith(errors.New("smtp down"))

	_, err := h.svc.CaptureLead(ctx, LeadInput{Email: "lead@example.com", FirstName: "Sam"})
	if !errors.Is(err, ErrEmailUnavailable) {
		t.Fatalf("expected ErrEmailUnavailable, got %v", err)
	}
	user, err := h.store.UserByEmail(ctx, "lead@example.com")
	if err != nil {
		t.Fatalf("lead not saved: %v", err)
	}
	if !user.IsLead {
		t.Errorf("expected a lead, got %+v", user)
	}
}

func TestUpdatePendingRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.create(t, "g@example.com", "Jo")

	got, err := h.svc.Update(ctx, reg.ID, UpdateInput{
		GuardianEmail: "g@example.com",
		Players: []PlayerInput{
			{FirstName: "Jo", LastName: "Doe", Birthdate: "2011-05-01", Gender: "female"},
			{FirstName: "Max", LastName: "Doe", Birthdate: "2013-02-03", Gender: "male"},
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(got.Players) != 2 || got.Status != store.StatusPendingPayment {
		t.Fatalf("unexpected registration: %+v", got)
	}
	if amount := ExpectedAmount(got); amount != 6000 {
		t.Errorf("expected amount 6000 for two players, got %d", amount)
	}

	// The guardian can pay for the updated registration.
	payload, sig := succeeded(t, reg.ID, 6000)
	if outcome, err := h.svc.ReconcileWebhook(ctx, payload, sig); err != nil || outcome != OutcomeCompleted {
		t.Fatalf("reconcile: %s %v", outcome, err)
	}

	_, err = h.svc.Update(ctx, reg.ID, UpdateInput{
		GuardianEmail: "g@example.com",
		Players:       []PlayerInput{{FirstName: "Jo", LastName: "Doe", Birthdate: "2011-05-01", Gender: "female"}},
	})
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending for a completed registration, got %v", err)
	}
	if got := h.status(t, reg.ID); len(got.Players) != 2 {
		t.Errorf("expected completed players untouched, got %d", len(got.Players))
	}
}

func TestUpdateChangesGuardianEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.create(t, "old@example.com", "Jo")

	got, err := h.svc.Update(ctx, reg.ID, UpdateInput{
		GuardianEmail: "New@Example.com",
		Players:       []PlayerInput{{FirstName: "Jo", LastName: "Doe", Birthdate: "2011-05-01", Gender: "female"}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.GuardianEmail != "new@example.com" {
		t.Errorf("expected new guardian email, got %s", got.GuardianEmail)
	}
	user, err := h.store.UserByEmail(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("user by email: %v", err)
	}
	if user.ExternalID == "" {
		t.Errorf("expected an identity subject for the new email")
	}

	// Another guardian's email cannot be taken over.
	other := h.create(t, "other@example.com", "Max")
	_, err = h.svc.Update(ctx, other.ID, UpdateInput{
		GuardianEmail: "new@example.com",
		Players:       []PlayerInput{{FirstName: "Max", LastName: "Doe", Birthdate: "2011-05-01", Gender: "male"}},
	})
	if !errors.Is(err, ErrEmailInUse) {
		t.Errorf("expected ErrEmailInUse, got %v", err)
	}
}

func TestUpdateValidation(t *testing.T) {
	h := newHarness(t)
	reg := h.create(t, "g@example.com", "Jo")

	_, err := h.svc.Update(context.Background(), reg.ID, UpdateInput{GuardianEmail: "g@example.com"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "players" {
		t.Errorf("expected players validation error, got %v", err)
	}
	_, err = h.svc.Update(context.Background(), "missing", UpdateInput{
		GuardianEmail: "g@example.com",
		Players:       []PlayerInput{{FirstName: "Jo", LastName: "Doe", Birthdate: "2011-05-01", Gender: "female"}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.create(t, "g@example.com", "Jo", "Max")

	user, err := h.store.UserByEmail(ctx, "g@example.com")
	if err != nil {
		t.Fatalf("user by email: %v", err)
	}
	acct, err := h.svc.Account(ctx, user.ExternalID)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.User.ID != user.ID || acct.Guardian.ID != reg.GuardianID {
		t.Errorf("unexpected account owner: %+v", acct)
	}
	if len(acct.Players) != 2 || len(acct.Registrations) != 1 || acct.Registrations[0].ID != reg.ID {
		t.Errorf("unexpected account contents: %+v", acct)
	}

	if _, err := h.svc.Account(ctx, "local_unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown subject, got %v", err)
	}
}

func TestAdminDeletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.create(t, "g@example.com", "Jo", "Max")

	if err := h.svc.DeletePlayer(ctx, reg.Players[0].ID); err != nil {
		t.Fatalf("delete player: %v", err)
	}
	if got := h.status(t, reg.ID); len(got.Players) != 1 {
		t.Errorf("expected 1 player left, got %d", len(got.Players))
	}
	if err := h.svc.DeletePlayer(ctx, reg.Players[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a deleted player, got %v", err)
	}

	if err := h.svc.DeleteGuardian(ctx, reg.GuardianID); err != nil {
		t.Fatalf("delete guardian: %v", err)
	}
	if _, err := h.store.GetRegistration(ctx, reg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected the registration gone, got %v", err)
	}
	user, err := h.store.UserByEmail(ctx, "g@example.com")
	if err != nil {
		t.Fatalf("expected the user kept: %v", err)
	}

	if err := h.svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := h.store.UserByEmail(ctx, "g@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected the user gone, got %v", err)
	}
}
