package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/precisionheat/tryouts/internal/mailer"
	"github.com/precisionheat/tryouts/internal/store"
)

// LeadSourceGuide marks leads captured by the free guide download.
const LeadSourceGuide = "tryout_guide"

// LeadInput is a guide download request.
type LeadInput struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
}

// CaptureLead flags email as a lead and sends the guide. The lead is kept
// even when the email fails; the failure is returned as ErrEmailUnavailable.
func (s *Service) CaptureLead(ctx context.Context, in LeadInput) (user store.User, err error) {
	ctx, span := s.start(ctx, "capture_lead")
	defer func() { finish(span, err) }()

	if err := validateEmail("email", in.Email); err != nil {
		return store.User{}, err
	}
	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" {
		return store.User{}, invalid("firstName", "is required")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))

	user, err = s.store.CaptureLead(ctx, email, LeadSourceGuide, s.clock.Now())
	if err != nil {
		s.logger.Error("capture lead failed", "err", err)
		return store.User{}, err
	}

	msg, err := mailer.RenderLeadGuide(email, mailer.LeadGuideData{
		FirstName:    firstName,
		TryoutName:   s.catalog.Name,
		GuideURL:     s.guideURL(),
		RegisterURL:  s.baseURL + "/#tryouts",
		ContactEmail: s.catalog.ContactEmail,
	})
	if err != nil {
		return store.User{}, err
	}
	if s.mailer == nil {
		return store.User{}, fmt.Errorf("%w: no mailer configured", ErrEmailUnavailable)
	}
	id, err := s.mailer.Send(ctx, msg)
	if err != nil {
		s.logger.Error("lead guide email failed", "user_id", user.ID, "err", err)
		return store.User{}, fmt.Errorf("%w: %v", ErrEmailUnavailable, err)
	}
	s.logger.Info("lead captured", "user_id", user.ID, "message_id", id)
	return user, nil
}

func (s *Service) guideURL() string {
	if s.catalog.GuideURL != "" {
		return s.catalog.GuideURL
	}
	return s.baseURL + "/downloads/tryout-guide.pdf"
}

// UpdateInput replaces the guardian email and players of a registration.
type UpdateInput struct {
	GuardianEmail string        `json:"guardianEmail"`
	Players       []PlayerInput `json:"players"`
}

// Update edits a registration that is still awaiting payment. The promo
// and unit price recorded at creation are kept, so the next checkout is
// priced for the new player count.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (reg store.Registration, err error) {
	ctx, span := s.start(ctx, "update",
		attribute.String("registration.id", id),
		attribute.Int("players", len(in.Players)),
	)
	defer func() { finish(span, err) }()

	now := s.clock.Now()
	if err := validateEmail("guardianEmail", in.GuardianEmail); err != nil {
		return store.Registration{}, err
	}
	if err := validatePlayers(in.Players, now); err != nil {
		return store.Registration{}, err
	}
	current, err := s.store.GetRegistration(ctx, id)
	if err != nil {
		return store.Registration{}, err
	}
	if current.Status != store.StatusPendingPayment {
		return store.Registration{}, fmt.Errorf("registration %s is %s: %w", id, current.Status, ErrNotPending)
	}

	email := strings.ToLower(strings.TrimSpace(in.GuardianEmail))
	var subject string
	if email != current.GuardianEmail {
		subject, err = s.identity.EnsureUser(ctx, email)
		if err != nil {
			s.logger.Error("identity lookup failed", "err", err)
			return store.Registration{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
		}
	}

	reg, err = s.store.UpdateRegistrationPlayers(ctx, id, store.RegistrationUpdate{
		GuardianEmail: email,
		ExternalID:    subject,
		Players:       playerDrafts(in.Players),
	}, now)
	if errors.Is(err, store.ErrInvalidStatus) {
		return store.Registration{}, fmt.Errorf("registration %s: %w", id, ErrNotPending)
	}
	if err != nil {
		return store.Registration{}, err
	}
	s.logger.Info("registration updated", "registration_id", reg.ID, "players", len(reg.Players))
	return reg, nil
}

// Account returns the guardian account linked to an identity subject.
func (s *Service) Account(ctx context.Context, subject string) (store.Account, error) {
	return s.store.AccountBySubject(ctx, subject)
}

// DeletePlayer removes a player from every registration.
func (s *Service) DeletePlayer(ctx context.Context, id string) error {
	if err := s.store.DeletePlayer(ctx, id); err != nil {
		return err
	}
	s.logger.Info("player deleted", "player_id", id)
	return nil
}

// DeleteGuardian removes a guardian with their players, registrations, and
// payments.
func (s *Service) DeleteGuardian(ctx context.Context, id string) error {
	if err := s.store.DeleteGuardian(ctx, id); err != nil {
		return err
	}
	s.logger.Info("guardian deleted", "guardian_id", id)
	return nil
}

// DeleteUser removes a user and any guardian data they own.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logger.Info("user deleted", "user_id", id)
	return nil
}
