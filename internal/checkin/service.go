package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/precisionheat/tryouts/internal/catalog"
	"github.com/precisionheat/tryouts/internal/clock"
	"github.com/precisionheat/tryouts/internal/identity"
	"github.com/precisionheat/tryouts/internal/store"
)

// WalkInTryoutName labels registrations created at the front desk.
const WalkInTryoutName = "Walk-in Registration"

// DefaultHeartbeat is how often idle streams get a heartbeat.
const DefaultHeartbeat = 30 * time.Second

var (
	// ErrNotEligible is returned when a player has no registration that
	// allows check-in.
	ErrNotEligible = store.ErrNotEligible
	// ErrInvalidWalkIn is returned for incomplete walk-in details.
	ErrInvalidWalkIn = errors.New("invalid walk-in")
)

// Store is the persistence the check-in board needs.
type Store interface {
	ListCheckInBoard(ctx context.Context) ([]store.BoardPlayer, error)
	AssignCheckInCodes(ctx context.Context, pick store.CodePicker) (int, error)
	ToggleCheckIn(ctx context.Context, playerID string, checkIn bool, now time.Time) (store.PlayerRegistration, error)
	CreateWalkIn(ctx context.Context, d store.RegistrationDraft, pick store.CodePicker) (store.Registration, error)
}

// Options configures a Service.
type Options struct {
	Store    Store
	Identity identity.Directory
	Bus      Bus
	Catalog  *catalog.Catalog
	Clock    *clock.Clock
	Logger   *slog.Logger
	// Heartbeat is the idle interval between stream heartbeats.
	Heartbeat time.Duration
	// Pick chooses check-in codes; random when nil.
	Pick store.CodePicker
}

// Service runs the check-in board.
type Service struct {
	store     Store
	identity  identity.Directory
	bus       Bus
	catalog   *catalog.Catalog
	clock     *clock.Clock
	logger    *slog.Logger
	heartbeat time.Duration
	pick      store.CodePicker
}

// NewService creates a check-in service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Identity == nil {
		opts.Identity = identity.NewLocalDirectory()
	}
	if opts.Bus == nil {
		opts.Bus = NewMemoryBus()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Pick == nil {
		opts.Pick = randomCode
	}
	return &Service{
		store:     opts.Store,
		identity:  opts.Identity,
		bus:       opts.Bus,
		catalog:   opts.Catalog,
		clock:     opts.Clock,
		logger:    opts.Logger,
		heartbeat: opts.Heartbeat,
		pick:      opts.Pick,
	}
}

func randomCode(free []int) int {
	return free[rand.IntN(len(free))]
}

// Board returns every eligible player, giving check-in codes to players
// that do not have one yet. Running out of codes is logged; the board is
// still returned.
func (s *Service) Board(ctx context.Context) ([]store.BoardPlayer, error) {
	n, err := s.store.AssignCheckInCodes(ctx, s.pick)
	switch {
	case errors.Is(err, store.ErrCodesExhausted):
		s.logger.Warn("check-in codes exhausted", "assigned", n)
	case err != nil:
		return nil, err
	case n > 0:
		s.logger.Info("assigned check-in codes", "count", n)
	}
	return s.store.ListCheckInBoard(ctx)
}

// Toggle checks a player in or out and broadcasts the change.
func (s *Service) Toggle(ctx context.Context, playerID string, checkIn bool) (store.PlayerRegistration, error) {
	if strings.TrimSpace(playerID) == "" {
		return store.PlayerRegistration{}, fmt.Errorf("player id is required: %w", ErrNotEligible)
	}
	now := s.clock.Now()
	pr, err := s.store.ToggleCheckIn(ctx, playerID, checkIn, now)
	if err != nil {
		return store.PlayerRegistration{}, err
	}
	s.logger.Info("check-in updated", "player_id", playerID, "registration_id", pr.RegistrationID, "checked_in", checkIn)
	s.publish(ctx, UpdateMessage(playerID, checkIn, now))
	return pr, nil
}

// WalkInInput is a player added at the front desk.
type WalkInInput struct {
	GuardianEmail string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Birthdate     string `json:"birthdate"`
	Gender        string `json:"gender,omitempty"`
}

func (in WalkInInput) validate() error {
	switch {
	case strings.TrimSpace(in.FirstName) == "", strings.TrimSpace(in.LastName) == "":
		return fmt.Errorf("first and last name are required: %w", ErrInvalidWalkIn)
	case strings.TrimSpace(in.GuardianEmail) == "":
		return fmt.Errorf("guardian email is required: %w", ErrInvalidWalkIn)
	}
	if _, err := time.Parse(time.DateOnly, strings.TrimSpace(in.Birthdate)); err != nil {
		return fmt.Errorf("birthdate must be YYYY-MM-DD: %w", ErrInvalidWalkIn)
	}
	return nil
}

// AddWalkIn registers a player at the desk. The registration stays
// PENDING_PAYMENT but is flagged as a walk-in, so the player can check in
// right away.
func (s *Service) AddWalkIn(ctx context.Context, in WalkInInput) (store.Registration, error) {
	if err := in.validate(); err != nil {
		return store.Registration{}, err
	}
	gender := strings.TrimSpace(in.Gender)
	if gender == "" {
		gender = "Unknown"
	}
	subject, err := s.identity.EnsureUser(ctx, in.GuardianEmail)
	if err != nil {
		return store.Registration{}, fmt.Errorf("resolve walk-in identity: %w", err)
	}

	now := s.clock.Now()
	reg, err := s.store.CreateWalkIn(ctx, store.RegistrationDraft{
		GuardianEmail: strings.TrimSpace(in.GuardianEmail),
		ExternalID:    subject,
		TryoutName:    WalkInTryoutName,
		UnitPrice:     s.catalog.PricePerPlayer,
		Players: []store.PlayerDraft{{
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
			Birthdate: strings.TrimSpace(in.Birthdate),
			Gender:    gender,
		}},
		CreatedAt: now,
	}, s.pick)
	if err != nil {
		return store.Registration{}, err
	}
	s.logger.Info("walk-in added", "registration_id", reg.ID)
	for _, id := range reg.PlayerIDs() {
		s.publish(ctx, UpdateMessage(id, false, now))
	}
	return reg, nil
}

func (s *Service) publish(ctx context.Context, msg Message) {
	if err := s.bus.Publish(ctx, msg); err != nil {
		s.logger.Warn("check-in broadcast failed", "player_id", msg.PlayerID, "err", err)
	}
}
