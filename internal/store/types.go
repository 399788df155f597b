// Package store persists guardians, players, registrations, and payments in SQLite.
package store

import "time"

// Status is a registration lifecycle state.
type Status string

// Registration states. COMPLETED and ABANDONED are terminal.
const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusCompleted      Status = "COMPLETED"
	StatusAbandoned      Status = "ABANDONED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Role is a user role.
type Role string

// User roles.
const (
	RoleGuardian Role = "GUARDIAN"
	RolePlayer   Role = "PLAYER"
	RoleAdmin    Role = "ADMIN"
)

// User links an email address to an identity-provider subject.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	ExternalID string    `json:"external_id"`
	Role       Role      `json:"role"`
	IsLead     bool      `json:"is_lead"`
	LeadSource string    `json:"lead_source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Guardian owns players and registrations.
type Guardian struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Player is a registered athlete.
type Player struct {
	ID          string    `json:"id"`
	GuardianID  string    `json:"guardian_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Birthdate   string    `json:"birthdate"`
	Gender      string    `json:"gender"`
	CheckInCode *int      `json:"check_in_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Payment mirrors the processor's view of a registration's payment.
type Payment struct {
	ID             string    `json:"id"`
	RegistrationID string    `json:"registration_id"`
	ProcessorRef   string    `json:"processor_ref"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	ReceiptURL     string    `json:"receipt_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Registration is a guardian's paid-as-a-unit entry of one or more players.
type Registration struct {
	ID                    string     `json:"id"`
	GuardianID            string     `json:"guardian_id"`
	GuardianEmail         string     `json:"guardian_email"`
	TryoutName            string     `json:"tryout_name"`
	Status                Status     `json:"status"`
	IsWalkIn              bool       `json:"is_walk_in"`
	PromoCode             string     `json:"promo_code,omitempty"`
	UnitPrice             int64      `json:"unit_price"`
	Players               []Player   `json:"players"`
	Payment               *Payment   `json:"payment,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	ConfirmationClaimedAt *time.Time `json:"confirmation_claimed_at,omitempty"`
	ConfirmationSentAt    *time.Time `json:"confirmation_sent_at,omitempty"`
	ConfirmationMessageID string     `json:"confirmation_message_id,omitempty"`
	ConfirmationError     string     `json:"confirmation_error,omitempty"`
	ConfirmationResendAt  *time.Time `json:"confirmation_resend_at,omitempty"`
}

// PlayerIDs returns the ids of the registration's players.
func (r Registration) PlayerIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

// PlayerRegistration is the join row carrying day-of-event attendance.
type PlayerRegistration struct {
	ID             string     `json:"id"`
	PlayerID       string     `json:"player_id"`
	RegistrationID string     `json:"registration_id"`
	CheckedInAt    *time.Time `json:"checked_in_at"`
	CheckedOutAt   *time.Time `json:"checked_out_at"`
}

// PlayerDraft is the input for a new player row.
type PlayerDraft struct {
	FirstName string
	LastName  string
	Birthdate string
	Gender    string
}

// RegistrationDraft is the input for CreateRegistration.
type RegistrationDraft struct {
	GuardianEmail string
	ExternalID    string
	TryoutName    string
	PromoCode     string
	UnitPrice     int64
	IsWalkIn      bool
	Players       []PlayerDraft
	CreatedAt     time.Time
}

// RegistrationUpdate replaces the guardian email and players of a pending
// registration.
type RegistrationUpdate struct {
	GuardianEmail string
	// ExternalID, when set, relinks the guardian's user to a new identity subject.
	ExternalID string
	Players    []PlayerDraft
}

// PaymentRecord is the processor-reported payment state to upsert.
type PaymentRecord struct {
	RegistrationID string
	ProcessorRef   string
	Amount         int64
	Currency       string
	Status         string
	ReceiptURL     string
}

// ReconcileResult reports what a ReconcilePayment call changed.
type ReconcileResult struct {
	Registration Registration
	// Completed is true only for the call that moved the row to COMPLETED.
	Completed bool
	// ClaimedConfirmation is true only for the call that set the confirmation marker.
	ClaimedConfirmation bool
}

// WebhookEvent is the diagnostic trail of processor deliveries.
type WebhookEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	RegistrationID string    `json:"registration_id,omitempty"`
	Outcome        string    `json:"outcome"`
	Deliveries     int       `json:"deliveries"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// BoardEntry is one eligible registration of a player on the check-in board.
type BoardEntry struct {
	PlayerRegistrationID string     `json:"id"`
	RegistrationID       string     `json:"registration_id"`
	CheckedInAt          *time.Time `json:"checked_in_at"`
	CheckedOutAt         *time.Time `json:"checked_out_at"`
}

// BoardPlayer is a player eligible for check-in.
type BoardPlayer struct {
	Player
	Registrations []BoardEntry `json:"registrations"`
}

// GuardianSummary is the admin view of a guardian.
type GuardianSummary struct {
	Guardian
	Players       []Player       `json:"players"`
	Registrations []Registration `json:"registrations"`
}

// UserSummary is the admin view of a user.
type UserSummary struct {
	User
	GuardianID string `json:"guardian_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Players    int    `json:"players"`
}

// Account is everything a guardian can see about themselves.
type Account struct {
	User          User           `json:"user"`
	Guardian      Guardian       `json:"guardian"`
	Players       []Player       `json:"players"`
	Registrations []Registration `json:"registrations"`
}

// RosterRow is one player of a completed registration.
type RosterRow struct {
	RegistrationID string
	GuardianEmail  string
	FirstName      string
	LastName       string
	Birthdate      string
	Gender         string
	AmountPaid     int64
	Currency       string
	CompletedAt    time.Time
}
