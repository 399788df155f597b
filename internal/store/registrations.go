package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const registrationColumns = `r.id, r.guardian_id, u.email, r.tryout_name, r.status, r.is_walk_in,
       r.promo_code, r.unit_price, r.created_at, r.updated_at, r.completed_at,
       r.confirmation_claimed_at, r.confirmation_sent_at, r.confirmation_message_id,
       r.confirmation_error, r.confirmation_resend_at
FROM registrations r
JOIN guardians g ON g.id = r.guardian_id
JOIN users u ON u.id = g.user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (Registration, error) {
	var (
		reg                               Registration
		status                            string
		walkIn                            int
		created, updated                  int64
		completed, claimed, confirmSentAt sql.NullInt64
		resendAt                          sql.NullInt64
	)
	if err := row.Scan(
		&reg.ID, &reg.GuardianID, &reg.GuardianEmail, &reg.TryoutName, &status, &walkIn,
		&reg.PromoCode, &reg.UnitPrice, &created, &updated, &completed,
		&claimed, &confirmSentAt, &reg.ConfirmationMessageID, &reg.ConfirmationError,
		&resendAt,
	); err != nil {
		return Registration{}, err
	}
	reg.Status = Status(status)
	reg.IsWalkIn = walkIn == 1
	reg.CreatedAt = fromMillis(created)
	reg.UpdatedAt = fromMillis(updated)
	reg.CompletedAt = nullableTime(completed)
	reg.ConfirmationClaimedAt = nullableTime(claimed)
	reg.ConfirmationSentAt = nullableTime(confirmSentAt)
	reg.ConfirmationResendAt = nullableTime(resendAt)
	reg.Players = []Player{}
	return reg, nil
}

const playerColumns = `p.id, p.guardian_id, p.first_name, p.last_name, p.birthdate, p.gender, p.check_in_code, p.created_at`

func scanPlayer(row rowScanner, extra ...any) (Player, error) {
	var (
		p       Player
		code    sql.NullInt64
		created int64
	)
	dest := append([]any{&p.ID, &p.GuardianID, &p.FirstName, &p.LastName, &p.Birthdate, &p.Gender, &code, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Player{}, err
	}
	if code.Valid {
		c := int(code.Int64)
		p.CheckInCode = &c
	}
	p.CreatedAt = fromMillis(created)
	return p, nil
}

const paymentColumns = `id, registration_id, processor_ref, amount, currency, status, receipt_url, created_at, updated_at`

func scanPayment(row rowScanner) (Payment, error) {
	var (
		p                Payment
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.RegistrationID, &p.ProcessorRef, &p.Amount, &p.Currency,
		&p.Status, &p.ReceiptURL, &created, &updated); err != nil {
		return Payment{}, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}

// CreateRegistration persists a PENDING_PAYMENT registration with its
// guardian, players, and join rows in one transaction. The user and guardian
// are reused when the email is already known.
func (s *Store) CreateRegistration(ctx context.Context, d RegistrationDraft) (Registration, error) {
	if err := validateDraft(d); err != nil {
		return Registration{}, err
	}
	var reg Registration
	err := s.inTx(ctx, "create registration", func(tx *sql.Tx) error {
		regID, _, err := s.insertRegistration(ctx, tx, d, StatusPendingPayment)
		if err != nil {
			return err
		}
		reg, err = getRegistration(ctx, tx, regID)
		return err
	})
	if err != nil {
		return Registration{}, err
	}
	return reg, nil
}

func validateDraft(d RegistrationDraft) error {
	if strings.TrimSpace(d.GuardianEmail) == "" {
		return fmt.Errorf("guardian email is required")
	}
	if len(d.Players) == 0 {
		return fmt.Errorf("at least one player is required")
	}
	if d.UnitPrice <= 0 {
		return fmt.Errorf("unit price must be positive")
	}
	return nil
}

// insertRegistration writes the rows for d and returns the registration and player ids.
func (s *Store) insertRegistration(ctx context.Context, tx *sql.Tx, d RegistrationDraft, status Status) (string, []string, error) {
	now := d.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	guardianID, err := s.resolveGuardian(ctx, tx, d.GuardianEmail, d.ExternalID, now)
	if err != nil {
		return "", nil, err
	}

	regID := s.newID()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO registrations (id, guardian_id, tryout_name, status, is_walk_in, promo_code, unit_price, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		regID, guardianID, d.TryoutName, string(status), boolInt(d.IsWalkIn),
		d.PromoCode, d.UnitPrice, toMillis(now), toMillis(now),
	); err != nil {
		return "", nil, fmt.Errorf("insert registration: %w", err)
	}

	playerIDs, err := s.insertPlayers(ctx, tx, guardianID, regID, d.Players, now)
	if err != nil {
		return "", nil, err
	}
	return regID, playerIDs, nil
}

// insertPlayers creates a player row and a join row to regID for each draft.
func (s *Store) insertPlayers(ctx context.Context, tx *sql.Tx, guardianID, regID string, players []PlayerDraft, now time.Time) ([]string, error) {
	playerIDs := make([]string, 0, len(players))
	for _, p := range players {
		playerID := s.newID()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO players (id, guardian_id, first_name, last_name, birthdate, gender, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			playerID, guardianID, strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName),
			p.Birthdate, p.Gender, toMillis(now),
		); err != nil {
			return nil, fmt.Errorf("insert player: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO player_registrations (id, player_id, registration_id) VALUES (?, ?, ?)`,
			s.newID(), playerID, regID,
		); err != nil {
			return nil, fmt.Errorf("insert player registration: %w", err)
		}
		playerIDs = append(playerIDs, playerID)
	}
	return playerIDs, nil
}

func (s *Store) resolveGuardian(ctx context.Context, tx *sql.Tx, email, externalID string, now time.Time) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var userID, currentExternal string
	err := tx.QueryRowContext(ctx, `SELECT id, external_id FROM users WHERE email = ?`, email).
		Scan(&userID, &currentExternal)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		userID = s.newID()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, external_id, role, created_at) VALUES (?, ?, ?, ?, ?)`,
			userID, email, externalID, string(RoleGuardian), toMillis(now),
		); err != nil {
			return "", fmt.Errorf("insert user: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("lookup user: %w", err)
	case currentExternal == "" && externalID != "":
		if _, err := tx.ExecContext(ctx, `UPDATE users SET external_id = ? WHERE id = ?`, externalID, userID); err != nil {
			return "", fmt.Errorf("link user identity: %w", err)
		}
	}

	var guardianID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM guardians WHERE user_id = ?`, userID).Scan(&guardianID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		guardianID = s.newID()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO guardians (id, user_id, created_at) VALUES (?, ?, ?)`,
			guardianID, userID, toMillis(now),
		); err != nil {
			return "", fmt.Errorf("insert guardian: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("lookup guardian: %w", err)
	}
	return guardianID, nil
}

// GetRegistration returns the registration with its players and payment.
func (s *Store) GetRegistration(ctx context.Context, id string) (Registration, error) {
	return getRegistration(ctx, s.db, id)
}

func getRegistration(ctx context.Context, q queryer, id string) (Registration, error) {
	reg, err := scanRegistration(q.QueryRowContext(ctx, `SELECT `+registrationColumns+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Registration{}, fmt.Errorf("registration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Registration{}, fmt.Errorf("get registration: %w", err)
	}
	regs := []Registration{reg}
	if err := attachDetails(ctx, q, regs); err != nil {
		return Registration{}, err
	}
	return regs[0], nil
}

// ListRegistrations returns every registration, newest first.
func (s *Store) ListRegistrations(ctx context.Context) ([]Registration, error) {
	return listRegistrations(ctx, s.db, `ORDER BY r.created_at DESC, r.id`)
}

func listRegistrations(ctx context.Context, q queryer, tail string, args ...any) ([]Registration, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+registrationColumns+` `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	regs := []Registration{}
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	if err := attachDetails(ctx, q, regs); err != nil {
		return nil, err
	}
	return regs, nil
}

// attachDetails fills Players and Payment for each registration in place.
func attachDetails(ctx context.Context, q queryer, regs []Registration) error {
	if len(regs) == 0 {
		return nil
	}
	ids := make([]string, len(regs))
	index := make(map[string]int, len(regs))
	for i, r := range regs {
		ids[i] = r.ID
		index[r.ID] = i
	}

	rows, err := q.QueryContext(ctx, `
SELECT `+playerColumns+`, pr.registration_id
FROM players p
JOIN player_registrations pr ON pr.player_id = p.id
WHERE pr.registration_id IN (`+placeholders(len(ids))+`)
ORDER BY p.last_name, p.first_name, p.id`, stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("list registration players: %w", err)
	}
	for rows.Next() {
		var regID string
		p, err := scanPlayer(rows, &regID)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan player: %w", err)
		}
		i := index[regID]
		regs[i].Players = append(regs[i].Players, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate players: %w", err)
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE registration_id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("list registration payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return fmt.Errorf("scan payment: %w", err)
		}
		payment := p
		regs[index[p.RegistrationID]].Payment = &payment
	}
	return rows.Err()
}

const userColumns = `u.id, u.email, u.external_id, u.role, u.is_lead, u.lead_source, u.created_at`

func scanUser(row rowScanner, extra ...any) (User, error) {
	var (
		u       User
		role    string
		lead    int
		created int64
	)
	dest := append([]any{&u.ID, &u.Email, &u.ExternalID, &role, &lead, &u.LeadSource, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.IsLead = lead == 1
	u.CreatedAt = fromMillis(created)
	return u, nil
}

// UserByEmail returns the user with the given email.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// DeleteRegistration removes a registration with its payment and join rows.
// Players are kept; they may belong to other registrations.
func (s *Store) DeleteRegistration(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete registration", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE registration_id = ?`, id); err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM player_registrations WHERE registration_id = ?`, id); err != nil {
			return fmt.Errorf("delete player registrations: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete registration: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("registration %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
