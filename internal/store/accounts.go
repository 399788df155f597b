package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CaptureLead records email as a marketing lead. An unknown email gets a new
// GUARDIAN user flagged as a lead; a known user is flagged and keeps the
// first lead source it was given.
func (s *Store) CaptureLead(ctx context.Context, email, source string, now time.Time) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, fmt.Errorf("lead email is required")
	}
	var user User
	err := s.inTx(ctx, "capture lead", func(tx *sql.Tx) error {
		_, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.email = ?`, email))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
INSERT INTO users (id, email, external_id, role, is_lead, lead_source, created_at)
VALUES (?, ?, '', ?, 1, ?, ?)`,
				s.newID(), email, string(RoleGuardian), source, toMillis(now),
			); err != nil {
				return fmt.Errorf("insert lead: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup user: %w", err)
		default:
			if _, err := tx.ExecContext(ctx, `
UPDATE users SET is_lead = 1, lead_source = CASE WHEN lead_source = '' THEN ? ELSE lead_source END
WHERE email = ?`, source, email); err != nil {
				return fmt.Errorf("mark lead: %w", err)
			}
		}
		user, err = scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.email = ?`, email))
		if err != nil {
			return fmt.Errorf("reload lead: %w", err)
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListUsers returns every user with their guardian profile, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+userColumns+`, COALESCE(g.id, ''), COALESCE(g.phone, ''),
       (SELECT COUNT(*) FROM players p WHERE p.guardian_id = g.id)
FROM users u
LEFT JOIN guardians g ON g.user_id = u.id
ORDER BY u.created_at DESC, u.id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []UserSummary{}
	for rows.Next() {
		var sum UserSummary
		u, err := scanUser(rows, &sum.GuardianID, &sum.Phone, &sum.Players)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		sum.User = u
		users = append(users, sum)
	}
	return users, rows.Err()
}

// AccountBySubject returns the guardian account linked to an identity
// provider subject.
func (s *Store) AccountBySubject(ctx context.Context, subject string) (Account, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Account{}, fmt.Errorf("account: %w", ErrNotFound)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.external_id = ?`, subject))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("account %s: %w", subject, ErrNotFound)
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account user: %w", err)
	}

	acct := Account{User: u, Players: []Player{}}
	var created int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id, user_id, phone, created_at FROM guardians WHERE user_id = ?`, u.ID,
	).Scan(&acct.Guardian.ID, &acct.Guardian.UserID, &acct.Guardian.Phone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("guardian for %s: %w", subject, ErrNotFound)
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account guardian: %w", err)
	}
	acct.Guardian.Email = u.Email
	acct.Guardian.CreatedAt = fromMillis(created)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players p WHERE p.guardian_id = ? ORDER BY p.last_name, p.first_name, p.id`,
		acct.Guardian.ID)
	if err != nil {
		return Account{}, fmt.Errorf("list account players: %w", err)
	}
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			rows.Close()
			return Account{}, fmt.Errorf("scan player: %w", err)
		}
		acct.Players = append(acct.Players, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Account{}, fmt.Errorf("iterate players: %w", err)
	}

	acct.Registrations, err = listRegistrations(ctx, s.db,
		`WHERE r.guardian_id = ? ORDER BY r.created_at DESC, r.id`, acct.Guardian.ID)
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// UpdateRegistrationPlayers replaces the players of a PENDING_PAYMENT
// registration and updates its guardian email, in one transaction. Players
// that belonged only to this registration are removed. The unit price and
// promo stay as created, so the expected amount follows the new player count.
func (s *Store) UpdateRegistrationPlayers(ctx context.Context, id string, upd RegistrationUpdate, now time.Time) (Registration, error) {
	if len(upd.Players) == 0 {
		return Registration{}, fmt.Errorf("at least one player is required")
	}
	email := strings.ToLower(strings.TrimSpace(upd.GuardianEmail))
	if email == "" {
		return Registration{}, fmt.Errorf("guardian email is required")
	}

	var reg Registration
	err := s.inTx(ctx, "update registration", func(tx *sql.Tx) error {
		var status, guardianID, userID, current string
		err := tx.QueryRowContext(ctx, `
SELECT r.status, r.guardian_id, g.user_id, u.email
FROM registrations r
JOIN guardians g ON g.id = r.guardian_id
JOIN users u ON u.id = g.user_id
WHERE r.id = ?`, id).Scan(&status, &guardianID, &userID, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("registration %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup registration: %w", err)
		}
		if Status(status) != StatusPendingPayment {
			return fmt.Errorf("registration %s is %s: %w", id, status, ErrInvalidStatus)
		}

		if email != current {
			var other string
			err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, email).Scan(&other)
			if err == nil {
				return fmt.Errorf("%s: %w", email, ErrEmailInUse)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lookup email: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
UPDATE users SET email = ?, external_id = CASE WHEN ? = '' THEN external_id ELSE ? END
WHERE id = ?`, email, upd.ExternalID, upd.ExternalID, userID); err != nil {
				return fmt.Errorf("update guardian email: %w", err)
			}
		}

		var previous []string
		rows, err := tx.QueryContext(ctx, `SELECT player_id FROM player_registrations WHERE registration_id = ?`, id)
		if err != nil {
			return fmt.Errorf("list registration players: %w", err)
		}
		for rows.Next() {
			var pid string
			if err := rows.Scan(&pid); err != nil {
				rows.Close()
				return fmt.Errorf("scan player id: %w", err)
			}
			previous = append(previous, pid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate player ids: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM player_registrations WHERE registration_id = ?`, id); err != nil {
			return fmt.Errorf("delete player registrations: %w", err)
		}
		for _, pid := range previous {
			if _, err := tx.ExecContext(ctx, `
DELETE FROM players WHERE id = ?
AND NOT EXISTS (SELECT 1 FROM player_registrations pr WHERE pr.player_id = players.id)`, pid); err != nil {
				return fmt.Errorf("delete player: %w", err)
			}
		}
		if _, err := s.insertPlayers(ctx, tx, guardianID, id, upd.Players, now); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE registrations SET updated_at = ? WHERE id = ? AND status = ?`,
			toMillis(now), id, string(StatusPendingPayment))
		if err != nil {
			return fmt.Errorf("touch registration: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("registration %s: %w", id, ErrInvalidStatus)
		}

		reg, err = getRegistration(ctx, tx, id)
		return err
	})
	if err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// DeletePlayer removes a player and its registration links.
func (s *Store) DeletePlayer(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete player", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM player_registrations WHERE player_id = ?`, id); err != nil {
			return fmt.Errorf("delete player registrations: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete player: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("player %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// DeleteGuardian removes a guardian with all of their players,
// registrations, and payments. The user row is kept.
func (s *Store) DeleteGuardian(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete guardian", func(tx *sql.Tx) error {
		return deleteGuardian(ctx, tx, id)
	})
}

// DeleteUser removes a user and, when they are a guardian, everything
// DeleteGuardian removes.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete user", func(tx *sql.Tx) error {
		var guardianID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM guardians WHERE user_id = ?`, id).Scan(&guardianID)
		switch {
		case err == nil:
			if err := deleteGuardian(ctx, tx, guardianID); err != nil {
				return err
			}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("lookup guardian: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func deleteGuardian(ctx context.Context, tx *sql.Tx, id string) error {
	var found int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM guardians WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("guardian %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup guardian: %w", err)
	}

	steps := []struct {
		what  string
		query string
		args  []any
	}{
		{"payments", `DELETE FROM payments WHERE registration_id IN (SELECT id FROM registrations WHERE guardian_id = ?)`, []any{id}},
		{"player registrations", `DELETE FROM player_registrations
WHERE registration_id IN (SELECT id FROM registrations WHERE guardian_id = ?)
   OR player_id IN (SELECT id FROM players WHERE guardian_id = ?)`, []any{id, id}},
		{"registrations", `DELETE FROM registrations WHERE guardian_id = ?`, []any{id}},
		{"players", `DELETE FROM players WHERE guardian_id = ?`, []any{id}},
		{"guardian", `DELETE FROM guardians WHERE id = ?`, []any{id}},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
			return fmt.Errorf("delete guardian %s: %w", step.what, err)
		}
	}
	return nil
}
