package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// eligibleClause restricts registrations to those whose players may check in.
const eligibleClause = `(r.status = 'COMPLETED' OR (r.status = 'PENDING_PAYMENT' AND r.is_walk_in = 1))`

// CodePicker chooses one code from a non-empty list of free check-in codes.
type CodePicker func(free []int) int

// ListCheckInBoard returns every player with at least one eligible
// registration, sorted by name, each with its eligible registrations newest first.
func (s *Store) ListCheckInBoard(ctx context.Context) ([]BoardPlayer, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+playerColumns+`, pr.id, pr.registration_id, pr.checked_in_at, pr.checked_out_at
FROM players p
JOIN player_registrations pr ON pr.player_id = p.id
JOIN registrations r ON r.id = pr.registration_id
WHERE `+eligibleClause+`
ORDER BY p.last_name, p.first_name, p.id, r.created_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("list check-in board: %w", err)
	}
	defer rows.Close()

	board := []BoardPlayer{}
	for rows.Next() {
		var (
			entry       BoardEntry
			in, out     sql.NullInt64
			playerEntry BoardPlayer
		)
		p, err := scanPlayer(rows, &entry.PlayerRegistrationID, &entry.RegistrationID, &in, &out)
		if err != nil {
			return nil, fmt.Errorf("scan board row: %w", err)
		}
		entry.CheckedInAt = nullableTime(in)
		entry.CheckedOutAt = nullableTime(out)

		if n := len(board); n > 0 && board[n-1].ID == p.ID {
			board[n-1].Registrations = append(board[n-1].Registrations, entry)
			continue
		}
		playerEntry.Player = p
		playerEntry.Registrations = []BoardEntry{entry}
		board = append(board, playerEntry)
	}
	return board, rows.Err()
}

// AssignCheckInCodes gives every eligible player without a code a unique
// code in [MinCheckInCode, MaxCheckInCode]. It returns how many were assigned,
// and ErrCodesExhausted when some players are still without one.
func (s *Store) AssignCheckInCodes(ctx context.Context, pick CodePicker) (int, error) {
	assigned := 0
	err := s.inTx(ctx, "assign check-in codes", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT DISTINCT p.id FROM players p
JOIN player_registrations pr ON pr.player_id = p.id
JOIN registrations r ON r.id = pr.registration_id
WHERE p.check_in_code IS NULL AND `+eligibleClause+`
ORDER BY p.created_at, p.id`)
		if err != nil {
			return fmt.Errorf("list players without codes: %w", err)
		}
		var pending []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan player id: %w", err)
			}
			pending = append(pending, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate players without codes: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		free, err := freeCheckInCodes(ctx, tx)
		if err != nil {
			return err
		}
		for _, id := range pending {
			if len(free) == 0 {
				return nil
			}
			code, rest := takeCode(free, pick)
			free = rest
			if _, err := tx.ExecContext(ctx, `UPDATE players SET check_in_code = ? WHERE id = ?`, code, id); err != nil {
				return fmt.Errorf("assign check-in code: %w", err)
			}
			assigned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var missing int
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(DISTINCT p.id) FROM players p
JOIN player_registrations pr ON pr.player_id = p.id
JOIN registrations r ON r.id = pr.registration_id
WHERE p.check_in_code IS NULL AND `+eligibleClause).Scan(&missing); err != nil {
		return assigned, fmt.Errorf("count players without codes: %w", err)
	}
	if missing > 0 {
		return assigned, ErrCodesExhausted
	}
	return assigned, nil
}

func freeCheckInCodes(ctx context.Context, q queryer) ([]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT check_in_code FROM players WHERE check_in_code IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list used check-in codes: %w", err)
	}
	defer rows.Close()
	used := make(map[int]bool)
	for rows.Next() {
		var code int
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan check-in code: %w", err)
		}
		used[code] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	free := make([]int, 0, MaxCheckInCode-MinCheckInCode+1)
	for c := MinCheckInCode; c <= MaxCheckInCode; c++ {
		if !used[c] {
			free = append(free, c)
		}
	}
	return free, nil
}

// takeCode removes the picked code from free.
func takeCode(free []int, pick CodePicker) (int, []int) {
	code := free[0]
	if pick != nil {
		code = pick(free)
	}
	rest := make([]int, 0, len(free)-1)
	for _, c := range free {
		if c != code {
			rest = append(rest, c)
		}
	}
	return code, rest
}

// ToggleCheckIn records a check-in (checked_in_at set, checked_out_at
// cleared) or a check-out (the reverse) on the player's most recent eligible
// registration.
func (s *Store) ToggleCheckIn(ctx context.Context, playerID string, checkIn bool, now time.Time) (PlayerRegistration, error) {
	var pr PlayerRegistration
	err := s.inTx(ctx, "toggle check-in", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
SELECT pr.id, pr.player_id, pr.registration_id
FROM player_registrations pr
JOIN registrations r ON r.id = pr.registration_id
WHERE pr.player_id = ? AND `+eligibleClause+`
ORDER BY r.created_at DESC, r.id
LIMIT 1`, playerID).Scan(&pr.ID, &pr.PlayerID, &pr.RegistrationID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("player %s: %w", playerID, ErrNotEligible)
		}
		if err != nil {
			return fmt.Errorf("lookup player registration: %w", err)
		}

		if checkIn {
			_, err = tx.ExecContext(ctx,
				`UPDATE player_registrations SET checked_in_at = ?, checked_out_at = NULL WHERE id = ?`,
				toMillis(now), pr.ID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE player_registrations SET checked_in_at = NULL, checked_out_at = ? WHERE id = ?`,
				toMillis(now), pr.ID)
		}
		if err != nil {
			return fmt.Errorf("update attendance: %w", err)
		}

		var in, out sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT checked_in_at, checked_out_at FROM player_registrations WHERE id = ?`, pr.ID,
		).Scan(&in, &out); err != nil {
			return fmt.Errorf("reload attendance: %w", err)
		}
		pr.CheckedInAt = nullableTime(in)
		pr.CheckedOutAt = nullableTime(out)
		return nil
	})
	if err != nil {
		return PlayerRegistration{}, err
	}
	return pr, nil
}

// CreateWalkIn persists a walk-in registration (PENDING_PAYMENT, eligible
// for check-in) and assigns its players check-in codes in the same transaction.
func (s *Store) CreateWalkIn(ctx context.Context, d RegistrationDraft, pick CodePicker) (Registration, error) {
	d.IsWalkIn = true
	if err := validateDraft(d); err != nil {
		return Registration{}, err
	}
	var reg Registration
	err := s.inTx(ctx, "create walk-in", func(tx *sql.Tx) error {
		regID, playerIDs, err := s.insertRegistration(ctx, tx, d, StatusPendingPayment)
		if err != nil {
			return err
		}
		free, err := freeCheckInCodes(ctx, tx)
		if err != nil {
			return err
		}
		for _, id := range playerIDs {
			if len(free) == 0 {
				break
			}
			var code int
			code, free = takeCode(free, pick)
			if _, err := tx.ExecContext(ctx, `UPDATE players SET check_in_code = ? WHERE id = ?`, code, id); err != nil {
				return fmt.Errorf("assign check-in code: %w", err)
			}
		}
		reg, err = getRegistration(ctx, tx, regID)
		return err
	})
	if err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// CompleteAtDesk moves the player's most recent PENDING_PAYMENT registration
// to COMPLETED, for guardians who pay at the front desk.
func (s *Store) CompleteAtDesk(ctx context.Context, playerID string, now time.Time) (Registration, error) {
	var reg Registration
	err := s.inTx(ctx, "complete at desk", func(tx *sql.Tx) error {
		var regID string
		err := tx.QueryRowContext(ctx, `
SELECT r.id FROM registrations r
JOIN player_registrations pr ON pr.registration_id = r.id
WHERE pr.player_id = ? AND r.status = ?
ORDER BY r.created_at DESC, r.id
LIMIT 1`, playerID, string(StatusPendingPayment)).Scan(&regID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("pending registration for player %s: %w", playerID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup pending registration: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
UPDATE registrations SET status = ?, completed_at = ?, updated_at = ?
WHERE id = ? AND status = ?`,
			string(StatusCompleted), toMillis(now), toMillis(now), regID, string(StatusPendingPayment))
		if err != nil {
			return fmt.Errorf("complete registration: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("registration %s: %w", regID, ErrInvalidStatus)
		}
		reg, err = getRegistration(ctx, tx, regID)
		return err
	})
	if err != nil {
		return Registration{}, err
	}
	return reg, nil
}
