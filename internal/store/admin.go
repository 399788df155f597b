package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ListGuardians returns every guardian with their players and registrations.
func (s *Store) ListGuardians(ctx context.Context) ([]GuardianSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT g.id, g.user_id, u.email, g.phone, g.created_at
FROM guardians g JOIN users u ON u.id = g.user_id
ORDER BY u.email`)
	if err != nil {
		return nil, fmt.Errorf("list guardians: %w", err)
	}
	guardians := []GuardianSummary{}
	index := map[string]int{}
	for rows.Next() {
		var (
			g       GuardianSummary
			created int64
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.Email, &g.Phone, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan guardian: %w", err)
		}
		g.CreatedAt = fromMillis(created)
		g.Players = []Player{}
		g.Registrations = []Registration{}
		index[g.ID] = len(guardians)
		guardians = append(guardians, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guardians: %w", err)
	}

	prow, err := s.db.QueryContext(ctx, `SELECT `+playerColumns+` FROM players p ORDER BY p.last_name, p.first_name, p.id`)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	for prow.Next() {
		p, err := scanPlayer(prow)
		if err != nil {
			prow.Close()
			return nil, fmt.Errorf("scan player: %w", err)
		}
		if i, ok := index[p.GuardianID]; ok {
			guardians[i].Players = append(guardians[i].Players, p)
		}
	}
	prow.Close()
	if err := prow.Err(); err != nil {
		return nil, fmt.Errorf("iterate players: %w", err)
	}

	regs, err := s.ListRegistrations(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range regs {
		if i, ok := index[r.GuardianID]; ok {
			guardians[i].Registrations = append(guardians[i].Registrations, r)
		}
	}
	return guardians, nil
}

// ListRoster returns one row per player of every COMPLETED registration,
// oldest completion first.
func (s *Store) ListRoster(ctx context.Context) ([]RosterRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id, u.email, p.first_name, p.last_name, p.birthdate, p.gender,
       COALESCE(pay.amount, 0), COALESCE(pay.currency, ''), r.completed_at
FROM registrations r
JOIN guardians g ON g.id = r.guardian_id
JOIN users u ON u.id = g.user_id
JOIN player_registrations pr ON pr.registration_id = r.id
JOIN players p ON p.id = pr.player_id
LEFT JOIN payments pay ON pay.registration_id = r.id
WHERE r.status = ?
ORDER BY r.completed_at, r.id, p.last_name, p.first_name`, string(StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()

	roster := []RosterRow{}
	for rows.Next() {
		var (
			row       RosterRow
			completed sql.NullInt64
		)
		if err := rows.Scan(&row.RegistrationID, &row.GuardianEmail, &row.FirstName, &row.LastName,
			&row.Birthdate, &row.Gender, &row.AmountPaid, &row.Currency, &completed); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		if completed.Valid {
			row.CompletedAt = fromMillis(completed.Int64)
		}
		roster = append(roster, row)
	}
	return roster, rows.Err()
}
