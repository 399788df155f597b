package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ReconcilePayment applies a processor-reported successful payment in one
// transaction: the payment row is upserted (one per registration), the
// registration moves PENDING_PAYMENT -> COMPLETED only if it is still pending,
// and the confirmation marker is claimed only if nobody claimed it before.
// Repeated calls for the same registration are safe; only the first reports
// Completed and ClaimedConfirmation.
func (s *Store) ReconcilePayment(ctx context.Context, rec PaymentRecord, now time.Time) (ReconcileResult, error) {
	if strings.TrimSpace(rec.RegistrationID) == "" {
		return ReconcileResult{}, fmt.Errorf("registration id is required")
	}
	var result ReconcileResult
	err := s.inTx(ctx, "reconcile payment", func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM registrations WHERE id = ?`, rec.RegistrationID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("registration %s: %w", rec.RegistrationID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup registration: %w", err)
		}

		if err := s.upsertPayment(ctx, tx, rec, now); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
UPDATE registrations SET status = ?, completed_at = ?, updated_at = ?
WHERE id = ? AND status = ?`,
			string(StatusCompleted), toMillis(now), toMillis(now),
			rec.RegistrationID, string(StatusPendingPayment),
		)
		if err != nil {
			return fmt.Errorf("complete registration: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete registration rows: %w", err)
		}
		result.Completed = n == 1

		claimed, err := claimConfirmation(ctx, tx, rec.RegistrationID, now)
		if err != nil {
			return err
		}
		result.ClaimedConfirmation = claimed

		result.Registration, err = getRegistration(ctx, tx, rec.RegistrationID)
		return err
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return result, nil
}

func (s *Store) upsertPayment(ctx context.Context, tx *sql.Tx, rec PaymentRecord, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO payments (id, registration_id, processor_ref, amount, currency, status, receipt_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (registration_id) DO UPDATE SET
    processor_ref = excluded.processor_ref,
    amount = excluded.amount,
    currency = excluded.currency,
    status = excluded.status,
    receipt_url = CASE WHEN excluded.receipt_url = '' THEN payments.receipt_url ELSE excluded.receipt_url END,
    updated_at = excluded.updated_at`,
		s.newID(), rec.RegistrationID, rec.ProcessorRef, rec.Amount,
		strings.ToLower(rec.Currency), rec.Status, rec.ReceiptURL,
		toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}

// claimConfirmation sets the confirmation marker on a COMPLETED registration
// if it is unset, reporting whether this call set it.
func claimConfirmation(ctx context.Context, q queryer, id string, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
UPDATE registrations SET confirmation_claimed_at = ?, updated_at = ?
WHERE id = ? AND status = ? AND confirmation_claimed_at IS NULL`,
		toMillis(now), toMillis(now), id, string(StatusCompleted),
	)
	if err != nil {
		return false, fmt.Errorf("claim confirmation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim confirmation rows: %w", err)
	}
	return n == 1, nil
}

// ClaimResend takes the operator resend marker of a COMPLETED registration.
// It fails (false) while an earlier resend taken at or after cutoff is
// outstanding, or while the webhook's own confirmation claimed at or after
// cutoff has neither been sent nor failed. Concurrent callers race on one
// conditional update, so at most one of them wins.
func (s *Store) ClaimResend(ctx context.Context, id string, now, cutoff time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE registrations
SET confirmation_resend_at = ?, confirmation_claimed_at = COALESCE(confirmation_claimed_at, ?), updated_at = ?
WHERE id = ? AND status = ?
  AND (confirmation_resend_at IS NULL OR confirmation_resend_at < ?)
  AND NOT (confirmation_claimed_at IS NOT NULL AND confirmation_claimed_at >= ?
           AND confirmation_sent_at IS NULL AND confirmation_error = '')`,
		toMillis(now), toMillis(now), toMillis(now),
		id, string(StatusCompleted), toMillis(cutoff), toMillis(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("claim resend: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim resend rows: %w", err)
	}
	return n == 1, nil
}

// MarkConfirmationSent records a delivered confirmation email.
func (s *Store) MarkConfirmationSent(ctx context.Context, id, messageID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE registrations
SET confirmation_sent_at = ?, confirmation_message_id = ?, confirmation_error = '',
    confirmation_claimed_at = COALESCE(confirmation_claimed_at, ?), updated_at = ?
WHERE id = ?`,
		toMillis(at), messageID, toMillis(at), toMillis(at), id,
	)
	if err != nil {
		return fmt.Errorf("mark confirmation sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("registration %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkConfirmationFailed records the last confirmation send error and
// releases any resend marker. The claim marker stays set; resending is an
// explicit operator action.
func (s *Store) MarkConfirmationFailed(ctx context.Context, id, cause string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE registrations SET confirmation_error = ?, confirmation_resend_at = NULL, updated_at = ? WHERE id = ?`,
		cause, toMillis(at), id,
	)
	if err != nil {
		return fmt.Errorf("mark confirmation failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("registration %s: %w", id, ErrNotFound)
	}
	return nil
}

// AbandonStale moves every registration still PENDING_PAYMENT and created
// before cutoff to ABANDONED, returning how many moved.
func (s *Store) AbandonStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE registrations SET status = ?, updated_at = ?
WHERE status = ? AND created_at < ?`,
		string(StatusAbandoned), toMillis(now), string(StatusPendingPayment), toMillis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("abandon stale registrations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("abandon stale rows: %w", err)
	}
	return n, nil
}

// ListAbandonCandidates returns the registrations AbandonStale would move.
func (s *Store) ListAbandonCandidates(ctx context.Context, cutoff time.Time) ([]Registration, error) {
	return listRegistrations(ctx, s.db,
		`WHERE r.status = ? AND r.created_at < ? ORDER BY r.created_at, r.id`,
		string(StatusPendingPayment), toMillis(cutoff),
	)
}

// RecordWebhookEvent logs a processor delivery. It reports duplicate when the
// event id was seen before; the outcome is overwritten with the latest one.
func (s *Store) RecordWebhookEvent(ctx context.Context, ev WebhookEvent, at time.Time) (bool, error) {
	var deliveries int
	err := s.db.QueryRowContext(ctx, `
INSERT INTO webhook_events (event_id, event_type, registration_id, outcome, deliveries, first_seen_at, last_seen_at)
VALUES (?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (event_id) DO UPDATE SET
    outcome = excluded.outcome,
    deliveries = webhook_events.deliveries + 1,
    last_seen_at = excluded.last_seen_at
RETURNING deliveries`,
		ev.EventID, ev.EventType, ev.RegistrationID, ev.Outcome, toMillis(at), toMillis(at),
	).Scan(&deliveries)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return deliveries > 1, nil
}

// ListWebhookEvents returns the most recent deliveries first.
func (s *Store) ListWebhookEvents(ctx context.Context, limit int) ([]WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, event_type, registration_id, outcome, deliveries, first_seen_at, last_seen_at
FROM webhook_events ORDER BY last_seen_at DESC, event_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	events := []WebhookEvent{}
	for rows.Next() {
		var (
			ev          WebhookEvent
			first, last int64
		)
		if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.RegistrationID, &ev.Outcome,
			&ev.Deliveries, &first, &last); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		ev.FirstSeenAt = fromMillis(first)
		ev.LastSeenAt = fromMillis(last)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PaymentByRef returns the payment with the given processor reference.
func (s *Store) PaymentByRef(ctx context.Context, ref string) (Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE processor_ref = ?`, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, fmt.Errorf("payment %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// SetReceiptURL caches a receipt URL looked up from the processor.
func (s *Store) SetReceiptURL(ctx context.Context, ref, url string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments SET receipt_url = ?, updated_at = ? WHERE processor_ref = ?`,
		url, toMillis(at), ref,
	)
	if err != nil {
		return fmt.Errorf("set receipt url: %w", err)
	}
	return nil
}
