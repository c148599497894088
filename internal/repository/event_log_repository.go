package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
)

// EventLogRepo provides data access to the webhook_events table. The
// table is append-only: every delivery is persisted verbatim whatever
// its fate, including malformed and redelivered payloads, so the audit
// trail does not depend on the PMS retaining history. At most one row
// per event_id ever reaches the APPLIED status; redeliveries of an
// applied event are appended with the DUPLICATE status instead.
type EventLogRepo struct {
	db *sql.DB
}

// NewEventLogRepo returns a new EventLogRepo bound to the provided database.
func NewEventLogRepo(db *sql.DB) *EventLogRepo { return &EventLogRepo{db: db} }

// Append inserts a delivery row with the given status and populates
// the generated ID. It runs in its own short transaction so the audit
// record survives even when the apply step later fails.
func (r *EventLogRepo) Append(ctx context.Context, ev *model.WebhookEvent) error {
	const q = `INSERT INTO webhook_events (event_id, event_type, payload, status) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, ev.EventID, ev.EventType, ev.Payload, ev.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)
	return nil
}

// HasApplied reports whether some row with this event id has already
// been applied. Callers serialize deliveries of the same event id, so
// the read-then-append window is not racy in practice.
func (r *EventLogRepo) HasApplied(ctx context.Context, eventID string) (bool, error) {
	const q = `SELECT COUNT(*) FROM webhook_events WHERE event_id = ? AND status = ?`
	var n int
	if err := r.db.QueryRowContext(ctx, q, eventID, model.EventApplied).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateStatusTx moves a log row to a new status inside the provided
// transaction, so an event is marked APPLIED atomically with its
// ledger effect.
func (r *EventLogRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE webhook_events SET status = ? WHERE id = ?`, status, id)
	return err
}

// UpdateStatus is UpdateStatusTx outside a transaction, for terminal
// statuses that carry no ledger effect (REJECTED, DUPLICATE).
func (r *EventLogRepo) UpdateStatus(ctx context.Context, id uint64, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_events SET status = ? WHERE id = ?`, status, id)
	return err
}

// ListPending returns events stuck in PENDING for longer than the
// grace period, oldest first. A crash between the audit insert and the
// apply transaction leaves such rows; the recovery sweep re-drives
// them through the normal apply path.
func (r *EventLogRepo) ListPending(ctx context.Context, olderThan time.Duration) ([]model.WebhookEvent, error) {
	const q = `SELECT id, event_id, event_type, payload, status, received_at
	           FROM webhook_events
	           WHERE status = ? AND received_at <= ?
	           ORDER BY received_at`
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	rows, err := r.db.QueryContext(ctx, q, model.EventPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WebhookEvent
	for rows.Next() {
		var ev model.WebhookEvent
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.EventType, &ev.Payload, &ev.Status, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
