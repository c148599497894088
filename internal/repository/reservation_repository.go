package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
)

// ReservationRepo provides data access to the reservations table. A
// reservation is only ever inserted by the commit coordinator, inside
// the same transaction that converts its availability lock, and is
// afterwards mutated only by the webhook reconciler as the PMS reports
// lifecycle changes. All timestamp fields are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// CreateTx inserts a new reservation within the scope of an existing
// transaction and populates the generated ID on the provided record.
// The caller must commit or roll back the transaction.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations (villa_id, check_in, check_out, guest_name, guest_email, payment_session_id, sync_status)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	status := res.SyncStatus
	if status == "" {
		status = model.SyncLocalOnly
	}
	result, err := tx.ExecContext(ctx, q, res.VillaID, res.CheckIn, res.CheckOut,
		res.GuestName, res.GuestEmail, res.PaymentSessionID, status)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	res.SyncStatus = status
	return nil
}

// GetBySession returns the reservation bound to a payment session, or
// ErrReservationNotFound when the session never materialized one.
func (r *ReservationRepo) GetBySession(ctx context.Context, sessionID string) (*model.Reservation, error) {
	const q = `SELECT id, villa_id, check_in, check_out, guest_name, guest_email,
	                  payment_session_id, pms_reservation_id, sync_status, last_event_at, created_at, updated_at
	           FROM reservations WHERE payment_session_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, q, sessionID))
}

// GetByPMSID returns the reservation carrying the given PMS
// identifier. Callers serialize webhook application per PMS id, so a
// plain read here is not racy against the guarded update that follows.
func (r *ReservationRepo) GetByPMSID(ctx context.Context, pmsID string) (*model.Reservation, error) {
	const q = `SELECT id, villa_id, check_in, check_out, guest_name, guest_email,
	                  payment_session_id, pms_reservation_id, sync_status, last_event_at, created_at, updated_at
	           FROM reservations WHERE pms_reservation_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, q, pmsID))
}

// FindLocalMatch locates a LOCAL_ONLY reservation matching the villa
// and stay that a PMS event describes. This is how a reservation the
// service pushed to the PMS gets bound to the identifier the PMS
// assigned when the echo arrives as a webhook.
func (r *ReservationRepo) FindLocalMatch(ctx context.Context, villaID uint64, checkIn, checkOut string) (*model.Reservation, error) {
	const q = `SELECT id, villa_id, check_in, check_out, guest_name, guest_email,
	                  payment_session_id, pms_reservation_id, sync_status, last_event_at, created_at, updated_at
	           FROM reservations
	           WHERE villa_id = ? AND check_in = ? AND check_out = ? AND sync_status = ?
	           ORDER BY created_at DESC
	           LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, villaID, checkIn, checkOut, model.SyncLocalOnly))
}

// UpdateSyncTx records the outcome of applying a PMS event: the PMS
// identifier, the new sync status and the event's own timestamp. The
// WHERE clause enforces last-writer-wins by event time, so an older
// event arriving late matches zero rows and its effect is skipped.
// It returns whether the row actually moved.
func (r *ReservationRepo) UpdateSyncTx(ctx context.Context, tx *sql.Tx, id uint64, pmsID *string, syncStatus string, eventAt time.Time) (bool, error) {
	const q = `UPDATE reservations
	           SET pms_reservation_id = COALESCE(?, pms_reservation_id),
	               sync_status = ?,
	               last_event_at = ?,
	               updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND (last_event_at IS NULL OR last_event_at <= ?)`
	at := eventAt.UTC().Format("2006-01-02 15:04:05")
	res, err := tx.ExecContext(ctx, q, pmsID, syncStatus, at, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ReservationRepo) scanOne(row *sql.Row) (*model.Reservation, error) {
	var res model.Reservation
	var checkIn, checkOut time.Time
	var pmsID sql.NullString
	var lastEvent sql.NullTime
	err := row.Scan(&res.ID, &res.VillaID, &checkIn, &checkOut, &res.GuestName, &res.GuestEmail,
		&res.PaymentSessionID, &pmsID, &res.SyncStatus, &lastEvent, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	res.CheckIn = checkIn.UTC().Format("2006-01-02")
	res.CheckOut = checkOut.UTC().Format("2006-01-02")
	if pmsID.Valid {
		id := pmsID.String
		res.PMSReservationID = &id
	}
	if lastEvent.Valid {
		at := lastEvent.Time.UTC()
		res.LastEventAt = &at
	}
	return &res, nil
}
