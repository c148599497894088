package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
)

// BookingStore is the single choke point that materializes a confirmed
// payment into a reservation. The reservation insert, the lock
// conversion and the session's move to SUCCESS land in one database
// transaction, so a crash at any point leaves either a charged session
// still in CONFIRMED (recoverable by retrying finalization) or a fully
// recorded reservation, never a dangling half of either.
type BookingStore struct {
	db       *sql.DB
	inv      *InventoryRepo
	locks    *LockRepo
	res      *ReservationRepo
	sessions *SessionRepo
}

// NewBookingStore returns a BookingStore over the provided repositories.
func NewBookingStore(db *sql.DB, inv *InventoryRepo, locks *LockRepo, res *ReservationRepo, sessions *SessionRepo) *BookingStore {
	return &BookingStore{db: db, inv: inv, locks: locks, res: res, sessions: sessions}
}

// Session loads the payment session read-only.
func (s *BookingStore) Session(ctx context.Context, id string) (*model.PaymentSession, error) {
	return s.sessions.Get(ctx, id)
}

// ReservationBySession returns the reservation already bound to the
// session, if any. Used to make finalization idempotent for sessions
// that reached SUCCESS on an earlier attempt.
func (s *BookingStore) ReservationBySession(ctx context.Context, sessionID string) (*model.Reservation, error) {
	return s.res.GetBySession(ctx, sessionID)
}

// Finalize creates the reservation for a CONFIRMED session, commits
// its availability lock and moves the session to SUCCESS, atomically.
// The lock rows are re-read FOR UPDATE: a vanished token yields
// ErrLockNotFound and an expired one ErrLockExpired, in both cases
// without inserting anything, so a confirmed charge never produces a
// reservation whose nights it could not hold.
func (s *BookingStore) Finalize(ctx context.Context, session *model.PaymentSession) (uint64, error) {
	cart := session.Cart
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	locks, err := s.locks.ByTokenForUpdateTx(ctx, tx, cart.LockToken)
	if err != nil {
		return 0, err
	}
	if len(locks) == 0 {
		return 0, ErrLockNotFound
	}
	now := time.Now().UTC()
	for _, l := range locks {
		if !l.ExpiresAt.After(now) {
			return 0, ErrLockExpired
		}
		if l.SessionID != session.ID {
			return 0, ErrLockNotFound
		}
	}
	reservation := &model.Reservation{
		VillaID:          cart.VillaID,
		CheckIn:          cart.CheckIn,
		CheckOut:         cart.CheckOut,
		GuestName:        cart.GuestName,
		GuestEmail:       cart.GuestEmail,
		PaymentSessionID: session.ID,
		SyncStatus:       model.SyncLocalOnly,
	}
	if err := s.res.CreateTx(ctx, tx, reservation); err != nil {
		return 0, err
	}
	dates := make([]string, 0, len(locks))
	for _, l := range locks {
		dates = append(dates, l.Date)
	}
	if err := s.inv.BulkSetAvailabilityTx(ctx, tx, cart.VillaID, dates, false); err != nil {
		return 0, err
	}
	if _, err := s.locks.DeleteByTokenTx(ctx, tx, cart.LockToken); err != nil {
		return 0, err
	}
	if err := s.sessions.TransitionTx(ctx, tx, session.ID, model.StateConfirmed, model.StateSuccess); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return reservation.ID, nil
}

// RecordCompensation notes on the session why its confirmed charge
// could not be honored with a reservation. The session deliberately stays CONFIRMED.
func (s *BookingStore) RecordCompensation(ctx context.Context, sessionID, note string) error {
	return s.sessions.SetCompensationNote(ctx, sessionID, note)
}

// VoidBySession cancels the reservation bound to a session whose
// payment turned out to have failed after the fact. The sync status
// moves to PMS_CANCELLED and the nights are freed, in one transaction.
// It returns the voided reservation so the caller can notify about it.
func (s *BookingStore) VoidBySession(ctx context.Context, sessionID string) (*model.Reservation, error) {
	reservation, err := s.res.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	nights, err := NightsBetween(reservation.CheckIn, reservation.CheckOut)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := s.res.UpdateSyncTx(ctx, tx, reservation.ID, nil, model.SyncPMSCancelled, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.inv.BulkSetAvailabilityTx(ctx, tx, reservation.VillaID, nights, true); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	reservation.SyncStatus = model.SyncPMSCancelled
	return reservation, nil
}
