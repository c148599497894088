package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
)

// LedgerStore composes the inventory and lock repositories into the
// atomic units the availability ledger needs. Every method that
// mutates state opens one transaction, sweeps expired locks for the
// villa first, and commits or rolls back as a whole, mirroring how a
// hold is taken and converted. No network calls ever happen while one
// of these transactions is open.
type LedgerStore struct {
	db    *sql.DB
	inv   *InventoryRepo
	locks *LockRepo
}

// NewLedgerStore returns a LedgerStore over the provided repositories.
func NewLedgerStore(db *sql.DB, inv *InventoryRepo, locks *LockRepo) *LedgerStore {
	return &LedgerStore{db: db, inv: inv, locks: locks}
}

// AvailabilityRange returns the published inventory rows for the stay.
func (s *LedgerStore) AvailabilityRange(ctx context.Context, villaID uint64, from, to string) ([]model.VillaDateInventory, error) {
	return s.inv.GetRange(ctx, villaID, from, to)
}

// CreateLock claims every night of [from, to) for the session under a
// single fresh token. Inside one transaction it sweeps expired locks,
// re-reads the inventory rows FOR UPDATE, verifies each night exists
// and is still available, and inserts the lock rows. A night missing,
// booked, or locked by another session yields ErrUnavailable.
func (s *LedgerStore) CreateLock(ctx context.Context, villaID uint64, from, to, sessionID string, expiresAt time.Time) (string, error) {
	nights, err := NightsBetween(from, to)
	if err != nil || len(nights) == 0 {
		return "", ErrUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := s.locks.ExpireLocksTx(ctx, tx, villaID); err != nil {
		return "", err
	}
	rows, err := s.inv.GetRangeForUpdateTx(ctx, tx, villaID, from, to)
	if err != nil {
		return "", err
	}
	byDate := make(map[string]model.VillaDateInventory, len(rows))
	for _, rec := range rows {
		byDate[rec.Date] = rec
	}
	for _, night := range nights {
		rec, ok := byDate[night]
		if !ok || !rec.Available {
			return "", ErrUnavailable
		}
	}
	token, records, err := GenerateLockRecords(sessionID, villaID, nights, expiresAt)
	if err != nil {
		return "", err
	}
	if err := s.locks.CreateMultipleTx(ctx, tx, records); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	committed = true
	return token, nil
}

// CommitLock converts a lock into permanent unavailability: the
// inventory rows are flipped to unavailable and the lock rows removed,
// all in one transaction. A token with no rows yields ErrLockNotFound;
// a token whose rows have passed their expiry yields ErrLockExpired
// and the stale rows are cleaned up so the nights free immediately.
func (s *LedgerStore) CommitLock(ctx context.Context, token string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	locks, err := s.locks.ByTokenForUpdateTx(ctx, tx, token)
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		return ErrLockNotFound
	}
	now := time.Now().UTC()
	for _, l := range locks {
		if !l.ExpiresAt.After(now) {
			if _, delErr := s.locks.DeleteByTokenTx(ctx, tx, token); delErr != nil {
				return delErr
			}
			if commitErr := tx.Commit(); commitErr != nil {
				return commitErr
			}
			committed = true
			return ErrLockExpired
		}
	}
	dates := make([]string, 0, len(locks))
	for _, l := range locks {
		dates = append(dates, l.Date)
	}
	if err := s.inv.BulkSetAvailabilityTx(ctx, tx, locks[0].VillaID, dates, false); err != nil {
		return err
	}
	if _, err := s.locks.DeleteByTokenTx(ctx, tx, token); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ReleaseLock drops every lock row under the token. Releasing a token
// that was already committed, released or expired is a no-op, which
// makes release safe to call from any cleanup path.
func (s *LedgerStore) ReleaseLock(ctx context.Context, token string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := s.locks.DeleteByTokenTx(ctx, tx, token); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
