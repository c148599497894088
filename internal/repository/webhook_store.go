package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
)

// RateDay is one night of a PMS rate-update event, already parsed at
// the boundary: the price in the base currency and whether the night
// can be sold.
type RateDay struct {
	Date      string
	Price     float64
	Available bool
}

// WebhookStore groups the storage effects the webhook reconciler can
// apply. Each Apply method runs the ledger mutation and the move of
// the log row to APPLIED inside one transaction, so a crash leaves
// either no trace beyond the PENDING audit row or a fully applied,
// fully logged event.
type WebhookStore struct {
	db     *sql.DB
	events *EventLogRepo
	res    *ReservationRepo
	inv    *InventoryRepo
}

// NewWebhookStore returns a WebhookStore over the provided repositories.
func NewWebhookStore(db *sql.DB, events *EventLogRepo, res *ReservationRepo, inv *InventoryRepo) *WebhookStore {
	return &WebhookStore{db: db, events: events, res: res, inv: inv}
}

// Append persists the delivery audit row; see EventLogRepo.Append.
func (s *WebhookStore) Append(ctx context.Context, ev *model.WebhookEvent) error {
	return s.events.Append(ctx, ev)
}

// HasApplied reports whether the event id was already applied.
func (s *WebhookStore) HasApplied(ctx context.Context, eventID string) (bool, error) {
	return s.events.HasApplied(ctx, eventID)
}

// MarkStatus records a terminal status that carries no ledger effect.
func (s *WebhookStore) MarkStatus(ctx context.Context, logID uint64, status string) error {
	return s.events.UpdateStatus(ctx, logID, status)
}

// ListPending returns audit rows whose apply step never ran.
func (s *WebhookStore) ListPending(ctx context.Context, olderThan time.Duration) ([]model.WebhookEvent, error) {
	return s.events.ListPending(ctx, olderThan)
}

// FindByPMSID resolves a reservation by the PMS identifier.
func (s *WebhookStore) FindByPMSID(ctx context.Context, pmsID string) (*model.Reservation, error) {
	return s.res.GetByPMSID(ctx, pmsID)
}

// FindLocalMatch resolves a not-yet-synced local reservation by stay.
func (s *WebhookStore) FindLocalMatch(ctx context.Context, villaID uint64, checkIn, checkOut string) (*model.Reservation, error) {
	return s.res.FindLocalMatch(ctx, villaID, checkIn, checkOut)
}

// ApplySync binds a PMS identifier and sync status to a local
// reservation and adjusts the stay's availability, atomically with the
// APPLIED mark. The update is guarded by the event timestamp: when an
// older event lands after a newer one the row does not move, the log
// row is still marked APPLIED, and applied is false so the caller can
// log the skip.
func (s *WebhookStore) ApplySync(ctx context.Context, logID uint64, reservation *model.Reservation, pmsID *string, status string, eventAt time.Time, free bool) (bool, error) {
	nights, err := NightsBetween(reservation.CheckIn, reservation.CheckOut)
	if err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	applied, err := s.res.UpdateSyncTx(ctx, tx, reservation.ID, pmsID, status, eventAt)
	if err != nil {
		return false, err
	}
	if applied {
		if err := s.inv.BulkSetAvailabilityTx(ctx, tx, reservation.VillaID, nights, free); err != nil {
			return false, err
		}
	}
	if err := s.events.UpdateStatusTx(ctx, tx, logID, model.EventApplied); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return applied, nil
}

// ApplyExternal blocks or frees a stay the local ledger holds no
// reservation for, creating inventory rows for unseen dates. This is
// how bookings arriving through other channels keep the calendar
// truthful.
func (s *WebhookStore) ApplyExternal(ctx context.Context, logID uint64, villaID uint64, checkIn, checkOut string, price float64, available bool) error {
	nights, err := NightsBetween(checkIn, checkOut)
	if err != nil {
		return err
	}
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
	for _, night := range nights {
		rec := model.VillaDateInventory{VillaID: villaID, Date: night, BasePrice: price, Available: available}
		if err := s.inv.UpsertNightTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := s.events.UpdateStatusTx(ctx, tx, logID, model.EventApplied); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ApplyRates upserts the pushed nightly prices and availability flags,
// atomically with the APPLIED mark.
func (s *WebhookStore) ApplyRates(ctx context.Context, logID uint64, villaID uint64, days []RateDay) error {
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
	for _, day := range days {
		rec := model.VillaDateInventory{VillaID: villaID, Date: day.Date, BasePrice: day.Price, Available: day.Available}
		if err := s.inv.UpsertNightTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := s.events.UpdateStatusTx(ctx, tx, logID, model.EventApplied); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
