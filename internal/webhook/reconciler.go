package webhook

import (
	"bytes"
	"context"
	"errors"
	"log"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
	"github.com/Andrewske/masakali-retreat/internal/repository"
	"github.com/Andrewske/masakali-retreat/internal/utils"
)

// ErrEmptyPayload is returned for deliveries with no body at all;
// everything else, however malformed, is logged rather than raised.
var ErrEmptyPayload = errors.New("webhook: empty payload")

// recoveryGrace is how long a PENDING row must sit before the recovery
// sweep considers its apply step dead rather than merely in flight.
const recoveryGrace = time.Minute

// Store is the persistence the reconciler needs. The MySQL
// implementation is repository.WebhookStore; each Apply method runs
// its ledger effect and the APPLIED mark in one transaction.
type Store interface {
	Append(ctx context.Context, ev *model.WebhookEvent) error
	HasApplied(ctx context.Context, eventID string) (bool, error)
	MarkStatus(ctx context.Context, logID uint64, status string) error
	ListPending(ctx context.Context, olderThan time.Duration) ([]model.WebhookEvent, error)
	FindByPMSID(ctx context.Context, pmsID string) (*model.Reservation, error)
	FindLocalMatch(ctx context.Context, villaID uint64, checkIn, checkOut string) (*model.Reservation, error)
	ApplySync(ctx context.Context, logID uint64, reservation *model.Reservation, pmsID *string, status string, eventAt time.Time, free bool) (bool, error)
	ApplyExternal(ctx context.Context, logID uint64, villaID uint64, checkIn, checkOut string, price float64, available bool) error
	ApplyRates(ctx context.Context, logID uint64, villaID uint64, days []repository.RateDay) error
}

// Reconciler ingests PMS deliveries: validate, persist the audit row,
// deduplicate, and apply the ledger effect under last-writer-wins by
// event timestamp. Application is serialized per PMS reservation (or
// per villa for rate pushes) with a keyed mutex, never globally.
type Reconciler struct {
	store Store
	keys  *utils.KeyedMutex

	// OnCancelled, when set, runs after a local reservation is
	// cancelled by a PMS event, so the notification collaborator can
	// be told. Failures there never affect ingestion.
	OnCancelled func(ctx context.Context, res *model.Reservation)
}

// NewReconciler builds a Reconciler over the given store.
func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store, keys: utils.NewKeyedMutex()}
}

// Ingest processes one raw delivery. Malformed payloads are persisted
// with status REJECTED and reported as success, because the PMS's
// redelivery loop keys off our response, not our bookkeeping. A
// redelivered, already-applied event is recorded as DUPLICATE and is a
// no-op with respect to ledger and reservation state.
func (r *Reconciler) Ingest(ctx context.Context, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrEmptyPayload
	}
	ev, parseErr := ParseEvent(raw, time.Now().UTC())
	if parseErr != nil {
		rec := &model.WebhookEvent{
			EventID:   SynthesizeID(raw),
			EventType: "unknown",
			Payload:   raw,
			Status:    model.EventRejected,
		}
		if err := r.store.Append(ctx, rec); err != nil {
			return err
		}
		log.Printf("webhook: rejected delivery: %v", parseErr)
		return nil
	}

	key := ev.SerializationKey()
	r.keys.Lock(key)
	defer r.keys.Unlock(key)

	applied, err := r.store.HasApplied(ctx, ev.ID)
	if err != nil {
		return err
	}
	rec := &model.WebhookEvent{EventID: ev.ID, EventType: ev.Type, Payload: raw, Status: model.EventPending}
	if applied {
		rec.Status = model.EventDuplicate
		if err := r.store.Append(ctx, rec); err != nil {
			return err
		}
		log.Printf("webhook: duplicate delivery of %s", ev.ID)
		return nil
	}
	if err := r.store.Append(ctx, rec); err != nil {
		return err
	}
	return r.apply(ctx, rec.ID, ev)
}

// RecoverPending re-drives events whose audit row landed but whose
// apply transaction never did, typically after a crash in between.
// Intended to run at startup and harmless to run anytime.
func (r *Reconciler) RecoverPending(ctx context.Context) error {
	pending, err := r.store.ListPending(ctx, recoveryGrace)
	if err != nil {
		return err
	}
	for _, rec := range pending {
		ev, parseErr := ParseEvent(rec.Payload, rec.ReceivedAt)
		if parseErr != nil {
			// Should not happen for rows that made it past ingestion,
			// but a schema change in between could do it.
			if err := r.store.MarkStatus(ctx, rec.ID, model.EventRejected); err != nil {
				return err
			}
			continue
		}
		key := ev.SerializationKey()
		r.keys.Lock(key)
		err := r.apply(ctx, rec.ID, ev)
		r.keys.Unlock(key)
		if err != nil {
			log.Printf("webhook: recovery of event %d failed: %v", rec.ID, err)
			continue
		}
		log.Printf("webhook: recovered pending event %d (%s)", rec.ID, ev.Type)
	}
	return nil
}

// apply routes a parsed event to its ledger effect. The caller holds
// the serialization key for the event.
func (r *Reconciler) apply(ctx context.Context, logID uint64, ev *Event) error {
	switch ev.Type {
	case ActionNewReservation, ActionUpdateReservation:
		return r.applyUpsert(ctx, logID, ev)
	case ActionCancelReservation, ActionDeleteReservation:
		return r.applyCancel(ctx, logID, ev.Reservation)
	case ActionUpdateRates:
		return r.store.ApplyRates(ctx, logID, ev.Rates.VillaID, ev.Rates.Days)
	}
	return r.store.MarkStatus(ctx, logID, model.EventRejected)
}

// applyUpsert binds or refreshes a reservation the PMS reports as
// live. Three cases: the PMS id is already known; the event is the
// echo of a reservation we pushed and still carries only our local
// copy; or it is an external channel booking with no local row, whose
// nights we simply block.
func (r *Reconciler) applyUpsert(ctx context.Context, logID uint64, ev *Event) error {
	re := ev.Reservation
	status := model.SyncSynced
	if ev.Type == ActionUpdateReservation {
		status = model.SyncPMSUpdated
	}
	reservation, err := r.store.FindByPMSID(ctx, re.PMSID)
	if errors.Is(err, repository.ErrReservationNotFound) {
		reservation, err = r.store.FindLocalMatch(ctx, re.VillaID, re.Arrival, re.Departure)
		if errors.Is(err, repository.ErrReservationNotFound) {
			return r.store.ApplyExternal(ctx, logID, re.VillaID, re.Arrival, re.Departure, 0, false)
		}
		// A freshly bound local reservation is SYNCED regardless of
		// whether the PMS called it new or updated.
		status = model.SyncSynced
	}
	if err != nil {
		return err
	}
	applied, err := r.store.ApplySync(ctx, logID, reservation, &re.PMSID, status, re.ModifiedAt, false)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("webhook: stale event for pms reservation %s skipped", re.PMSID)
	}
	return nil
}

// applyCancel frees the stay. For a local reservation the sync status
// moves to PMS_CANCELLED under the same last-writer-wins guard as any
// other event; for an unknown stay only the calendar is opened up.
func (r *Reconciler) applyCancel(ctx context.Context, logID uint64, re *ReservationEvent) error {
	reservation, err := r.store.FindByPMSID(ctx, re.PMSID)
	if errors.Is(err, repository.ErrReservationNotFound) {
		return r.store.ApplyExternal(ctx, logID, re.VillaID, re.Arrival, re.Departure, 0, true)
	}
	if err != nil {
		return err
	}
	applied, err := r.store.ApplySync(ctx, logID, reservation, &re.PMSID, model.SyncPMSCancelled, re.ModifiedAt, true)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("webhook: stale cancellation for pms reservation %s skipped", re.PMSID)
		return nil
	}
	if r.OnCancelled != nil {
		reservation.SyncStatus = model.SyncPMSCancelled
		r.OnCancelled(ctx, reservation)
	}
	return nil
}
