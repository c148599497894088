// Package booking holds the reservation commit coordinator: the one
// place a confirmed payment becomes a reservation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
	"github.com/Andrewske/masakali-retreat/internal/repository"
	"github.com/Andrewske/masakali-retreat/internal/utils"
)

// Store is the persistence the coordinator needs. The MySQL
// implementation is repository.BookingStore, whose Finalize runs the
// reservation insert, the lock conversion and the session's move to
// SUCCESS in a single transaction.
type Store interface {
	Session(ctx context.Context, id string) (*model.PaymentSession, error)
	ReservationBySession(ctx context.Context, sessionID string) (*model.Reservation, error)
	Finalize(ctx context.Context, session *model.PaymentSession) (uint64, error)
	RecordCompensation(ctx context.Context, sessionID, note string) error
	VoidBySession(ctx context.Context, sessionID string) (*model.Reservation, error)
}

// Coordinator materializes reservations for charged sessions. It
// reads payment sessions but never mutates them directly; every state
// change goes through the store's guarded transitions.
type Coordinator struct {
	store    Store
	sessions *utils.KeyedMutex

	// OnConfirmed and OnVoided tell the notification collaborator
	// about outcomes. Both are fire-and-forget: a notification failure
	// must never roll back a reservation, so implementations log and
	// swallow their own errors.
	OnConfirmed func(ctx context.Context, res *model.Reservation, session *model.PaymentSession)
	OnVoided    func(ctx context.Context, res *model.Reservation)
}

// NewCoordinator builds a Coordinator over the given store.
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{store: store, sessions: utils.NewKeyedMutex()}
}

// Finalize turns a CONFIRMED session into a reservation. Calling it
// again for a session that already reached SUCCESS returns the
// existing reservation id, so clients can retry a timed-out call
// safely. A session in any other state fails with
// repository.ErrNotConfirmed. When the availability lock expired
// concurrently, no reservation is created: the session stays CONFIRMED
// with a compensation note and the caller gets
// repository.ErrInventoryConflict to drive a rebooking offer.
func (c *Coordinator) Finalize(ctx context.Context, sessionID string) (uint64, error) {
	c.sessions.Lock(sessionID)
	defer c.sessions.Unlock(sessionID)

	session, err := c.store.Session(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if session.State == model.StateSuccess {
		existing, err := c.store.ReservationBySession(ctx, sessionID)
		if err != nil {
			return 0, err
		}
		return existing.ID, nil
	}
	if session.State != model.StateConfirmed {
		return 0, repository.ErrNotConfirmed
	}
	reservationID, err := c.store.Finalize(ctx, session)
	if errors.Is(err, repository.ErrLockExpired) || errors.Is(err, repository.ErrLockNotFound) {
		note := fmt.Sprintf("finalize at %s: %v; charge stands, rebooking required",
			time.Now().UTC().Format(time.RFC3339), err)
		if noteErr := c.store.RecordCompensation(ctx, sessionID, note); noteErr != nil {
			log.Printf("booking: recording compensation for %s: %v", sessionID, noteErr)
		}
		return 0, repository.ErrInventoryConflict
	}
	if err != nil {
		return 0, err
	}
	if c.OnConfirmed != nil {
		reservation, lookupErr := c.store.ReservationBySession(ctx, sessionID)
		if lookupErr != nil {
			log.Printf("booking: loading reservation for notification: %v", lookupErr)
		} else {
			c.OnConfirmed(ctx, reservation, session)
		}
	}
	return reservationID, nil
}

// VoidBySession cancels the reservation bound to a session whose
// payment failed after the fact, freeing its nights. A session with no
// reservation is a no-op.
func (c *Coordinator) VoidBySession(ctx context.Context, sessionID string) error {
	reservation, err := c.store.VoidBySession(ctx, sessionID)
	if errors.Is(err, repository.ErrReservationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("booking: voided reservation %d for failed session %s", reservation.ID, sessionID)
	if c.OnVoided != nil {
		c.OnVoided(ctx, reservation)
	}
	return nil
}
