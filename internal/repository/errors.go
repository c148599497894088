// Package repository defines error values that are reused across
// multiple repositories and the services built on top of them. These
// sentinel values allow higher layers such as handlers to distinguish
// between failure scenarios with errors.Is. For example, ErrUnavailable
// signals that at least one requested night is already booked or held,
// while ErrStateConflict signals that a compare-and-swap transition on
// a payment session found the row in a different state.
package repository

import "errors"

// ErrUnknownCurrency is returned when a rate is requested for a
// currency that has never been fetched from the provider. Handlers
// should translate this into an HTTP 400 response.
var ErrUnknownCurrency = errors.New("unknown currency")

// ErrUnavailable is returned when a quote or lock covers a night that
// is already booked, already locked by another session, or outside the
// villa's published calendar. Handlers should translate this into an
// HTTP 409 response.
var ErrUnavailable = errors.New("unavailable")

// ErrCapacityMismatch is returned when the requested guest composition
// exceeds the villa's capacity class.
var ErrCapacityMismatch = errors.New("capacity mismatch")

// ErrLockNotFound is returned when a lock token does not reference any
// stored lock, typically because it was already committed or released.
var ErrLockNotFound = errors.New("lock not found")

// ErrLockExpired is returned when a commit arrives after the lock's
// expiry. The dates may have been claimed by someone else in the
// meantime, so the commit must not proceed.
var ErrLockExpired = errors.New("lock expired")

// ErrSessionNotFound is returned when a payment session id does not
// reference any stored session.
var ErrSessionNotFound = errors.New("payment session not found")

// ErrStateConflict is returned when a guarded state transition on a
// payment session matched zero rows, meaning the session moved under
// the caller's feet. Handlers should translate this into an HTTP 409
// response.
var ErrStateConflict = errors.New("session state conflict")

// ErrNotConfirmed is returned by finalization when the payment session
// has not reached the CONFIRMED state.
var ErrNotConfirmed = errors.New("payment not confirmed")

// ErrInventoryConflict is returned by finalization when the
// availability lock expired before the reservation could be committed.
// The charge stands; the caller is expected to offer rebooking.
var ErrInventoryConflict = errors.New("inventory conflict")

// ErrReservationNotFound is returned when no reservation matches the
// given identifier.
var ErrReservationNotFound = errors.New("reservation not found")
