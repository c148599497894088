// Package queue defines message payloads exchanged over the message broker.
package queue

// Event kinds carried on the reservation.notify queue.
const (
	KindReservationConfirmed = "reservation.confirmed"
	KindReservationCancelled = "reservation.cancelled"
)

// ReservationNotifyEvent is published when a reservation is confirmed or
// cancelled. It contains enough information for downstream consumers to log,
// notify the guest, or trigger analytics without querying the primary
// database.
type ReservationNotifyEvent struct {
	Kind          string  `json:"kind"`
	ReservationID uint64  `json:"reservation_id"`
	VillaID       uint64  `json:"villa_id"`
	CheckIn       string  `json:"check_in"`
	CheckOut      string  `json:"check_out"`
	GuestName     string  `json:"guest_name"`
	GuestEmail    string  `json:"guest_email,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Total         float64 `json:"total,omitempty"`
	OccurredAt    string  `json:"occurred_at"`
}
