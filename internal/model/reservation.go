package model

import "time"

// Reservation sync statuses against the property-management system.
// A reservation starts LOCAL_ONLY, becomes SYNCED once the PMS echoes
// it back with its own identifier, and thereafter follows whatever the
// PMS reports. PMS_CANCELLED also covers locally voided reservations
// whose payment session failed after the fact.
const (
	SyncLocalOnly    = "LOCAL_ONLY"
	SyncSynced       = "SYNCED"
	SyncPMSUpdated   = "PMS_UPDATED"
	SyncPMSCancelled = "PMS_CANCELLED"
)

// Reservation is a confirmed booking. Exactly one row is created per
// payment session that reaches SUCCESS, within the same transaction
// that commits the availability lock, so a reservation exists if and
// only if its session was charged.
//
// Fields:
//  ID               – primary key identifier.
//  VillaID          – villa being occupied.
//  CheckIn/CheckOut – stay boundaries, YYYY-MM-DD; check-out exclusive.
//  GuestName        – full guest name as entered.
//  GuestEmail       – contact address for notifications.
//  PaymentSessionID – session whose charge funded this reservation.
//  PMSReservationID – identifier assigned by the PMS, nil until synced.
//  SyncStatus       – reconciliation status against the PMS.
//  LastEventAt      – timestamp of the newest webhook event applied to
//                     this row; older events are logged but skipped.
type Reservation struct {
	ID               uint64     // reservations.id
	VillaID          uint64     // reservations.villa_id
	CheckIn          string     // reservations.check_in
	CheckOut         string     // reservations.check_out
	GuestName        string     // reservations.guest_name
	GuestEmail       string     // reservations.guest_email
	PaymentSessionID string     // reservations.payment_session_id
	PMSReservationID *string    // reservations.pms_reservation_id (nullable)
	SyncStatus       string     // reservations.sync_status
	LastEventAt      *time.Time // reservations.last_event_at (nullable)
	CreatedAt        time.Time  // reservations.created_at
	UpdatedAt        time.Time  // reservations.updated_at
}
