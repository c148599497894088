package model

import "time"

// Capacity classes published for a villa. A couple villa sleeps at
// most two guests; a family villa sleeps up to six.
const (
	CapacityCouple = "couple"
	CapacityFamily = "family"
)

// VillaDateInventory is the per-villa per-date availability and pricing
// record. There is exactly one row per (villa, date); the unique key on
// that pair is what serializes concurrent mutations of a single night.
// Rows are created by the initial PMS sync and mutated only by the
// webhook reconciler and the reservation commit path. They are never
// deleted, only superseded.
//
// Fields:
//  ID            – primary key identifier.
//  VillaID       – villa this night belongs to.
//  Date          – calendar date in YYYY-MM-DD form, UTC.
//  BasePrice     – nightly price in the base currency (IDR).
//  Currency      – currency the base price is denominated in.
//  Available     – false once any reservation occupies the night.
//  CapacityClass – couple or family, bounds the guest count.
type VillaDateInventory struct {
	ID            uint64    // villa_inventory.id
	VillaID       uint64    // villa_inventory.villa_id
	Date          string    // villa_inventory.date
	BasePrice     float64   // villa_inventory.base_price
	Currency      string    // villa_inventory.currency
	Available     bool      // villa_inventory.available
	CapacityClass string    // villa_inventory.capacity_class
	CreatedAt     time.Time // villa_inventory.created_at
	UpdatedAt     time.Time // villa_inventory.updated_at
}

// MaxGuests returns the guest count the capacity class admits.
func (v VillaDateInventory) MaxGuests() int {
	if v.CapacityClass == CapacityCouple {
		return 2
	}
	return 6
}
