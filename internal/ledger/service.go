// Package ledger implements the availability ledger: the source of
// truth for which villa nights can be sold, at what price, and the
// time-bounded locks that close the double-booking race between a
// quote and its commit.
package ledger

import (
	"context"
	"math"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
	"github.com/Andrewske/masakali-retreat/internal/repository"
)

// DefaultLockTTL bounds how long an in-flight payment may keep nights
// off the market. An abandoned flow frees its dates automatically once
// the TTL passes.
const DefaultLockTTL = 15 * time.Minute

// Store is the transactional persistence the ledger needs. The MySQL
// implementation is repository.LedgerStore; tests substitute an
// in-memory fake.
type Store interface {
	AvailabilityRange(ctx context.Context, villaID uint64, from, to string) ([]model.VillaDateInventory, error)
	CreateLock(ctx context.Context, villaID uint64, from, to, sessionID string, expiresAt time.Time) (string, error)
	CommitLock(ctx context.Context, token string) error
	ReleaseLock(ctx context.Context, token string) error
}

// Converter resolves a currency into a conversion rate from the base
// currency, together with the age of the stored value.
type Converter interface {
	GetRate(ctx context.Context, currency string) (float64, time.Duration, error)
}

// Quote is a priced stay in the requested currency. Nightly prices and
// the total are rounded to cents, half away from zero.
type Quote struct {
	VillaID       uint64    `json:"villa_id"`
	CheckIn       string    `json:"check_in"`
	CheckOut      string    `json:"check_out"`
	Currency      string    `json:"currency"`
	PricePerNight []float64 `json:"price_per_night"`
	Total         float64   `json:"total"`
	RateAge       string    `json:"rate_age"`
}

// Lock is a successful claim on a stay.
type Lock struct {
	Token     string    `json:"lock_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service exposes the ledger operations. It holds no locks across
// network waits: pricing reads the rate cache (which never blocks on
// the provider) and all mutations happen inside store transactions.
type Service struct {
	store   Store
	rates   Converter
	lockTTL time.Duration
	now     func() time.Time
}

// NewService returns a ledger service with the given lock TTL; zero
// means DefaultLockTTL.
func NewService(store Store, rates Converter, lockTTL time.Duration) *Service {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Service{store: store, rates: rates, lockTTL: lockTTL, now: time.Now}
}

// Quote prices the stay [checkIn, checkOut) in the requested currency.
// It fails with repository.ErrUnavailable when any night is booked or
// absent from the villa's published calendar, and with
// repository.ErrCapacityMismatch when the guest composition exceeds
// the villa's capacity class.
func (s *Service) Quote(ctx context.Context, villaID uint64, checkIn, checkOut, currency string, guests int) (*Quote, error) {
	nights, err := repository.NightsBetween(checkIn, checkOut)
	if err != nil || len(nights) == 0 {
		return nil, repository.ErrUnavailable
	}
	rows, err := s.store.AvailabilityRange(ctx, villaID, checkIn, checkOut)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]model.VillaDateInventory, len(rows))
	for _, rec := range rows {
		byDate[rec.Date] = rec
	}
	rate, age, err := s.rates.GetRate(ctx, currency)
	if err != nil {
		return nil, err
	}
	quote := &Quote{
		VillaID:  villaID,
		CheckIn:  checkIn,
		CheckOut: checkOut,
		Currency: currency,
		RateAge:  age.Truncate(time.Second).String(),
	}
	var total float64
	for _, night := range nights {
		rec, ok := byDate[night]
		if !ok || !rec.Available {
			return nil, repository.ErrUnavailable
		}
		if guests > rec.MaxGuests() {
			return nil, repository.ErrCapacityMismatch
		}
		price := roundCents(rec.BasePrice * rate)
		quote.PricePerNight = append(quote.PricePerNight, price)
		total += price
	}
	quote.Total = roundCents(total)
	return quote, nil
}

// Lock reserves the stay for the duration of a payment attempt. Of two
// concurrent calls for overlapping nights exactly one succeeds; the
// other fails with repository.ErrUnavailable.
func (s *Service) Lock(ctx context.Context, villaID uint64, checkIn, checkOut, sessionID string) (*Lock, error) {
	expiresAt := s.now().UTC().Add(s.lockTTL)
	token, err := s.store.CreateLock(ctx, villaID, checkIn, checkOut, sessionID, expiresAt)
	if err != nil {
		return nil, err
	}
	return &Lock{Token: token, ExpiresAt: expiresAt}, nil
}

// Commit converts a lock into permanent unavailability. It fails with
// repository.ErrLockExpired when called after the lock's expiry.
func (s *Service) Commit(ctx context.Context, token string) error {
	return s.store.CommitLock(ctx, token)
}

// Release drops a lock. It is idempotent: releasing an unknown or
// already-released token succeeds.
func (s *Service) Release(ctx context.Context, token string) error {
	return s.store.ReleaseLock(ctx, token)
}

// roundCents rounds to two decimal places, half away from zero.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
