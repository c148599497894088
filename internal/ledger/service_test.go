package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
	"github.com/Andrewske/masakali-retreat/internal/repository"
)

// fakeStore is an in-memory ledger store mirroring the behaviour of
// the MySQL implementation: nights keyed by (villa, date), one active
// lock per night, expiry checked at commit time.
type fakeStore struct {
	mu     sync.Mutex
	nights map[string]model.VillaDateInventory // key villa|date
	locks  map[string]*fakeLock                // key token
	held   map[string]string                   // key villa|date -> token
	seq    int
}

type fakeLock struct {
	villaID   uint64
	dates     []string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nights: make(map[string]model.VillaDateInventory),
		locks:  make(map[string]*fakeLock),
		held:   make(map[string]string),
	}
}

func nightKey(villaID uint64, date string) string {
	return fmt.Sprintf("%d|%s", villaID, date)
}

func (f *fakeStore) addNight(villaID uint64, date string, price float64, available bool, capacity string) {
	f.nights[nightKey(villaID, date)] = model.VillaDateInventory{
		VillaID:       villaID,
		Date:          date,
		BasePrice:     price,
		Currency:      model.BaseCurrency,
		Available:     available,
		CapacityClass: capacity,
	}
}

func (f *fakeStore) AvailabilityRange(ctx context.Context, villaID uint64, from, to string) ([]model.VillaDateInventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nights, err := repository.NightsBetween(from, to)
	if err != nil {
		return nil, err
	}
	var out []model.VillaDateInventory
	for _, d := range nights {
		if rec, ok := f.nights[nightKey(villaID, d)]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateLock(ctx context.Context, villaID uint64, from, to, sessionID string, expiresAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nights, err := repository.NightsBetween(from, to)
	if err != nil || len(nights) == 0 {
		return "", repository.ErrUnavailable
	}
	for _, d := range nights {
		rec, ok := f.nights[nightKey(villaID, d)]
		if !ok || !rec.Available {
			return "", repository.ErrUnavailable
		}
		if _, locked := f.held[nightKey(villaID, d)]; locked {
			return "", repository.ErrUnavailable
		}
	}
	f.seq++
	token := fmt.Sprintf("tok-%d", f.seq)
	f.locks[token] = &fakeLock{villaID: villaID, dates: nights, expiresAt: expiresAt}
	for _, d := range nights {
		f.held[nightKey(villaID, d)] = token
	}
	return token, nil
}

func (f *fakeStore) CommitLock(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[token]
	if !ok {
		return repository.ErrLockNotFound
	}
	if time.Now().After(l.expiresAt) {
		f.drop(token, l)
		return repository.ErrLockExpired
	}
	for _, d := range l.dates {
		rec := f.nights[nightKey(l.villaID, d)]
		rec.Available = false
		f.nights[nightKey(l.villaID, d)] = rec
	}
	f.drop(token, l)
	return nil
}

func (f *fakeStore) ReleaseLock(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.locks[token]; ok {
		f.drop(token, l)
	}
	return nil
}

func (f *fakeStore) drop(token string, l *fakeLock) {
	for _, d := range l.dates {
		delete(f.held, nightKey(l.villaID, d))
	}
	delete(f.locks, token)
}

// fakeRates returns a fixed conversion rate with a fixed age.
type fakeRates struct {
	rate float64
	age  time.Duration
	err  error
}

func (f *fakeRates) GetRate(ctx context.Context, currency string) (float64, time.Duration, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.rate, f.age, nil
}

func seedStay(store *fakeStore, villaID uint64, price float64, capacity string, dates ...string) {
	for _, d := range dates {
		store.addNight(villaID, d, price, true, capacity)
	}
}

// TestQuoteConvertsAndRounds verifies the IDR-to-USD pricing path:
// nightly prices are converted at the stored rate and rounded to
// cents, and the total is the rounded sum.
func TestQuoteConvertsAndRounds(t *testing.T) {
	store := newFakeStore()
	seedStay(store, 1, 2150000, model.CapacityCouple, "2026-09-01", "2026-09-02", "2026-09-03")
	svc := NewService(store, &fakeRates{rate: 0.000065, age: 90 * time.Minute}, 0)

	q, err := svc.Quote(context.Background(), 1, "2026-09-01", "2026-09-04", "USD", 2)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if len(q.PricePerNight) != 3 {
		t.Fatalf("expected 3 nightly prices, got %d", len(q.PricePerNight))
	}
	// 2,150,000 IDR * 0.000065 = 139.75 USD
	for i, p := range q.PricePerNight {
		if p != 139.75 {
			t.Errorf("night %d: expected 139.75, got %v", i, p)
		}
	}
	if q.Total != 419.25 {
		t.Errorf("expected total 419.25, got %v", q.Total)
	}
	if q.RateAge != "1h30m0s" {
		t.Errorf("expected rate age 1h30m0s, got %q", q.RateAge)
	}
}

// TestQuoteUnavailableNight verifies that one booked night anywhere in
// the range fails the whole quote.
func TestQuoteUnavailableNight(t *testing.T) {
	store := newFakeStore()
	seedStay(store, 1, 1000000, model.CapacityFamily, "2026-09-01", "2026-09-03")
	store.addNight(1, "2026-09-02", 1000000, false, model.CapacityFamily)
	svc := NewService(store, &fakeRates{rate: 1}, 0)

	_, err := svc.Quote(context.Background(), 1, "2026-09-01", "2026-09-04", "IDR", 2)
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

// TestQuoteMissingCalendar verifies that a night with no published
// inventory row is treated the same as a booked one.
func TestQuoteMissingCalendar(t *testing.T) {
	store := newFakeStore()
	seedStay(store, 1, 1000000, model.CapacityFamily, "2026-09-01")
	svc := NewService(store, &fakeRates{rate: 1}, 0)

	_, err := svc.Quote(context.Background(), 1, "2026-09-01", "2026-09-03", "IDR", 2)
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

// TestQuoteCapacityMismatch verifies that a couple villa refuses a
// party of three.
func TestQuoteCapacityMismatch(t *testing.T) {
	store := newFakeStore()
	seedStay(store, 1, 1000000, model.CapacityCouple, "2026-09-01")
	svc := NewService(store, &fakeRates{rate: 1}, 0)

	_, err := svc.Quote(context.Background(), 1, "2026-09-01", "2026-09-02", "IDR", 3)
	if !errors.Is(err, repository.ErrCapacityMismatch) {
		t.Fatalf("expected ErrCapacityMismatch, got %v", err)
	}
}

// TestQuoteInvalidRange verifies that a reversed or zero-night range
// never reaches the store.
func TestQuoteInvalidRange(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeRates{rate: 1}, 0)
	for _, tc := range [][2]string{
		{"2026-09-04", "2026-09-01"},
		{"2026-09-01", "2026-09-01"},
		{"not-a-date", "2026-09-02"},
	} {
		if _, err := svc.Quote(context.Background(), 1, tc[0], tc[1], "IDR", 2); !errors.Is(err, repository.ErrUnavailable) {
			t.Errorf("range %v: expected ErrUnavailable, got %v", tc, err)
		}
	}
}

// TestConcurrentLockOneWins verifies the double-booking guarantee: of
// many concurrent lock attempts for the same nights exactly one
// succeeds.
func TestConcurrentLockOneWins(t *testing.T) {
	store := newFakeStore()
	seedStay(store, 1, 1000000, model.CapacityFamily, "2026-09-01", "2026-09-02")
	svc := NewService(store, &fakeRates{rate: 1}, time.Minute)

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Lock(context.Background(), 1, "2026-09-01", "2026-09-03", fmt.Sprintf("session-%d", n))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	won, lost := 0, 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, repository.ErrUnavailable):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != attempts-1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d losers", won, lost)
	}
}

// TestCommitAfterExpiry verifies that a commit arriving past the
// lock's TTL fails with ErrLockExpired and does not claim the nights.
func TestCommitAfterExpiry(t *testing.T) {
	store := newFakeStore()
	seedStay(store, 1, 1000000, model.CapacityCouple, "2026-09-01")
	svc := NewService(store, &fakeRates{rate: 1}, time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	lock, err := svc.Lock(context.Background(), 1, "2026-09-01", "2026-09-02", "session-1")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := svc.Commit(context.Background(), lock.Token); !errors.Is(err, repository.ErrLockExpired) {
		t.Fatalf("expected ErrLockExpired, got %v", err)
	}
	if !store.nights[nightKey(1, "2026-09-01")].Available {
		t.Fatal("night must stay available after an expired commit")
	}
}

// TestCommitClaimsNights verifies that a timely commit flips the
// nights to unavailable and consumes the lock.
func TestCommitClaimsNights(t *testing.T) {
	store := newFakeStore()
	seedStay(store, 1, 1000000, model.CapacityCouple, "2026-09-01", "2026-09-02")
	svc := NewService(store, &fakeRates{rate: 1}, time.Minute)

	lock, err := svc.Lock(context.Background(), 1, "2026-09-01", "2026-09-03", "session-1")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := svc.Commit(context.Background(), lock.Token); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	for _, d := range []string{"2026-09-01", "2026-09-02"} {
		if store.nights[nightKey(1, d)].Available {
			t.Errorf("night %s still available after commit", d)
		}
	}
	if err := svc.Commit(context.Background(), lock.Token); !errors.Is(err, repository.ErrLockNotFound) {
		t.Fatalf("second commit: expected ErrLockNotFound, got %v", err)
	}
}

// TestReleaseIsIdempotent verifies that releasing frees the nights and
// that releasing again (or an unknown token) succeeds quietly.
func TestReleaseIsIdempotent(t *testing.T) {
	store := newFakeStore()
	seedStay(store, 1, 1000000, model.CapacityCouple, "2026-09-01")
	svc := NewService(store, &fakeRates{rate: 1}, time.Minute)

	lock, err := svc.Lock(context.Background(), 1, "2026-09-01", "2026-09-02", "session-1")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := svc.Release(context.Background(), lock.Token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := svc.Lock(context.Background(), 1, "2026-09-01", "2026-09-02", "session-2"); err != nil {
		t.Fatalf("re-lock after release failed: %v", err)
	}
	if err := svc.Release(context.Background(), "no-such-token"); err != nil {
		t.Fatalf("releasing unknown token must succeed, got %v", err)
	}
}

// TestQuoteUnknownCurrency verifies the rate error propagates.
func TestQuoteUnknownCurrency(t *testing.T) {
	store := newFakeStore()
	seedStay(store, 1, 1000000, model.CapacityCouple, "2026-09-01")
	svc := NewService(store, &fakeRates{err: repository.ErrUnknownCurrency}, 0)

	_, err := svc.Quote(context.Background(), 1, "2026-09-01", "2026-09-02", "XXX", 2)
	if !errors.Is(err, repository.ErrUnknownCurrency) {
		t.Fatalf("expected ErrUnknownCurrency, got %v", err)
	}
}
