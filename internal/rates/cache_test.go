package rates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
	"github.com/Andrewske/masakali-retreat/internal/repository"
)

// fakeRateStore is an in-memory rate table.
type fakeRateStore struct {
	mu    sync.Mutex
	rates map[string]model.ExchangeRate
	err   error
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{rates: make(map[string]model.ExchangeRate)}
}

func (f *fakeRateStore) UpsertBatch(ctx context.Context, rates map[string]float64, fetchedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for code, rate := range rates {
		f.rates[code] = model.ExchangeRate{CurrencyCode: code, Rate: rate, FetchedAt: fetchedAt}
	}
	return nil
}

func (f *fakeRateStore) Get(ctx context.Context, code string) (model.ExchangeRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rates[code]
	if !ok {
		return model.ExchangeRate{}, repository.ErrUnknownCurrency
	}
	return rec, nil
}

// fakeProvider answers per-batch, optionally failing for batches that
// contain a poisoned currency or for the first N calls.
type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	poisoned  string
	block     chan struct{} // when set, FetchRates waits on it
}

func (f *fakeProvider) FetchRates(ctx context.Context, currencies []string) (map[string]float64, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.failFirst >= calls {
		return nil, errors.New("upstream 503")
	}
	out := make(map[string]float64, len(currencies))
	for _, c := range currencies {
		if c == f.poisoned {
			return nil, errors.New("upstream 422")
		}
		out[c] = 0.0001
	}
	return out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TestGetRateBaseCurrency verifies the identity rate for IDR.
func TestGetRateBaseCurrency(t *testing.T) {
	cache := NewCache(newFakeRateStore(), &fakeProvider{}, nil, []string{"USD"}, 10)
	rate, age, err := cache.GetRate(context.Background(), "idr")
	if err != nil || rate != 1 || age != 0 {
		t.Fatalf("expected (1, 0, nil), got (%v, %v, %v)", rate, age, err)
	}
}

// TestGetRateUnknownCurrency verifies the read path for a currency
// that was never fetched.
func TestGetRateUnknownCurrency(t *testing.T) {
	cache := NewCache(newFakeRateStore(), &fakeProvider{}, nil, []string{"USD"}, 10)
	if _, _, err := cache.GetRate(context.Background(), "XYZ"); !errors.Is(err, repository.ErrUnknownCurrency) {
		t.Fatalf("expected ErrUnknownCurrency, got %v", err)
	}
}

// TestRefreshAllBatchesAndServes verifies a full refresh: currencies
// are fetched in provider-sized batches, persisted, and served with an
// age afterwards.
func TestRefreshAllBatchesAndServes(t *testing.T) {
	store := newFakeRateStore()
	provider := &fakeProvider{}
	currencies := []string{"USD", "EUR", "GBP", "AUD", "SGD", "JPY", "CAD", "NZD", "CHF", "HKD", "CNY", "KRW"}
	cache := NewCache(store, provider, nil, currencies, 10)

	report, err := cache.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}
	// 12 currencies at batch size 10 means two batches.
	if len(report.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(report.Batches))
	}
	if provider.callCount() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", provider.callCount())
	}
	for i, b := range report.Batches {
		if !b.Succeeded {
			t.Errorf("batch %d failed: %s", i, b.Error)
		}
	}
	rate, age, err := cache.GetRate(context.Background(), "KRW")
	if err != nil {
		t.Fatalf("GetRate after refresh failed: %v", err)
	}
	if rate != 0.0001 {
		t.Errorf("expected 0.0001, got %v", rate)
	}
	if age < 0 || age > time.Minute {
		t.Errorf("implausible age %v", age)
	}
}

// TestRefreshPartialFailureKeepsGoodBatches verifies that one bad
// batch does not fail the run or discard other batches' rates.
func TestRefreshPartialFailureKeepsGoodBatches(t *testing.T) {
	store := newFakeRateStore()
	provider := &fakeProvider{poisoned: "EUR"}
	cache := NewCache(store, provider, nil, []string{"USD", "EUR", "GBP"}, 1)

	report, err := cache.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}
	if len(report.Batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(report.Batches))
	}
	if !report.Batches[0].Succeeded || report.Batches[1].Succeeded || !report.Batches[2].Succeeded {
		t.Fatalf("unexpected batch outcomes: %+v", report.Batches)
	}
	if report.Batches[1].Error == "" {
		t.Error("failed batch must carry its error")
	}
	if _, _, err := cache.GetRate(context.Background(), "USD"); err != nil {
		t.Errorf("USD should have been kept: %v", err)
	}
	if _, _, err := cache.GetRate(context.Background(), "EUR"); !errors.Is(err, repository.ErrUnknownCurrency) {
		t.Errorf("EUR should be unknown, got %v", err)
	}
}

// TestRefreshRetriesTransientFailure verifies the bounded retry on an
// idempotent fetch: the first attempt fails, the second succeeds.
func TestRefreshRetriesTransientFailure(t *testing.T) {
	store := newFakeRateStore()
	provider := &fakeProvider{failFirst: 1}
	cache := NewCache(store, provider, nil, []string{"USD"}, 10)

	report, err := cache.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}
	if !report.Batches[0].Succeeded {
		t.Fatalf("expected success after retry: %+v", report.Batches[0])
	}
	if provider.callCount() != 2 {
		t.Errorf("expected 2 attempts, got %d", provider.callCount())
	}
}

// TestRefreshSingleFlight verifies that a second trigger while a
// refresh is running fails fast with ErrRefreshInProgress.
func TestRefreshSingleFlight(t *testing.T) {
	store := newFakeRateStore()
	block := make(chan struct{})
	provider := &fakeProvider{block: block}
	cache := NewCache(store, provider, nil, []string{"USD"}, 10)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := cache.RefreshAll(context.Background())
		done <- err
	}()
	<-started
	// Wait for the first refresh to reach the provider.
	deadline := time.Now().Add(time.Second)
	for provider.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := cache.RefreshAll(context.Background()); !errors.Is(err, ErrRefreshInProgress) {
		t.Fatalf("expected ErrRefreshInProgress, got %v", err)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	// Once it finishes, a new refresh may run again.
	if _, err := cache.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh after completion failed: %v", err)
	}
}

// TestNewCacheDropsBaseCurrency verifies that the base currency never
// appears in the refresh set even when configured.
func TestNewCacheDropsBaseCurrency(t *testing.T) {
	cache := NewCache(newFakeRateStore(), &fakeProvider{}, nil, []string{"usd", "IDR", " eur "}, 10)
	if len(cache.currencies) != 2 || cache.currencies[0] != "USD" || cache.currencies[1] != "EUR" {
		t.Fatalf("unexpected currency set: %v", cache.currencies)
	}
}

// TestPartition covers the batch splitting.
func TestPartition(t *testing.T) {
	got := partition([]string{"a", "b", "c", "d", "e"}, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("unexpected partition: %v", got)
	}
	if partition(nil, 2) != nil {
		t.Error("empty input must produce no batches")
	}
}
