package rates

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Andrewske/masakali-retreat/internal/model"
)

// ErrRefreshInProgress is returned when a refresh trigger arrives
// while another refresh is still running. Overlapping triggers are
// coalesced: the caller can report success and rely on the in-flight
// execution.
var ErrRefreshInProgress = errors.New("rates: refresh already in progress")

// refreshLockKey and refreshLockTTL guard the refresh across
// instances. The TTL bounds how long a crashed holder can block the
// next refresh.
const (
	refreshLockKey = "rates:refresh"
	refreshLockTTL = 10 * time.Minute
)

// Store is the persistence the cache needs: batch upserts and single
// reads. The MySQL implementation lives in the repository package.
type Store interface {
	UpsertBatch(ctx context.Context, rates map[string]float64, fetchedAt time.Time) error
	Get(ctx context.Context, code string) (model.ExchangeRate, error)
}

// BatchResult reports the outcome of one provider batch within a
// refresh. A failed batch names its error; the rest of the refresh
// continues regardless.
type BatchResult struct {
	Currencies []string `json:"currencies"`
	Succeeded  bool     `json:"succeeded"`
	Error      string   `json:"error,omitempty"`
}

// Report summarizes a whole refresh run.
type Report struct {
	Batches  []BatchResult `json:"batches"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
}

// Cache serves exchange rates from durable storage and refreshes them
// from the provider in rate-limit-friendly batches. Reads never touch
// the provider: GetRate always answers from the last persisted value,
// annotated with its age, or fails with ErrUnknownCurrency for a
// currency that has never been fetched.
type Cache struct {
	store      Store
	provider   Provider
	rdb        *redis.Client // optional; nil degrades to the local guard
	currencies []string
	batchSize  int

	mu sync.Mutex // local single-flight guard
}

// NewCache builds a Cache over the given store and provider. rdb may
// be nil when Redis is not configured; the refresh then single-flights
// within this process only. Currencies is the full supported set that
// a scheduled refresh walks through.
func NewCache(store Store, provider Provider, rdb *redis.Client, currencies []string, batchSize int) *Cache {
	if batchSize <= 0 {
		batchSize = 10
	}
	upper := make([]string, 0, len(currencies))
	for _, c := range currencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" && c != model.BaseCurrency {
			upper = append(upper, c)
		}
	}
	return &Cache{store: store, provider: provider, rdb: rdb, currencies: upper, batchSize: batchSize}
}

// GetRate returns the stored rate for a currency together with the age
// of the value. The base currency always converts at 1 with age zero.
func (c *Cache) GetRate(ctx context.Context, currency string) (float64, time.Duration, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == model.BaseCurrency {
		return 1, 0, nil
	}
	rec, err := c.store.Get(ctx, code)
	if err != nil {
		return 0, 0, err
	}
	return rec.Rate, time.Since(rec.FetchedAt), nil
}

// RefreshAll fetches the full supported-currency set in batches and
// persists each successful batch in its own transaction. A failing
// batch is logged and skipped so one bad upstream answer never
// invalidates rates fetched moments earlier. Concurrent invocations
// are coalesced: the loser returns ErrRefreshInProgress immediately.
func (c *Cache) RefreshAll(ctx context.Context) (*Report, error) {
	if !c.mu.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer c.mu.Unlock()
	release, err := c.acquireDistributed(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	report := &Report{Started: time.Now().UTC()}
	for _, batch := range partition(c.currencies, c.batchSize) {
		result := BatchResult{Currencies: batch}
		fetched, err := c.fetchWithRetry(ctx, batch)
		if err != nil {
			result.Error = err.Error()
			log.Printf("rates: batch %v failed: %v", batch, err)
		} else if err := c.store.UpsertBatch(ctx, fetched, time.Now().UTC()); err != nil {
			result.Error = err.Error()
			log.Printf("rates: persisting batch %v failed: %v", batch, err)
		} else {
			result.Succeeded = true
		}
		report.Batches = append(report.Batches, result)
	}
	report.Finished = time.Now().UTC()
	return report, nil
}

// StartScheduler runs RefreshAll once immediately and then on the
// given interval until ctx is cancelled. Intended to be launched as a
// goroutine from main; an external scheduler hitting the refresh
// endpoint coexists safely thanks to the single-flight guard.
func (c *Cache) StartScheduler(ctx context.Context, interval time.Duration) {
	run := func() {
		if _, err := c.RefreshAll(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
			log.Printf("rates: scheduled refresh failed: %v", err)
		}
	}
	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// acquireDistributed takes the cross-instance refresh lock when Redis
// is configured. Without Redis the local mutex already held by the
// caller is the only guard, which is correct for a single instance.
func (c *Cache) acquireDistributed(ctx context.Context) (func(), error) {
	if c.rdb == nil {
		return func() {}, nil
	}
	ok, err := c.rdb.SetNX(ctx, refreshLockKey, "1", refreshLockTTL).Result()
	if err != nil {
		// Redis being down must not take the refresh down with it.
		log.Printf("rates: refresh lock unavailable, proceeding locally: %v", err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrRefreshInProgress
	}
	return func() {
		if err := c.rdb.Del(context.Background(), refreshLockKey).Err(); err != nil {
			log.Printf("rates: releasing refresh lock failed: %v", err)
		}
	}, nil
}

// fetchWithRetry retries the provider a bounded number of times.
// Fetching is idempotent so retrying is always safe.
func (c *Cache) fetchWithRetry(ctx context.Context, batch []string) (map[string]float64, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		fetched, err := c.provider.FetchRates(ctx, batch)
		if err == nil {
			return fetched, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// partition splits codes into fixed-size batches, preserving order.
func partition(codes []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(codes); start += size {
		end := start + size
		if end > len(codes) {
			end = len(codes)
		}
		out = append(out, codes[start:end])
	}
	return out
}
