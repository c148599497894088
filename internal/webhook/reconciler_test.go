package webhook

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

// fakeWebhookStore mimics repository.WebhookStore in memory: an
// append-only event log, reservations with last-writer-wins guarded
// updates, and per-night availability.
type fakeWebhookStore struct {
	mu           sync.Mutex
	log          []*model.WebhookEvent
	reservations map[uint64]*model.Reservation
	nights       map[string]repository.RateDay // key villa|date
	nextLogID    uint64
	nextResID    uint64
}

func newFakeWebhookStore() *fakeWebhookStore {
	return &fakeWebhookStore{
		reservations: make(map[uint64]*model.Reservation),
		nights:       make(map[string]repository.RateDay),
	}
}

func (f *fakeWebhookStore) addReservation(res model.Reservation) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextResID++
	res.ID = f.nextResID
	f.reservations[res.ID] = &res
	return res.ID
}

func (f *fakeWebhookStore) Append(ctx context.Context, ev *model.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLogID++
	ev.ID = f.nextLogID
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	cp := *ev
	f.log = append(f.log, &cp)
	return nil
}

func (f *fakeWebhookStore) HasApplied(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.log {
		if rec.EventID == eventID && rec.Status == model.EventApplied {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWebhookStore) MarkStatus(ctx context.Context, logID uint64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.log {
		if rec.ID == logID {
			rec.Status = status
			return nil
		}
	}
	return fmt.Errorf("log row %d not found", logID)
}

func (f *fakeWebhookStore) ListPending(ctx context.Context, olderThan time.Duration) ([]model.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.WebhookEvent
	cutoff := time.Now().Add(-olderThan)
	for _, rec := range f.log {
		if rec.Status == model.EventPending && rec.ReceivedAt.Before(cutoff) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeWebhookStore) FindByPMSID(ctx context.Context, pmsID string) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range f.reservations {
		if res.PMSReservationID != nil && *res.PMSReservationID == pmsID {
			cp := *res
			return &cp, nil
		}
	}
	return nil, repository.ErrReservationNotFound
}

func (f *fakeWebhookStore) FindLocalMatch(ctx context.Context, villaID uint64, checkIn, checkOut string) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range f.reservations {
		if res.SyncStatus == model.SyncLocalOnly && res.VillaID == villaID &&
			res.CheckIn == checkIn && res.CheckOut == checkOut {
			cp := *res
			return &cp, nil
		}
	}
	return nil, repository.ErrReservationNotFound
}

func (f *fakeWebhookStore) ApplySync(ctx context.Context, logID uint64, reservation *model.Reservation, pmsID *string, status string, eventAt time.Time, free bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[reservation.ID]
	if !ok {
		return false, repository.ErrReservationNotFound
	}
	applied := res.LastEventAt == nil || !res.LastEventAt.After(eventAt)
	if applied {
		res.SyncStatus = status
		at := eventAt
		res.LastEventAt = &at
		if res.PMSReservationID == nil && pmsID != nil {
			id := *pmsID
			res.PMSReservationID = &id
		}
		if free {
			f.setRange(res.VillaID, res.CheckIn, res.CheckOut, true)
		}
	}
	f.markStatusLocked(logID, model.EventApplied)
	return applied, nil
}

func (f *fakeWebhookStore) ApplyExternal(ctx context.Context, logID uint64, villaID uint64, checkIn, checkOut string, price float64, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setRange(villaID, checkIn, checkOut, available)
	f.markStatusLocked(logID, model.EventApplied)
	return nil
}

func (f *fakeWebhookStore) ApplyRates(ctx context.Context, logID uint64, villaID uint64, days []repository.RateDay) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range days {
		f.nights[fmt.Sprintf("%d|%s", villaID, d.Date)] = d
	}
	f.markStatusLocked(logID, model.EventApplied)
	return nil
}

func (f *fakeWebhookStore) setRange(villaID uint64, checkIn, checkOut string, available bool) {
	nights, _ := repository.NightsBetween(checkIn, checkOut)
	for _, d := range nights {
		key := fmt.Sprintf("%d|%s", villaID, d)
		rec := f.nights[key]
		rec.Date = d
		rec.Available = available
		f.nights[key] = rec
	}
}

func (f *fakeWebhookStore) markStatusLocked(logID uint64, status string) {
	for _, rec := range f.log {
		if rec.ID == logID {
			rec.Status = status
		}
	}
}

func (f *fakeWebhookStore) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.log))
	for i, rec := range f.log {
		out[i] = rec.Status
	}
	return out
}

func (f *fakeWebhookStore) reservation(id uint64) model.Reservation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.reservations[id]
}

func (f *fakeWebhookStore) night(villaID uint64, date string) repository.RateDay {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nights[fmt.Sprintf("%d|%s", villaID, date)]
}

func reservationPayload(action, eventID, pmsID string, villaID uint64, arrival, departure, modifiedAt string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": %q,
		"eventId": %q,
		"data": {
			"id": %s,
			"apartmentId": %d,
			"arrival": %q,
			"departure": %q,
			"guestName": "Ana Souza",
			"email": "ana@example.com",
			"modifiedAt": %q
		}
	}`, action, eventID, pmsID, villaID, arrival, departure, modifiedAt))
}

// TestIngestEmptyPayload verifies the only hard rejection.
func TestIngestEmptyPayload(t *testing.T) {
	r := NewReconciler(newFakeWebhookStore())
	if err := r.Ingest(context.Background(), []byte("  \n")); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

// TestIngestMalformedIsLoggedNotRaised verifies that garbage and
// schema-violating payloads land as REJECTED audit rows and Ingest
// reports success so the PMS stops redelivering.
func TestIngestMalformedIsLoggedNotRaised(t *testing.T) {
	store := newFakeWebhookStore()
	r := NewReconciler(store)
	payloads := [][]byte{
		[]byte("{not json"),
		[]byte(`{"action": "newReservation", "data": {"apartmentId": 5}}`),
		[]byte(`{"action": "sing", "data": {}}`),
		[]byte(`{"data": {"id": 1}}`),
		[]byte(`{"action": "newReservation", "data": {"id": 9, "apartmentId": 5, "arrival": "not-a-date", "departure": "2026-09-03"}}`),
	}
	for _, p := range payloads {
		if err := r.Ingest(context.Background(), p); err != nil {
			t.Fatalf("Ingest(%s) raised: %v", p, err)
		}
	}
	for i, status := range store.statuses() {
		if status != model.EventRejected {
			t.Errorf("row %d: expected REJECTED, got %s", i, status)
		}
	}
}

// TestIngestExternalBookingBlocksNights verifies that a reservation
// unknown to us blocks its nights on the calendar.
func TestIngestExternalBookingBlocksNights(t *testing.T) {
	store := newFakeWebhookStore()
	r := NewReconciler(store)

	payload := reservationPayload(ActionNewReservation, "ev-1", "777", 3, "2026-09-01", "2026-09-03", "2026-08-30 10:00:00")
	if err := r.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	for _, d := range []string{"2026-09-01", "2026-09-02"} {
		if store.night(3, d).Available {
			t.Errorf("night %s should be blocked", d)
		}
	}
	if got := store.statuses(); got[0] != model.EventApplied {
		t.Errorf("expected APPLIED, got %s", got[0])
	}
}

// TestIngestBindsLocalReservation verifies the echo case: the PMS
// reports a reservation we pushed, matched by villa and stay, and the
// local row picks up the PMS id with status SYNCED.
func TestIngestBindsLocalReservation(t *testing.T) {
	store := newFakeWebhookStore()
	resID := store.addReservation(model.Reservation{
		VillaID:    3,
		CheckIn:    "2026-09-01",
		CheckOut:   "2026-09-03",
		GuestName:  "Ana Souza",
		SyncStatus: model.SyncLocalOnly,
	})
	r := NewReconciler(store)

	payload := reservationPayload(ActionNewReservation, "ev-1", "777", 3, "2026-09-01", "2026-09-03", "2026-08-30 10:00:00")
	if err := r.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	res := store.reservation(resID)
	if res.PMSReservationID == nil || *res.PMSReservationID != "777" {
		t.Fatalf("PMS id not bound: %+v", res)
	}
	if res.SyncStatus != model.SyncSynced {
		t.Errorf("expected SYNCED, got %s", res.SyncStatus)
	}
}

// TestIngestDuplicateIsNoOp verifies idempotency: a redelivery of an
// applied event is recorded as DUPLICATE and changes nothing.
func TestIngestDuplicateIsNoOp(t *testing.T) {
	store := newFakeWebhookStore()
	resID := store.addReservation(model.Reservation{
		VillaID: 3, CheckIn: "2026-09-01", CheckOut: "2026-09-03", SyncStatus: model.SyncLocalOnly,
	})
	r := NewReconciler(store)

	payload := reservationPayload(ActionNewReservation, "ev-1", "777", 3, "2026-09-01", "2026-09-03", "2026-08-30 10:00:00")
	if err := r.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	first := store.reservation(resID)
	if err := r.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	statuses := store.statuses()
	if statuses[0] != model.EventApplied || statuses[1] != model.EventDuplicate {
		t.Fatalf("expected [APPLIED DUPLICATE], got %v", statuses)
	}
	if second := store.reservation(resID); second != first {
		t.Errorf("duplicate delivery mutated the reservation")
	}
}

// TestOutOfOrderEventsLastWriterWins verifies that when T2 arrives
// before T1, the older T1 is logged but skipped and the newer state
// survives.
func TestOutOfOrderEventsLastWriterWins(t *testing.T) {
	store := newFakeWebhookStore()
	pms := "777"
	resID := store.addReservation(model.Reservation{
		VillaID: 3, CheckIn: "2026-09-01", CheckOut: "2026-09-03",
		PMSReservationID: &pms, SyncStatus: model.SyncSynced,
	})
	r := NewReconciler(store)

	newer := reservationPayload(ActionCancelReservation, "ev-t2", "777", 3, "2026-09-01", "2026-09-03", "2026-08-30 12:00:00")
	older := reservationPayload(ActionUpdateReservation, "ev-t1", "777", 3, "2026-09-01", "2026-09-03", "2026-08-30 11:00:00")

	if err := r.Ingest(context.Background(), newer); err != nil {
		t.Fatalf("Ingest newer failed: %v", err)
	}
	if err := r.Ingest(context.Background(), older); err != nil {
		t.Fatalf("Ingest older failed: %v", err)
	}
	res := store.reservation(resID)
	if res.SyncStatus != model.SyncPMSCancelled {
		t.Fatalf("stale update overwrote the cancellation: %s", res.SyncStatus)
	}
	// Both rows are audited even though only one applied state.
	statuses := store.statuses()
	if statuses[0] != model.EventApplied || statuses[1] != model.EventApplied {
		t.Fatalf("expected both audit rows closed out, got %v", statuses)
	}
}

// TestCancelFreesNightsAndNotifies verifies cancellation of a synced
// reservation: nights reopen and the hook fires.
func TestCancelFreesNightsAndNotifies(t *testing.T) {
	store := newFakeWebhookStore()
	pms := "777"
	store.addReservation(model.Reservation{
		VillaID: 3, CheckIn: "2026-09-01", CheckOut: "2026-09-03",
		PMSReservationID: &pms, SyncStatus: model.SyncSynced,
	})
	store.setRange(3, "2026-09-01", "2026-09-03", false)
	r := NewReconciler(store)

	var notified *model.Reservation
	r.OnCancelled = func(ctx context.Context, res *model.Reservation) { notified = res }

	payload := reservationPayload(ActionCancelReservation, "ev-1", "777", 3, "2026-09-01", "2026-09-03", "2026-08-30 10:00:00")
	if err := r.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	for _, d := range []string{"2026-09-01", "2026-09-02"} {
		if !store.night(3, d).Available {
			t.Errorf("night %s should be free again", d)
		}
	}
	if notified == nil || notified.SyncStatus != model.SyncPMSCancelled {
		t.Errorf("cancellation hook not fired correctly: %+v", notified)
	}
}

// TestRatesPushUpdatesCalendar verifies price and availability pushes.
func TestRatesPushUpdatesCalendar(t *testing.T) {
	store := newFakeWebhookStore()
	r := NewReconciler(store)

	payload := []byte(`{
		"action": "updateRates",
		"eventId": "ev-r1",
		"data": {
			"apartmentId": 3,
			"days": [
				{"date": "2026-09-01", "price": 2150000, "available": true},
				{"date": "2026-09-02", "price": 1900000, "available": false}
			]
		}
	}`)
	if err := r.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if d := store.night(3, "2026-09-01"); d.Price != 2150000 || !d.Available {
		t.Errorf("unexpected night: %+v", d)
	}
	if d := store.night(3, "2026-09-02"); d.Price != 1900000 || d.Available {
		t.Errorf("unexpected night: %+v", d)
	}
}

// TestRecoverPending verifies that a PENDING row older than the grace
// period is re-applied on recovery.
func TestRecoverPending(t *testing.T) {
	store := newFakeWebhookStore()
	payload := reservationPayload(ActionNewReservation, "ev-1", "777", 3, "2026-09-01", "2026-09-03", "2026-08-30 10:00:00")
	rec := &model.WebhookEvent{
		EventID:    "ev-1",
		EventType:  ActionNewReservation,
		Payload:    payload,
		Status:     model.EventPending,
		ReceivedAt: time.Now().Add(-5 * time.Minute),
	}
	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	r := NewReconciler(store)
	if err := r.RecoverPending(context.Background()); err != nil {
		t.Fatalf("RecoverPending failed: %v", err)
	}
	if got := store.statuses(); got[0] != model.EventApplied {
		t.Fatalf("expected APPLIED after recovery, got %s", got[0])
	}
	if store.night(3, "2026-09-01").Available {
		t.Error("recovered event did not block the night")
	}
}

// TestParseEventSynthesizesID verifies that deliveries without an
// eventId get a stable digest-based one.
func TestParseEventSynthesizesID(t *testing.T) {
	raw := []byte(`{"action": "updateRates", "data": {"apartmentId": 3, "days": [{"date": "2026-09-01", "price": 1, "available": true}]}}`)
	a, err := ParseEvent(raw, time.Now())
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	b, _ := ParseEvent(raw, time.Now().Add(time.Hour))
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("synthesized ids must be stable: %q vs %q", a.ID, b.ID)
	}
	if a.ID != SynthesizeID(raw) {
		t.Errorf("synthesized id mismatch")
	}
}

// TestParseEventTimestampForms verifies both accepted modifiedAt
// layouts and the receivedAt fallback.
func TestParseEventTimestampForms(t *testing.T) {
	received := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		modifiedAt string
		want       time.Time
	}{
		{"2026-08-30 10:00:00", time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)},
		{"2026-08-30T10:00:00Z", time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)},
		{"", received},
	}
	for _, tc := range cases {
		payload := reservationPayload(ActionNewReservation, "ev-1", "777", 3, "2026-09-01", "2026-09-03", tc.modifiedAt)
		ev, err := ParseEvent(payload, received)
		if err != nil {
			t.Fatalf("ParseEvent(%q) failed: %v", tc.modifiedAt, err)
		}
		if !ev.Reservation.ModifiedAt.Equal(tc.want) {
			t.Errorf("modifiedAt %q: got %v, expected %v", tc.modifiedAt, ev.Reservation.ModifiedAt, tc.want)
		}
	}
}
