package model

import "time"

// Webhook event processing statuses. The log is append-only: a row is
// written for every delivery, including malformed and redelivered
// ones, so the audit trail never depends on the PMS keeping history.
const (
	EventPending   = "PENDING"
	EventApplied   = "APPLIED"
	EventRejected  = "REJECTED"
	EventDuplicate = "DUPLICATE"
)

// WebhookEvent is one received PMS delivery. EventID is the stable
// identifier used for deduplication: the PMS-supplied id when present,
// otherwise a digest of the raw payload. At most one row per EventID
// ever carries the APPLIED status.
type WebhookEvent struct {
	ID         uint64    // webhook_events.id
	EventID    string    // webhook_events.event_id
	EventType  string    // webhook_events.event_type
	Payload    []byte    // webhook_events.payload (verbatim)
	Status     string    // webhook_events.status
	ReceivedAt time.Time // webhook_events.received_at
}
