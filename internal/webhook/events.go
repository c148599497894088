// Package webhook ingests property-management-system events and
// reconciles them against the availability ledger and reservation
// records under idempotency and last-writer-wins guarantees.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/repository"
)

// PMS event actions. The envelope's action field discriminates the
// payload shape; anything else is rejected at the boundary before any
// business logic runs.
const (
	ActionNewReservation    = "newReservation"
	ActionUpdateReservation = "updateReservation"
	ActionCancelReservation = "cancelReservation"
	ActionDeleteReservation = "deleteReservation"
	ActionUpdateRates       = "updateRates"
)

// ReservationEvent is a parsed reservation-lifecycle event.
type ReservationEvent struct {
	PMSID      string
	VillaID    uint64
	Arrival    string
	Departure  string
	GuestName  string
	GuestEmail string
	ModifiedAt time.Time
}

// RateEvent is a parsed rate/availability push for one villa.
type RateEvent struct {
	VillaID uint64
	Days    []repository.RateDay
}

// Event is the closed set of things the PMS can tell us, produced by
// ParseEvent before any business logic executes. Exactly one of
// Reservation and Rates is set, matching Type.
type Event struct {
	ID          string
	Type        string
	Reservation *ReservationEvent
	Rates       *RateEvent
}

// SerializationKey scopes the per-key mutex that serializes event
// application: reservation events serialize on the PMS reservation id,
// rate events on the villa. Unrelated keys apply in parallel.
func (e *Event) SerializationKey() string {
	if e.Reservation != nil {
		return "pms:" + e.Reservation.PMSID
	}
	return "villa:" + strconv.FormatUint(e.Rates.VillaID, 10)
}

type envelope struct {
	Action  string          `json:"action"`
	EventID string          `json:"eventId"`
	Data    json.RawMessage `json:"data"`
}

type reservationData struct {
	ID          json.Number `json:"id"`
	ApartmentID uint64      `json:"apartmentId"`
	Arrival     string      `json:"arrival"`
	Departure   string      `json:"departure"`
	GuestName   string      `json:"guestName"`
	Email       string      `json:"email"`
	ModifiedAt  string      `json:"modifiedAt"`
}

type ratesData struct {
	ApartmentID uint64 `json:"apartmentId"`
	Days        []struct {
		Date      string  `json:"date"`
		Price     float64 `json:"price"`
		Available bool    `json:"available"`
	} `json:"days"`
}

// SynthesizeID derives a stable identifier from the raw payload for
// deliveries that carry no eventId of their own. Identical payloads
// dedupe; that is exactly the redelivery case.
func SynthesizeID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ParseEvent validates a raw delivery against the discriminated event
// schema and produces a typed Event. receivedAt substitutes for a
// missing modification timestamp, degrading last-writer-wins to
// arrival order for that event only.
func ParseEvent(raw []byte, receivedAt time.Time) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	ev := &Event{Type: env.Action, ID: env.EventID}
	if ev.ID == "" {
		ev.ID = SynthesizeID(raw)
	}
	switch env.Action {
	case ActionNewReservation, ActionUpdateReservation, ActionCancelReservation, ActionDeleteReservation:
		res, err := parseReservation(env.Data, receivedAt)
		if err != nil {
			return nil, err
		}
		ev.Reservation = res
	case ActionUpdateRates:
		rates, err := parseRates(env.Data)
		if err != nil {
			return nil, err
		}
		ev.Rates = rates
	case "":
		return nil, fmt.Errorf("missing action")
	default:
		return nil, fmt.Errorf("unknown action %q", env.Action)
	}
	return ev, nil
}

func parseReservation(data json.RawMessage, receivedAt time.Time) (*ReservationEvent, error) {
	var d reservationData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("malformed reservation data: %w", err)
	}
	if d.ID.String() == "" || d.ID.String() == "0" {
		return nil, fmt.Errorf("reservation event without id")
	}
	if d.ApartmentID == 0 {
		return nil, fmt.Errorf("reservation event without apartmentId")
	}
	if err := checkDate(d.Arrival); err != nil {
		return nil, fmt.Errorf("arrival: %w", err)
	}
	if err := checkDate(d.Departure); err != nil {
		return nil, fmt.Errorf("departure: %w", err)
	}
	modifiedAt := receivedAt
	if d.ModifiedAt != "" {
		parsed, err := parseTimestamp(d.ModifiedAt)
		if err != nil {
			return nil, fmt.Errorf("modifiedAt: %w", err)
		}
		modifiedAt = parsed
	}
	return &ReservationEvent{
		PMSID:      d.ID.String(),
		VillaID:    d.ApartmentID,
		Arrival:    d.Arrival,
		Departure:  d.Departure,
		GuestName:  d.GuestName,
		GuestEmail: d.Email,
		ModifiedAt: modifiedAt.UTC(),
	}, nil
}

func parseRates(data json.RawMessage) (*RateEvent, error) {
	var d ratesData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("malformed rates data: %w", err)
	}
	if d.ApartmentID == 0 {
		return nil, fmt.Errorf("rates event without apartmentId")
	}
	if len(d.Days) == 0 {
		return nil, fmt.Errorf("rates event without days")
	}
	ev := &RateEvent{VillaID: d.ApartmentID}
	for _, day := range d.Days {
		if err := checkDate(day.Date); err != nil {
			return nil, err
		}
		if day.Price < 0 {
			return nil, fmt.Errorf("negative price for %s", day.Date)
		}
		ev.Days = append(ev.Days, repository.RateDay{Date: day.Date, Price: day.Price, Available: day.Available})
	}
	return ev, nil
}

func checkDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("invalid date %q", s)
	}
	return nil
}

// parseTimestamp accepts the PMS's "2006-01-02 15:04:05" form as well
// as RFC 3339, both read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
