package model

import "time"

// Payment session states. Transitions are monotonic along the order
// below except FAILED, which is reachable from any non-terminal state.
// CONFIRMED is reachable only from VERIFIED, and SUCCESS only from
// CONFIRMED. SUCCESS and FAILED are terminal.
const (
	StateCreating  = "CREATING"
	StateInReview  = "IN_REVIEW"
	StateVerified  = "VERIFIED"
	StateConfirmed = "CONFIRMED"
	StateSuccess   = "SUCCESS"
	StateFailed    = "FAILED"
)

// IsTerminalState reports whether a session in the given state can
// still move. FAILED sessions are retriable only through a brand new
// session that copies the cart.
func IsTerminalState(s string) bool {
	return s == StateSuccess || s == StateFailed
}

// CartSnapshot is the booking the guest is paying for, frozen at token
// creation so a retry after failure can reuse it. Amounts are in the
// quoted currency, not the base currency.
type CartSnapshot struct {
	VillaID    uint64  `json:"villa_id"`
	VillaName  string  `json:"villa_name,omitempty"`
	CheckIn    string  `json:"check_in"`
	CheckOut   string  `json:"check_out"`
	Currency   string  `json:"currency"`
	Total      float64 `json:"total"`
	Adults     int     `json:"adults"`
	Children   int     `json:"children"`
	GuestName  string  `json:"guest_name"`
	GivenName  string  `json:"given_name"`
	FamilyName string  `json:"family_name"`
	GuestEmail string  `json:"guest_email"`
	LockToken  string  `json:"lock_token,omitempty"`
}

// PaymentSession is the server-authoritative record of one payment
// attempt against the gateway. It is owned exclusively by the payment
// authenticator; the commit coordinator reads it but never mutates it
// directly. Clients only ever see a read-only projection.
//
// Fields:
//  ID                – session identifier (UUID), returned to the client.
//  Cart              – frozen cart snapshot for this attempt.
//  State             – current state machine position.
//  GatewayTokenID    – token issued by the payment gateway.
//  AuthenticationURL – 3-D Secure challenge URL for the client to open.
//  LastError         – classification of the failure when State is FAILED.
//  CompensationNote  – recorded when finalization hit an inventory
//                      conflict after the charge was confirmed.
type PaymentSession struct {
	ID                string       // payment_sessions.id
	Cart              CartSnapshot // payment_sessions.cart (JSON)
	State             string       // payment_sessions.state
	GatewayTokenID    string       // payment_sessions.gateway_token_id
	AuthenticationURL string       // payment_sessions.authentication_url
	LastError         string       // payment_sessions.last_error
	CompensationNote  string       // payment_sessions.compensation_note
	CreatedAt         time.Time    // payment_sessions.created_at
	UpdatedAt         time.Time    // payment_sessions.updated_at
}
