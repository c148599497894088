package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/Andrewske/masakali-retreat/internal/model"
)

// SessionRepo provides data access to the payment_sessions table. All
// state transitions are guarded UPDATEs of the form "set state to Y
// where state is currently X"; a transition that matches zero rows is
// reported as ErrStateConflict. That compare-and-swap discipline is
// what prevents double-confirmation races when two requests race on
// the same session.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the provided database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a new session in the CREATING state with its cart
// snapshot serialized as JSON.
func (r *SessionRepo) Create(ctx context.Context, s *model.PaymentSession) error {
	cart, err := json.Marshal(s.Cart)
	if err != nil {
		return err
	}
	const q = `INSERT INTO payment_sessions (id, cart, state) VALUES (?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q, s.ID, cart, model.StateCreating)
	return err
}

// Get loads a session by id. It returns ErrSessionNotFound when the
// id does not reference any stored session.
func (r *SessionRepo) Get(ctx context.Context, id string) (*model.PaymentSession, error) {
	const q = `SELECT id, cart, state, gateway_token_id, authentication_url, last_error, compensation_note, created_at, updated_at
	           FROM payment_sessions WHERE id = ?`
	var s model.PaymentSession
	var cart []byte
	var tokenID, authURL, lastErr, compNote sql.NullString
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &cart, &s.State, &tokenID, &authURL, &lastErr, &compNote, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cart, &s.Cart); err != nil {
		return nil, err
	}
	s.GatewayTokenID = tokenID.String
	s.AuthenticationURL = authURL.String
	s.LastError = lastErr.String
	s.CompensationNote = compNote.String
	return &s, nil
}

// Transition moves a session from one exact state to another. It
// returns ErrStateConflict when the session is not currently in the
// from state, which callers treat as "someone else got there first".
func (r *SessionRepo) Transition(ctx context.Context, id, from, to string) error {
	const q = `UPDATE payment_sessions SET state = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND state = ?`
	res, err := r.db.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

// TransitionTx is Transition executed inside an existing transaction,
// used when the state change must land atomically with other rows
// (for example CONFIRMED to SUCCESS alongside the reservation insert).
func (r *SessionRepo) TransitionTx(ctx context.Context, tx *sql.Tx, id, from, to string) error {
	const q = `UPDATE payment_sessions SET state = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND state = ?`
	res, err := tx.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

// SetGatewayToken records the token the gateway issued and moves the
// session out of CREATING in the same guarded update. The destination
// is IN_REVIEW when a 3-D Secure challenge is pending or VERIFIED when
// the gateway required none.
func (r *SessionRepo) SetGatewayToken(ctx context.Context, id, to, tokenID, authURL string) error {
	const q = `UPDATE payment_sessions
	           SET state = ?, gateway_token_id = ?, authentication_url = ?, updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND state = ?`
	res, err := r.db.ExecContext(ctx, q, to, tokenID, authURL, id, model.StateCreating)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

// MarkFailed moves a session to FAILED from any non-terminal state,
// recording the failure classification. Marking an already-terminal
// session returns ErrStateConflict; SUCCESS and FAILED never move.
func (r *SessionRepo) MarkFailed(ctx context.Context, id, reason string) error {
	const q = `UPDATE payment_sessions
	           SET state = ?, last_error = ?, updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND state NOT IN (?, ?)`
	res, err := r.db.ExecContext(ctx, q, model.StateFailed, reason, id, model.StateSuccess, model.StateFailed)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

// SetCompensationNote records why a confirmed charge could not be
// materialized into a reservation. The session stays CONFIRMED so the
// caller can offer rebooking against the already-verified payment.
func (r *SessionRepo) SetCompensationNote(ctx context.Context, id, note string) error {
	const q = `UPDATE payment_sessions SET compensation_note = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, note, id)
	return err
}

func checkTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}
