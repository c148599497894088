package payment

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Andrewske/masakali-retreat/internal/model"
	"github.com/Andrewske/masakali-retreat/internal/repository"
	"github.com/Andrewske/masakali-retreat/internal/utils"
)

// Failure classifications recorded on a session's last_error when it
// moves to FAILED. All of them are user-retriable through a fresh
// session that copies the cart.
const (
	FailureGateway          = "gateway_error"
	FailureChallengeFailed  = "challenge_failed"
	FailureChallengeTimeout = "challenge_timeout"
	FailureChargeDeclined   = "charge_declined"
	FailureUserCancelled    = "user_cancelled"
)

// SessionStore is the persistence the authenticator needs. Every
// transition method is a compare-and-swap; the MySQL implementation is
// repository.SessionRepo.
type SessionStore interface {
	Create(ctx context.Context, s *model.PaymentSession) error
	Get(ctx context.Context, id string) (*model.PaymentSession, error)
	SetGatewayToken(ctx context.Context, id, to, tokenID, authURL string) error
	Transition(ctx context.Context, id, from, to string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// CreateSessionRequest is a validated, normalized payment attempt: the
// cart being paid for plus the card details to tokenize. Card details
// are forwarded to the gateway and never stored.
type CreateSessionRequest struct {
	Cart model.CartSnapshot
	Card CardDetails
}

// CardDetails is the sensitive part of a payment attempt.
type CardDetails struct {
	Number   string
	ExpMonth string
	ExpYear  string
	CVN      string
	Billing  BillingAddress
}

// Authenticator owns the payment session state machine. All state
// lives in the store; the in-memory parts are only the per-session
// mutex that makes Confirm single-shot and the background pollers
// driving IN_REVIEW sessions forward. No ledger lock is ever held
// while a gateway round trip is in flight.
type Authenticator struct {
	store    SessionStore
	gateway  Gateway
	sessions *utils.KeyedMutex

	pollInterval time.Duration
	pollAttempts int
	pollBudget   time.Duration

	// OnFailure, when set, runs after a session moves to FAILED so a
	// reservation already bound to it can be voided. Errors there are
	// the callee's to log.
	OnFailure func(ctx context.Context, sessionID string)
}

// NewAuthenticator builds an Authenticator. pollInterval, pollAttempts
// and pollBudget bound the 3-D Secure status polling; zero values get
// sensible defaults (3s interval, 40 attempts, 5 minute budget).
func NewAuthenticator(store SessionStore, gateway Gateway, pollInterval time.Duration, pollAttempts int, pollBudget time.Duration) *Authenticator {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if pollAttempts <= 0 {
		pollAttempts = 40
	}
	if pollBudget <= 0 {
		pollBudget = 5 * time.Minute
	}
	return &Authenticator{
		store:        store,
		gateway:      gateway,
		sessions:     utils.NewKeyedMutex(),
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
		pollBudget:   pollBudget,
	}
}

// CreateSession persists a fresh CREATING session, tokenizes the card
// and advances to IN_REVIEW (challenge pending) or straight to
// VERIFIED when the gateway required no challenge. Token creation is a
// non-idempotent write: it is never retried here; a gateway failure
// marks the session FAILED and the client retries with a new session.
func (a *Authenticator) CreateSession(ctx context.Context, req CreateSessionRequest) (*model.PaymentSession, error) {
	given, family := SplitFullName(req.Cart.GuestName)
	if req.Cart.GivenName == "" {
		req.Cart.GivenName = given
		req.Cart.FamilyName = family
	}
	billing, err := req.Card.Billing.Normalize()
	if err != nil {
		return nil, err
	}
	session := &model.PaymentSession{
		ID:    uuid.NewString(),
		Cart:  req.Cart,
		State: model.StateCreating,
	}
	if err := a.store.Create(ctx, session); err != nil {
		return nil, err
	}
	result, err := a.gateway.CreateToken(ctx, TokenRequest{
		CardNumber: req.Card.Number,
		ExpMonth:   req.Card.ExpMonth,
		ExpYear:    req.Card.ExpYear,
		CVN:        req.Card.CVN,
		Amount:     req.Cart.Total,
		Currency:   req.Cart.Currency,
		GivenName:  req.Cart.GivenName,
		FamilyName: req.Cart.FamilyName,
		Email:      req.Cart.GuestEmail,
		Billing:    billing,
	})
	if err != nil {
		a.fail(ctx, session.ID, FailureGateway)
		return session, err
	}
	next := model.StateInReview
	switch result.Status {
	case GatewayVerified:
		next = model.StateVerified
	case GatewayFailed:
		a.fail(ctx, session.ID, FailureChallengeFailed)
		session.State = model.StateFailed
		session.LastError = FailureChallengeFailed
		return session, nil
	}
	if err := a.store.SetGatewayToken(ctx, session.ID, next, result.TokenID, result.AuthenticationURL); err != nil {
		return nil, err
	}
	session.State = next
	session.GatewayTokenID = result.TokenID
	session.AuthenticationURL = result.AuthenticationURL
	if next == model.StateInReview {
		go a.watchChallenge(session.ID, result.TokenID)
	}
	return session, nil
}

// Retry re-enters the state machine at CREATING with a fresh session
// that preserves the failed session's cart. Only FAILED sessions can
// be retried; card details must be re-entered, they were never kept.
func (a *Authenticator) Retry(ctx context.Context, failedSessionID string, card CardDetails) (*model.PaymentSession, error) {
	prior, err := a.store.Get(ctx, failedSessionID)
	if err != nil {
		return nil, err
	}
	if prior.State != model.StateFailed {
		return nil, repository.ErrStateConflict
	}
	return a.CreateSession(ctx, CreateSessionRequest{Cart: prior.Cart, Card: card})
}

// PollStatus returns the session as stored. It is read-only and safe
// to call repeatedly: the server's own poller drives transitions, the
// client only observes them.
func (a *Authenticator) PollStatus(ctx context.Context, sessionID string) (*model.PaymentSession, error) {
	return a.store.Get(ctx, sessionID)
}

// Confirm re-verifies the token's charge status directly against the
// gateway and moves the session VERIFIED -> CONFIRMED. The per-session
// mutex plus the compare-and-swap transition make it single-shot: a
// second concurrent call finds the session past VERIFIED and fails
// with repository.ErrStateConflict without touching the gateway.
func (a *Authenticator) Confirm(ctx context.Context, sessionID string) error {
	a.sessions.Lock(sessionID)
	defer a.sessions.Unlock(sessionID)

	session, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.State != model.StateVerified {
		return repository.ErrStateConflict
	}
	_, err = a.gateway.ConfirmCharge(ctx, session.GatewayTokenID, session.Cart.Total, session.Cart.Currency)
	if err != nil {
		if errors.Is(err, ErrChargeDeclined) {
			a.fail(ctx, sessionID, FailureChargeDeclined)
		}
		// A transport failure leaves the session VERIFIED; the caller
		// may try again once the gateway is reachable.
		return err
	}
	return a.store.Transition(ctx, sessionID, model.StateVerified, model.StateConfirmed)
}

// Cancel marks the session FAILED on the user's behalf. Terminal
// sessions are left untouched.
func (a *Authenticator) Cancel(ctx context.Context, sessionID string) error {
	session, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if model.IsTerminalState(session.State) {
		return repository.ErrStateConflict
	}
	a.fail(ctx, sessionID, FailureUserCancelled)
	return nil
}

// watchChallenge polls the gateway until the 3-D Secure challenge
// resolves, the attempt cap is reached, or the wall-clock budget runs
// out. Exceeding either bound fails the session with a challenge
// timeout. Status reads are idempotent, so a transport error simply
// consumes an attempt.
func (a *Authenticator) watchChallenge(sessionID, tokenID string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.pollBudget)
	defer cancel()
	for attempt := 0; attempt < a.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			a.fail(context.Background(), sessionID, FailureChallengeTimeout)
			return
		case <-time.After(a.pollInterval):
		}
		status, err := a.gateway.TokenStatus(ctx, tokenID)
		if err != nil {
			log.Printf("payment: poll %s attempt %d: %v", sessionID, attempt+1, err)
			continue
		}
		switch status {
		case GatewayVerified:
			if err := a.store.Transition(ctx, sessionID, model.StateInReview, model.StateVerified); err != nil {
				log.Printf("payment: verify transition %s: %v", sessionID, err)
			}
			return
		case GatewayFailed:
			a.fail(ctx, sessionID, FailureChallengeFailed)
			return
		}
	}
	a.fail(context.Background(), sessionID, FailureChallengeTimeout)
}

// fail moves the session to FAILED and runs the post-failure hook. A
// state conflict means the session already reached a terminal state,
// which is fine; anything else is logged.
func (a *Authenticator) fail(ctx context.Context, sessionID, reason string) {
	if err := a.store.MarkFailed(ctx, sessionID, reason); err != nil {
		if !errors.Is(err, repository.ErrStateConflict) {
			log.Printf("payment: marking %s failed: %v", sessionID, err)
		}
		return
	}
	if a.OnFailure != nil {
		a.OnFailure(ctx, sessionID)
	}
}
