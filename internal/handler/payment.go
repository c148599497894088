package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Andrewske/masakali-retreat/internal/booking"
	"github.com/Andrewske/masakali-retreat/internal/model"
	"github.com/Andrewske/masakali-retreat/internal/payment"
)

// PaymentHandler drives the payment session state machine over HTTP:
// token creation, challenge polling, confirmation, finalization and
// cancellation.  Card details pass through to the gateway and are
// never logged or stored.
type PaymentHandler struct {
	Auth        *payment.Authenticator
	Coordinator *booking.Coordinator
}

// NewPaymentHandler constructs a PaymentHandler.  Both dependencies
// must be non-nil.
func NewPaymentHandler(auth *payment.Authenticator, coord *booking.Coordinator) *PaymentHandler {
	if auth == nil || coord == nil {
		panic("nil dependency passed to NewPaymentHandler")
	}
	return &PaymentHandler{Auth: auth, Coordinator: coord}
}

type cardBody struct {
	Number   string                 `json:"number" validate:"required,credit_card"`
	ExpMonth string                 `json:"exp_month" validate:"required,len=2"`
	ExpYear  string                 `json:"exp_year" validate:"required,len=4"`
	CVN      string                 `json:"cvn" validate:"required,min=3,max=4"`
	Billing  payment.BillingAddress `json:"billing" validate:"required"`
}

type createTokenBody struct {
	RetryOf string   `json:"retry_of"`
	Cart    cartBody `json:"cart"`
	Card    cardBody `json:"card" validate:"required"`
}

type cartBody struct {
	VillaID    uint64  `json:"villa_id"`
	VillaName  string  `json:"villa_name"`
	CheckIn    string  `json:"check_in"`
	CheckOut   string  `json:"check_out"`
	Currency   string  `json:"currency"`
	Total      float64 `json:"total"`
	Adults     int     `json:"adults"`
	Children   int     `json:"children"`
	GuestName  string  `json:"guest_name"`
	GuestEmail string  `json:"guest_email"`
	LockToken  string  `json:"lock_token"`
}

// CreateToken handles POST /v1/payments/token.  A fresh request needs
// the full cart; a request with retry_of set reopens a FAILED session
// and reuses its frozen cart, so only the card is required.  The
// response includes the authentication URL when the card bank demands
// a 3-D Secure challenge.
func (h *PaymentHandler) CreateToken(c echo.Context) error {
	var body createTokenBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "invalid request body"})
	}
	card := payment.CardDetails{
		Number:   body.Card.Number,
		ExpMonth: body.Card.ExpMonth,
		ExpYear:  body.Card.ExpYear,
		CVN:      body.Card.CVN,
		Billing:  body.Card.Billing,
	}
	if err := validate.Struct(&body.Card); err != nil {
		return validationError(c, err)
	}

	var session *model.PaymentSession
	var err error
	if body.RetryOf != "" {
		session, err = h.Auth.Retry(c.Request().Context(), body.RetryOf, card)
	} else {
		if err := validateCart(body.Cart); err != nil {
			return validationError(c, err)
		}
		session, err = h.Auth.CreateSession(c.Request().Context(), payment.CreateSessionRequest{
			Cart: model.CartSnapshot{
				VillaID:    body.Cart.VillaID,
				VillaName:  body.Cart.VillaName,
				CheckIn:    body.Cart.CheckIn,
				CheckOut:   body.Cart.CheckOut,
				Currency:   body.Cart.Currency,
				Total:      body.Cart.Total,
				Adults:     body.Cart.Adults,
				Children:   body.Cart.Children,
				GuestName:  body.Cart.GuestName,
				GuestEmail: body.Cart.GuestEmail,
				LockToken:  body.Cart.LockToken,
			},
			Card: card,
		})
	}
	if err != nil {
		// A gateway failure still created and failed the session; return
		// its id so the client can retry against it.
		if session != nil {
			return c.JSON(http.StatusBadGateway, echo.Map{
				"error":   "gateway_unavailable",
				"session": sessionView(session),
			})
		}
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, sessionView(session))
}

// PollStatus handles GET /v1/payments/:id.  It is a read-only
// projection of the session; clients poll it while the guest completes
// the 3-D Secure challenge in another tab.
func (h *PaymentHandler) PollStatus(c echo.Context) error {
	session, err := h.Auth.PollStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, sessionView(session))
}

// Confirm handles POST /v1/payments/:id/confirm.  Only a VERIFIED
// session can be charged; any other state yields 409 so a double
// submit cannot charge twice.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	if err := h.Auth.Confirm(c.Request().Context(), c.Param("id")); err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"state": model.StateConfirmed})
}

// Finalize handles POST /v1/payments/:id/finalize.  It converts the
// confirmed charge into a reservation.  Repeating the call after
// success returns the same reservation id.  When the availability lock
// expired before finalization the response is 409 inventory_conflict
// and the charge is flagged for compensation.
func (h *PaymentHandler) Finalize(c echo.Context) error {
	reservationID, err := h.Coordinator.Finalize(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"reservation_id": reservationID})
}

// Cancel handles POST /v1/payments/:id/cancel.  It moves a non-terminal
// session to FAILED with the user_cancelled classification and releases
// whatever the session holds.
func (h *PaymentHandler) Cancel(c echo.Context) error {
	if err := h.Auth.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"state": model.StateFailed})
}

// sessionView is the client-safe projection of a payment session.  The
// gateway token id stays server-side.
func sessionView(s *model.PaymentSession) echo.Map {
	return echo.Map{
		"id":                 s.ID,
		"state":              s.State,
		"authentication_url": s.AuthenticationURL,
		"last_error":         s.LastError,
		"villa_id":           s.Cart.VillaID,
		"check_in":           s.Cart.CheckIn,
		"check_out":          s.Cart.CheckOut,
		"currency":           s.Cart.Currency,
		"total":              s.Cart.Total,
	}
}

// validateCart checks the fields a fresh (non-retry) payment needs.
// The struct tags cannot express this because the same body shape is
// shared with retries, where the cart comes from the failed session.
func validateCart(cart cartBody) error {
	return validate.Struct(&struct {
		VillaID   uint64  `validate:"required"`
		CheckIn   string  `validate:"required,datetime=2006-01-02"`
		CheckOut  string  `validate:"required,datetime=2006-01-02"`
		Currency  string  `validate:"required,iso4217"`
		Total     float64 `validate:"required,gt=0"`
		Adults    int     `validate:"required,gt=0"`
		GuestName string  `validate:"required"`
		Email     string  `validate:"required,email"`
		LockToken string  `validate:"required"`
	}{
		VillaID:   cart.VillaID,
		CheckIn:   cart.CheckIn,
		CheckOut:  cart.CheckOut,
		Currency:  cart.Currency,
		Total:     cart.Total,
		Adults:    cart.Adults,
		GuestName: cart.GuestName,
		Email:     cart.GuestEmail,
		LockToken: cart.LockToken,
	})
}
