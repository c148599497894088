package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Andrewske/masakali-retreat/internal/ledger"
)

// LedgerHandler serves availability quotes and date locks.  Quotes are
// read-only; locks are the first step of the booking flow and expire on
// their own if the guest never pays.
type LedgerHandler struct {
	Ledger *ledger.Service
}

// NewLedgerHandler constructs a LedgerHandler. The service must be
// non-nil.
func NewLedgerHandler(svc *ledger.Service) *LedgerHandler {
	if svc == nil {
		panic("nil ledger service passed to NewLedgerHandler")
	}
	return &LedgerHandler{Ledger: svc}
}

// GetQuote handles GET /v1/villas/:id/quote.  Query parameters:
// check_in and check_out (YYYY-MM-DD, half-open range), currency
// (ISO 4217), adults and children.  Returns the nightly prices and
// total in the requested currency, or 409 when any night is taken and
// 400 for an unknown currency.
func (h *LedgerHandler) GetQuote(c echo.Context) error {
	villaID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || villaID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "invalid villa id"})
	}
	checkIn := c.QueryParam("check_in")
	checkOut := c.QueryParam("check_out")
	currency := c.QueryParam("currency")
	if checkIn == "" || checkOut == "" || currency == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "check_in, check_out and currency are required"})
	}
	adults, _ := strconv.Atoi(c.QueryParam("adults"))
	children, _ := strconv.Atoi(c.QueryParam("children"))
	if adults <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "adults must be positive"})
	}
	quote, err := h.Ledger.Quote(c.Request().Context(), villaID, checkIn, checkOut, currency, adults+children)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, quote)
}

// CreateLock handles POST /v1/villas/:id/lock.  The body carries the
// stay range and the payment session that will own the lock.  On
// success it returns 201 with the opaque lock token and its expiry;
// when any requested night is already booked or locked it returns 409.
func (h *LedgerHandler) CreateLock(c echo.Context) error {
	villaID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || villaID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "invalid villa id"})
	}
	var body struct {
		CheckIn   string `json:"check_in" validate:"required,datetime=2006-01-02"`
		CheckOut  string `json:"check_out" validate:"required,datetime=2006-01-02"`
		SessionID string `json:"session_id" validate:"required"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "invalid request body"})
	}
	if err := validate.Struct(&body); err != nil {
		return validationError(c, err)
	}
	lock, err := h.Ledger.Lock(c.Request().Context(), villaID, body.CheckIn, body.CheckOut, body.SessionID)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"lock_token": lock.Token,
		"expires_at": lock.ExpiresAt.Format(time.RFC3339),
	})
}

// ReleaseLock handles DELETE /v1/locks/:token.  Releasing an unknown
// or already-released token succeeds, so clients can fire and forget.
func (h *LedgerHandler) ReleaseLock(c echo.Context) error {
	token := c.Param("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "lock token is required"})
	}
	if err := h.Ledger.Release(c.Request().Context(), token); err != nil {
		return domainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
