package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Andrewske/masakali-retreat/internal/payment"
	"github.com/Andrewske/masakali-retreat/internal/repository"
)

// validate is shared across handlers. It is safe for concurrent use.
var validate = validator.New()

// domainError translates repository and gateway sentinel errors into a
// JSON response with a stable machine-readable error code. Clients
// branch on "error"; "detail" is for humans and may change.
func domainError(c echo.Context, err error) error {
	type mapping struct {
		status int
		code   string
	}
	var m mapping
	switch {
	case errors.Is(err, repository.ErrUnknownCurrency):
		m = mapping{http.StatusBadRequest, "unknown_currency"}
	case errors.Is(err, repository.ErrUnavailable):
		m = mapping{http.StatusConflict, "unavailable"}
	case errors.Is(err, repository.ErrCapacityMismatch):
		m = mapping{http.StatusConflict, "capacity_mismatch"}
	case errors.Is(err, repository.ErrLockNotFound):
		m = mapping{http.StatusConflict, "lock_not_found"}
	case errors.Is(err, repository.ErrLockExpired):
		m = mapping{http.StatusConflict, "lock_expired"}
	case errors.Is(err, repository.ErrSessionNotFound):
		m = mapping{http.StatusNotFound, "session_not_found"}
	case errors.Is(err, repository.ErrStateConflict):
		m = mapping{http.StatusConflict, "state_conflict"}
	case errors.Is(err, repository.ErrNotConfirmed):
		m = mapping{http.StatusConflict, "not_confirmed"}
	case errors.Is(err, repository.ErrInventoryConflict):
		m = mapping{http.StatusConflict, "inventory_conflict"}
	case errors.Is(err, repository.ErrReservationNotFound):
		m = mapping{http.StatusNotFound, "reservation_not_found"}
	case errors.Is(err, payment.ErrChargeDeclined):
		m = mapping{http.StatusConflict, "charge_declined"}
	case errors.Is(err, payment.ErrGatewayUnavailable):
		m = mapping{http.StatusBadGateway, "gateway_unavailable"}
	default:
		m = mapping{http.StatusInternalServerError, "internal_error"}
	}
	return c.JSON(m.status, echo.Map{"error": m.code, "detail": err.Error()})
}

// validationError returns a 400 with the stable validation_error code.
func validationError(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": err.Error()})
}
