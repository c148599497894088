package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Andrewske/masakali-retreat/internal/rates"
)

// RatesHandler exposes the exchange-rate cache: an operator-triggered
// refresh and a read endpoint for the stored value of one currency.
type RatesHandler struct {
	Cache *rates.Cache
}

// NewRatesHandler constructs a RatesHandler.
func NewRatesHandler(cache *rates.Cache) *RatesHandler {
	if cache == nil {
		panic("nil cache passed to NewRatesHandler")
	}
	return &RatesHandler{Cache: cache}
}

// Refresh handles POST /v1/rates/refresh.  It runs a full provider
// refresh and returns the per-batch report; a run where some batches
// failed is still a 200, the report says which currencies are stale.
// A refresh already running elsewhere yields 409.
func (h *RatesHandler) Refresh(c echo.Context) error {
	report, err := h.Cache.RefreshAll(c.Request().Context())
	if err != nil {
		if errors.Is(err, rates.ErrRefreshInProgress) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "refresh_in_progress"})
		}
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// GetRate handles GET /v1/rates/:code.  It answers from storage only
// and reports the age of the value; an unknown currency is 400.
func (h *RatesHandler) GetRate(c echo.Context) error {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "currency code is required"})
	}
	rate, age, err := h.Cache.GetRate(c.Request().Context(), code)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"currency": code,
		"rate":     rate,
		"age":      age.String(),
	})
}
