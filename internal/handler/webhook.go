package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Andrewske/masakali-retreat/internal/webhook"
)

// WebhookHandler receives push notifications from the property
// management system.  The PMS redelivers on any non-2xx answer, so the
// endpoint acknowledges everything it managed to record, including
// payloads it rejected; only an empty body and storage failures are
// reported back.
type WebhookHandler struct {
	Reconciler *webhook.Reconciler
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(r *webhook.Reconciler) *WebhookHandler {
	if r == nil {
		panic("nil reconciler passed to NewWebhookHandler")
	}
	return &WebhookHandler{Reconciler: r}
}

// Receive handles POST /v1/webhooks/pms.
func (h *WebhookHandler) Receive(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "unreadable body"})
	}
	if err := h.Reconciler.Ingest(c.Request().Context(), raw); err != nil {
		if errors.Is(err, webhook.ErrEmptyPayload) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "detail": "empty payload"})
		}
		// Storage failure: let the PMS redeliver later.
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "accepted"})
}
