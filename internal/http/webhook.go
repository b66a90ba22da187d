package http

import (
	"io"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/webq/notify-gateway/internal/webhook"
)

const maxWebhookBody = 1 << 20 // provider events are small; 1MB is generous

func webhookHandler(h *webhook.Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
		if err != nil {
			log.Errorf("webhook body read failed: %v", err)
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		out := h.Handle(c.Request().Context(), body, c.Request().Header.Get("Stripe-Signature"))

		return c.JSON(out.StatusCode, map[string]any{
			"received":  true,
			"processed": out.Accepted,
			"reason":    out.Reason,
		})
	}
}
