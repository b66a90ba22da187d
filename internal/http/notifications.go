package http

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/webq/notify-gateway/internal/enqueue"
	"github.com/webq/notify-gateway/internal/model"
)

type enqueueReq struct {
	TemplateSlug string            `json:"template_slug"`
	Recipients   []string          `json:"recipients"`
	Variables    map[string]string `json:"variables"`
	DedupKey     string            `json:"dedup_key"`
	ReferenceID  string            `json:"reference_id"`
	Metadata     map[string]string `json:"metadata"`
	CreatedBy    string            `json:"created_by"`
}

// enqueueHandler is how the surrounding back office requests a notification.
func enqueueHandler(enq *enqueue.Enqueuer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req enqueueReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.TemplateSlug = strings.TrimSpace(req.TemplateSlug)
		if req.TemplateSlug == "" || len(req.Recipients) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "template_slug and recipients are required"})
		}
		if len(req.Recipients) > 50 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "too many recipients"})
		}

		ok := enq.Enqueue(c.Request().Context(), enqueue.Request{
			TemplateSlug: req.TemplateSlug,
			Recipients:   req.Recipients,
			Variables:    model.StringMap(req.Variables),
			Metadata:     model.StringMap(req.Metadata),
			DedupKey:     req.DedupKey,
			ReferenceID:  req.ReferenceID,
			CreatedBy:    req.CreatedBy,
		})
		if !ok {
			return c.JSON(http.StatusInternalServerError, map[string]any{"enqueued": false})
		}

		return c.JSON(http.StatusAccepted, map[string]any{"enqueued": true})
	}
}
