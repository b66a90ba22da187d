package http

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/webq/notify-gateway/internal/model"
	"github.com/webq/notify-gateway/internal/sender"
)

type sendReq struct {
	TemplateSlug  string            `json:"template_slug"`
	Recipients    []string          `json:"recipients"`
	Variables     map[string]string `json:"variables"`
	Metadata      map[string]string `json:"metadata"`
	SkipDedup     bool              `json:"skip_dedup_check"`
	ManualContent *struct {
		Subject string `json:"subject"`
		HTML    string `json:"html_body"`
	} `json:"manual_content"`
}

// sendEmailHandler performs a direct synchronous send, bypassing the queue.
// Used by the admin composer; rate limited upstream.
func sendEmailHandler(direct *sender.Sender) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.TemplateSlug = strings.TrimSpace(req.TemplateSlug)
		if req.TemplateSlug == "" && req.ManualContent == nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "template_slug or manual_content is required"})
		}
		if len(req.Recipients) == 0 || len(req.Recipients) > 50 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "between 1 and 50 recipients required"})
		}

		sreq := sender.Request{
			TemplateSlug: req.TemplateSlug,
			Recipients:   req.Recipients,
			Variables:    model.StringMap(req.Variables),
			Metadata:     model.StringMap(req.Metadata),
			TriggeredBy:  "manual",
			SkipDedup:    req.SkipDedup,
		}
		if req.ManualContent != nil {
			sreq.Manual = &sender.ManualContent{
				Subject: req.ManualContent.Subject,
				HTML:    req.ManualContent.HTML,
			}
		}

		out, err := direct.Send(c.Request().Context(), sreq)
		if err != nil {
			log.Errorf("manual send failed: %v", err)
			return c.JSON(http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"success":     true,
			"sent":        out.Sent,
			"skipped":     out.Skipped,
			"reason":      out.Reason,
			"provider_id": out.ProviderID,
		})
	}
}
