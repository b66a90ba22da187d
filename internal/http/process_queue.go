package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/webq/notify-gateway/internal/escalation"
	"github.com/webq/notify-gateway/internal/processor"
)

// processQueueHandler is the scheduler trigger: one queue pass followed by
// the failure escalation check.
func processQueueHandler(proc *processor.Processor, monitor *escalation.Monitor) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		summary := proc.Run(ctx)

		escalated, err := monitor.Check(ctx)
		if err != nil {
			log.Errorf("escalation check failed: %v", err)
		}

		return c.JSON(http.StatusOK, map[string]any{
			"success":   true,
			"results":   summary,
			"escalated": escalated,
		})
	}
}
