// Package webhook ingests signed payment-processor events: signature check,
// idempotency claim, then business dispatch.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/webq/notify-gateway/internal/logger"
	"github.com/webq/notify-gateway/internal/metrics"
	"github.com/webq/notify-gateway/internal/model"
	"github.com/webq/notify-gateway/internal/repository"
)

type Outcome struct {
	Accepted   bool
	StatusCode int
	Reason     string
}

type Handler struct {
	secret    string
	tolerance time.Duration
	events    repository.ProcessedEventsRepository
	dispatch  *Dispatcher
	clock     clockwork.Clock
}

func NewHandler(secret string, tolerance time.Duration, events repository.ProcessedEventsRepository, dispatch *Dispatcher, clock clockwork.Clock) *Handler {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{
		secret:    secret,
		tolerance: tolerance,
		events:    events,
		dispatch:  dispatch,
		clock:     clock,
	}
}

// Handle processes one inbound delivery. The provider delivers at least
// once, so concurrent duplicates of the same event are expected; the
// idempotency claim (insert-first, unique event_id) collapses them.
//
// The claim is written before the business effect and is NOT rolled back if
// the effect fails: a provider retry of an event whose effect crashed midway
// will be treated as already handled. Known, accepted risk — the marker
// tells us "this event reached dispatch", not "its effects completed".
func (h *Handler) Handle(ctx context.Context, body []byte, signatureHeader string) Outcome {
	if err := VerifySignature(body, signatureHeader, h.secret, h.tolerance, h.clock.Now()); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("bad_signature").Inc()
		logger.Log.Warn("webhook: rejected signature", zap.Error(err))
		return Outcome{StatusCode: http.StatusBadRequest, Reason: "invalid signature"}
	}

	var ev model.Event
	if err := json.Unmarshal(body, &ev); err != nil || ev.ID == "" || ev.Type == "" {
		metrics.WebhookEventsTotal.WithLabelValues("bad_payload").Inc()
		return Outcome{StatusCode: http.StatusBadRequest, Reason: "malformed event"}
	}

	claimed, err := h.events.Claim(ctx, ev.ID, ev.Type)
	if err != nil {
		logger.Log.Error("webhook: idempotency claim failed",
			zap.String("event_id", ev.ID), zap.Error(err))
		return Outcome{StatusCode: http.StatusInternalServerError, Reason: "claim failed"}
	}
	if !claimed {
		// Already-existing row and losing a race against a concurrent
		// duplicate look identical here, and are handled identically.
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		logger.Log.Info("webhook: event already processed", zap.String("event_id", ev.ID))
		return Outcome{Accepted: true, StatusCode: http.StatusOK, Reason: "already processed"}
	}

	mapped, err := h.dispatch.Dispatch(ctx, ev)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("handler_error").Inc()
		logger.Log.Error("webhook: business handler failed",
			zap.String("event_id", ev.ID), zap.String("event_type", ev.Type), zap.Error(err))
		return Outcome{StatusCode: http.StatusInternalServerError, Reason: fmt.Sprintf("handler: %v", err)}
	}
	if !mapped {
		metrics.WebhookEventsTotal.WithLabelValues("unmapped").Inc()
		logger.Log.Info("webhook: unmapped event type",
			zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
		return Outcome{Accepted: true, StatusCode: http.StatusOK, Reason: "unmapped event type"}
	}

	metrics.WebhookEventsTotal.WithLabelValues("accepted").Inc()
	return Outcome{Accepted: true, StatusCode: http.StatusOK, Reason: "processed"}
}
