// Package enqueue is the interface the rest of the back office uses to
// request a notification.
package enqueue

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/webq/notify-gateway/internal/logger"
	"github.com/webq/notify-gateway/internal/metrics"
	"github.com/webq/notify-gateway/internal/model"
	"github.com/webq/notify-gateway/internal/repository"
	"github.com/webq/notify-gateway/internal/sender"
	"github.com/webq/notify-gateway/internal/util"
)

type Request struct {
	TemplateSlug string
	Recipients   []string
	Variables    model.StringMap
	Metadata     model.StringMap
	DedupKey     string
	// ReferenceID is the causal reference (order ID, event ID, ...). When
	// set and DedupKey is empty, the dedup key is derived from it so retried
	// upstream events collapse to one logical notification.
	ReferenceID string
	CreatedBy   string
}

type Enqueuer struct {
	queue       repository.QueueRepository
	direct      *sender.Sender
	maxAttempts int
}

func New(queue repository.QueueRepository, direct *sender.Sender, maxAttempts int) *Enqueuer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Enqueuer{queue: queue, direct: direct, maxAttempts: maxAttempts}
}

// Enqueue inserts a pending queue item. If the durable write fails the
// notification is not silently lost: it falls back to one synchronous direct
// send, bypassing the queue, and reports that outcome instead.
func (e *Enqueuer) Enqueue(ctx context.Context, req Request) bool {
	dedupKey := req.DedupKey
	if dedupKey == "" && req.ReferenceID != "" {
		dedupKey = DedupKey(req.TemplateSlug, req.Recipients, req.ReferenceID)
	}

	meta := make(model.StringMap, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if dedupKey != "" {
		meta["dedup_key"] = dedupKey
	}

	item := model.QueueItem{
		ID:           util.NewID(),
		TemplateSlug: req.TemplateSlug,
		Recipients:   req.Recipients,
		Variables:    req.Variables,
		Metadata:     meta,
		Status:       model.QueuePending,
		MaxAttempts:  e.maxAttempts,
		DedupKey:     dedupKey,
		CreatedBy:    req.CreatedBy,
	}

	if err := e.queue.Insert(ctx, item); err != nil {
		logger.Log.Error("enqueue: queue insert failed, falling back to direct send",
			zap.String("template", req.TemplateSlug), zap.Error(err))
		return e.fallback(ctx, req, meta)
	}

	metrics.NotificationsTotal.WithLabelValues("queued").Inc()
	return true
}

func (e *Enqueuer) fallback(ctx context.Context, req Request, meta model.StringMap) bool {
	out, err := e.direct.Send(ctx, sender.Request{
		TemplateSlug: req.TemplateSlug,
		Recipients:   req.Recipients,
		Variables:    req.Variables,
		Metadata:     meta,
		TriggeredBy:  "fallback",
	})
	if err != nil {
		logger.Log.Error("enqueue: direct-send fallback failed",
			zap.String("template", req.TemplateSlug), zap.Error(err))
		return false
	}
	return out.Sent || out.Skipped
}

// DedupKey derives the deterministic deduplication key for a notification
// caused by referenceID: template, sorted recipients, reference.
func DedupKey(templateSlug string, recipients []string, referenceID string) string {
	sorted := make([]string, len(recipients))
	copy(sorted, recipients)
	sort.Strings(sorted)
	return templateSlug + ":" + strings.Join(sorted, ",") + ":" + referenceID
}
