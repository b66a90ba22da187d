// Package processor drains the notification queue. It is invoked by an
// external scheduler; several invocations may overlap, so the conditional
// claim in the queue repository is the only thing standing between an item
// and a double send.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/webq/notify-gateway/internal/kafka"
	"github.com/webq/notify-gateway/internal/logger"
	"github.com/webq/notify-gateway/internal/metrics"
	"github.com/webq/notify-gateway/internal/model"
	"github.com/webq/notify-gateway/internal/repository"
	"github.com/webq/notify-gateway/internal/sender"
)

// Summary is the JSON body returned to the scheduler trigger.
type Summary struct {
	Processed        int      `json:"processed"`
	Sent             int      `json:"sent"`
	SkippedDuplicate int      `json:"skipped_duplicate"`
	Skipped          int      `json:"skipped"`
	Failed           int      `json:"failed"`
	Errors           []string `json:"errors"`
}

type Config struct {
	BatchLimit        int
	DedupWindow       time.Duration
	RetentionTerminal time.Duration
	RetentionPending  time.Duration
	RetentionEvents   time.Duration
	// OpTimeout bounds each store/transport call so one stalled item cannot
	// stall the remainder of the batch.
	OpTimeout time.Duration
}

type Processor struct {
	cfg       Config
	queue     repository.QueueRepository
	logs      repository.DeliveryLogRepository
	events    repository.ProcessedEventsRepository
	direct    *sender.Sender
	publisher *kafka.Publisher // optional
	clock     clockwork.Clock
}

func New(
	cfg Config,
	queue repository.QueueRepository,
	logs repository.DeliveryLogRepository,
	events repository.ProcessedEventsRepository,
	direct *sender.Sender,
	publisher *kafka.Publisher,
	clock clockwork.Clock,
) *Processor {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.RetentionTerminal <= 0 {
		cfg.RetentionTerminal = 7 * 24 * time.Hour
	}
	if cfg.RetentionPending <= 0 {
		cfg.RetentionPending = 24 * time.Hour
	}
	if cfg.RetentionEvents <= 0 {
		cfg.RetentionEvents = 90 * 24 * time.Hour
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Processor{
		cfg:       cfg,
		queue:     queue,
		logs:      logs,
		events:    events,
		direct:    direct,
		publisher: publisher,
		clock:     clock,
	}
}

// Run executes one scheduled pass: fetch, claim, dedup, deliver, retire,
// then cleanup. Items are handled oldest first; ordering across overlapping
// runs is not guaranteed and does not need to be.
func (p *Processor) Run(ctx context.Context) Summary {
	summary := Summary{Errors: []string{}}

	items, err := p.fetchPending(ctx)
	if err != nil {
		logger.Log.Error("processor: fetch pending failed", zap.Error(err))
		summary.Errors = append(summary.Errors, fmt.Sprintf("fetch: %v", err))
		return summary
	}
	if len(items) == 0 {
		p.cleanup(ctx)
		return summary
	}

	logger.Log.Info("processor: claiming batch", zap.Int("pending", len(items)))

	for _, item := range items {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, ctx.Err().Error())
			break
		}
		p.processOne(ctx, item, &summary)
	}

	p.cleanup(ctx)
	return summary
}

func (p *Processor) fetchPending(ctx context.Context) ([]model.QueueItem, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.cfg.OpTimeout)
	defer cancel()
	return p.queue.FetchPending(opCtx, p.cfg.BatchLimit)
}

func (p *Processor) processOne(ctx context.Context, item model.QueueItem, summary *Summary) {
	claimed, err := p.withTimeout(ctx, func(c context.Context) error {
		ok, err := p.queue.Claim(c, item.ID)
		if err == nil && !ok {
			return errClaimLost
		}
		return err
	})
	if err != nil {
		logger.Log.Error("processor: claim failed", zap.String("id", item.ID), zap.Error(err))
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: claim: %v", item.ID, err))
		return
	}
	if !claimed {
		// Another overlapping run won the compare-and-swap; nothing to do.
		return
	}
	attempts := item.Attempts + 1 // mirrors the increment applied by Claim

	summary.Processed++

	if item.DedupKey != "" {
		since := p.clock.Now().Add(-p.cfg.DedupWindow)
		var dup bool
		_, err := p.withTimeout(ctx, func(c context.Context) error {
			var err error
			dup, err = p.logs.HasRecentDedup(c, item.TemplateSlug, item.DedupKey, since)
			return err
		})
		if err != nil {
			logger.Log.Warn("processor: dedup lookup failed, proceeding",
				zap.String("id", item.ID), zap.Error(err))
		} else if dup {
			logger.Log.Info("processor: skipping duplicate",
				zap.String("id", item.ID), zap.String("dedup_key", item.DedupKey))
			p.retire(ctx, item, attempts, model.QueueSkipped, "duplicate detected")
			summary.SkippedDuplicate++
			return
		}
	}

	meta := make(model.StringMap, len(item.Metadata)+2)
	for k, v := range item.Metadata {
		meta[k] = v
	}
	meta["queue_id"] = item.ID
	if item.DedupKey != "" {
		meta["dedup_key"] = item.DedupKey
	}

	var out sender.Outcome
	_, sendErr := p.withTimeout(ctx, func(c context.Context) error {
		var err error
		out, err = p.direct.Send(c, sender.Request{
			TemplateSlug: item.TemplateSlug,
			Recipients:   item.Recipients,
			Variables:    item.Variables,
			Metadata:     meta,
			TriggeredBy:  "queue",
			SkipDedup:    true, // the gate above already consulted the same log
		})
		return err
	})

	switch {
	case sendErr == nil && out.Sent:
		p.retire(ctx, item, attempts, model.QueueSent, "")
		summary.Sent++
		logger.Log.Info("processor: notification sent",
			zap.String("id", item.ID), zap.String("template", item.TemplateSlug))

	case sendErr == nil && out.Skipped:
		// Nothing deliverable (all tokens unresolved/malformed or template
		// inactive); the sender already wrote the per-token skip entries.
		p.retire(ctx, item, attempts, model.QueueSkipped, out.Reason)
		summary.Skipped++

	default:
		p.handleFailure(ctx, item, attempts, sendErr, summary)
	}
}

// handleFailure either reverts the item to pending for a later scheduled run
// (backoff is emergent from the scheduler interval, not slept here) or, at
// the attempts ceiling, retires it as failed with an audit entry for the
// escalation monitor to observe.
func (p *Processor) handleFailure(ctx context.Context, item model.QueueItem, attempts int, sendErr error, summary *Summary) {
	msg := "send failed"
	if sendErr != nil {
		msg = sendErr.Error()
	}

	if attempts < item.MaxAttempts {
		_, err := p.withTimeout(ctx, func(c context.Context) error {
			return p.queue.RevertPending(c, item.ID, msg)
		})
		if err != nil {
			logger.Log.Error("processor: revert to pending failed",
				zap.String("id", item.ID), zap.Error(err))
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: revert: %v", item.ID, err))
		}
		return
	}

	p.retire(ctx, item, attempts, model.QueueFailed, msg)
	summary.Failed++
	summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", item.ID, msg))

	// Terminal failures get their own log entry so the audit trail and the
	// escalation monitor see them even though the transport never succeeded.
	failMeta := model.StringMap{
		"queue_id":     item.ID,
		"attempts":     fmt.Sprintf("%d", attempts),
		"max_attempts": fmt.Sprintf("%d", item.MaxAttempts),
	}
	if item.DedupKey != "" {
		failMeta["dedup_key"] = item.DedupKey
	}
	_, err := p.withTimeout(ctx, func(c context.Context) error {
		return p.logs.Insert(c, model.DeliveryLogEntry{
			TemplateSlug:   item.TemplateSlug,
			TemplateName:   item.TemplateSlug,
			RecipientEmail: joinRecipients(item.Recipients),
			Subject:        "[queue] " + item.TemplateSlug,
			Status:         model.DeliveryFailed,
			ErrorMessage:   fmt.Sprintf("failed after %d attempts: %s", attempts, msg),
			Variables:      item.Variables,
			Metadata:       failMeta,
			TriggeredBy:    "queue",
		})
	})
	if err != nil {
		logger.Log.Error("processor: failure log insert failed",
			zap.String("id", item.ID), zap.Error(err))
	}
}

// retire moves a claimed item into a terminal state and publishes the
// outcome envelope.
func (p *Processor) retire(ctx context.Context, item model.QueueItem, attempts int, status model.QueueStatus, reason string) {
	now := p.clock.Now()

	_, err := p.withTimeout(ctx, func(c context.Context) error {
		switch status {
		case model.QueueSent:
			return p.queue.MarkSent(c, item.ID, now)
		case model.QueueSkipped:
			return p.queue.MarkSkipped(c, item.ID, reason, now)
		default:
			return p.queue.MarkFailed(c, item.ID, reason, now)
		}
	})
	if err != nil {
		logger.Log.Error("processor: status update failed",
			zap.String("id", item.ID), zap.String("status", status.String()), zap.Error(err))
		return
	}

	metrics.NotificationsTotal.WithLabelValues(status.String()).Inc()

	if p.publisher != nil {
		env := model.OutcomeEnvelope{
			QueueID:      item.ID,
			TemplateSlug: item.TemplateSlug,
			Status:       status,
			Attempts:     attempts,
			ProcessedAt:  now,
		}
		payload, _ := json.Marshal(env)
		if err := p.publisher.Publish(ctx, []byte(item.ID), payload); err != nil {
			logger.Log.Warn("processor: outcome publish failed",
				zap.String("id", item.ID), zap.Error(err))
		}
	}
}

// cleanup bounds queue growth: terminal items past retention, pending items
// past the absolute age ceiling, and long-expired idempotency markers.
func (p *Processor) cleanup(ctx context.Context) {
	now := p.clock.Now()

	_, err := p.withTimeout(ctx, func(c context.Context) error {
		n, err := p.queue.Cleanup(c,
			now.Add(-p.cfg.RetentionTerminal),
			now.Add(-p.cfg.RetentionPending),
		)
		if err == nil && n > 0 {
			logger.Log.Info("processor: queue cleanup", zap.Int64("deleted", n))
		}
		return err
	})
	if err != nil {
		logger.Log.Warn("processor: queue cleanup failed", zap.Error(err))
	}

	_, err = p.withTimeout(ctx, func(c context.Context) error {
		_, err := p.events.PurgeOlderThan(c, now.Add(-p.cfg.RetentionEvents))
		return err
	})
	if err != nil {
		logger.Log.Warn("processor: processed-event purge failed", zap.Error(err))
	}
}

var errClaimLost = fmt.Errorf("claim lost")

// withTimeout runs fn under the per-operation timeout and folds the
// claim-lost sentinel into the boolean result.
func (p *Processor) withTimeout(ctx context.Context, fn func(context.Context) error) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.cfg.OpTimeout)
	defer cancel()
	err := fn(opCtx)
	if err == errClaimLost {
		return false, nil
	}
	return err == nil, err
}

func joinRecipients(rs model.StringList) string {
	return strings.Join(rs, ", ")
}
