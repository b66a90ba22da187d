// Package escalation watches terminal queue outcomes and raises an
// out-of-band operator alert on sustained failure. The alert deliberately
// bypasses the notification queue: a broken pipeline must not be asked to
// deliver the news of its own breakage.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/webq/notify-gateway/internal/logger"
	"github.com/webq/notify-gateway/internal/metrics"
	"github.com/webq/notify-gateway/internal/model"
	"github.com/webq/notify-gateway/internal/repository"
	"github.com/webq/notify-gateway/internal/sender"
)

type Config struct {
	// Threshold is both how many recent terminal outcomes to inspect and
	// the consecutive-failure count that triggers an alert.
	Threshold     int
	AlertTemplate string
	BucketTTL     time.Duration
}

type Monitor struct {
	cfg    Config
	queue  repository.QueueRepository
	users  repository.UsersRepository
	direct *sender.Sender
	rdb    *redis.Client
	clock  clockwork.Clock
}

func New(cfg Config, queue repository.QueueRepository, users repository.UsersRepository, direct *sender.Sender, rdb *redis.Client, clock clockwork.Clock) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.AlertTemplate == "" {
		cfg.AlertTemplate = "system_alert"
	}
	if cfg.BucketTTL <= 0 {
		cfg.BucketTTL = 2 * time.Hour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{cfg: cfg, queue: queue, users: users, direct: direct, rdb: rdb, clock: clock}
}

// Check inspects the most recent terminal outcomes and alerts when every one
// of the last Threshold items failed (streak counted from the newest
// backwards, stopping at the first non-failure).
func (m *Monitor) Check(ctx context.Context) (bool, error) {
	recent, err := m.queue.RecentTerminal(ctx, m.cfg.Threshold)
	if err != nil {
		return false, fmt.Errorf("recent terminal outcomes: %w", err)
	}

	streak := 0
	for _, item := range recent {
		if item.Status != model.QueueFailed {
			break
		}
		streak++
	}
	if streak < m.cfg.Threshold {
		return false, nil
	}

	if !m.claimBucket(ctx) {
		logger.Log.Info("escalation: alert already raised this hour",
			zap.Int("streak", streak))
		return false, nil
	}

	logger.Log.Warn("escalation: consecutive failure threshold reached",
		zap.Int("streak", streak))

	admins, err := m.users.AdminEmails(ctx)
	if err != nil {
		return false, fmt.Errorf("admin lookup: %w", err)
	}
	if len(admins) == 0 {
		logger.Log.Error("escalation: no admin recipients configured")
		return false, nil
	}

	now := m.clock.Now().UTC()
	out, err := m.direct.Send(ctx, sender.Request{
		TemplateSlug: m.cfg.AlertTemplate,
		Recipients:   admins,
		Variables: model.StringMap{
			"alert_type":    "consecutive notification queue failures",
			"alert_message": fmt.Sprintf("%d notifications failed consecutively; check mailer configuration and the delivery log", streak),
			"alert_time":    now.Format(time.RFC3339),
		},
		Metadata: model.StringMap{
			"dedup_key": m.bucketKey(),
		},
		TriggeredBy: "system",
		// Delivery-log dedup stays on; it backstops the Redis bucket
		// when no Redis is configured.
	})
	if err != nil {
		return false, fmt.Errorf("send alert: %w", err)
	}
	if out.Skipped {
		logger.Log.Info("escalation: alert suppressed by delivery-log dedup",
			zap.String("reason", out.Reason))
		return false, nil
	}

	metrics.EscalationsTotal.Inc()
	return true, nil
}

// claimBucket takes the hour-bucket dedup slot in Redis; at most one alert
// fires per template per hour no matter how often Check runs. A Redis error
// fails open: losing dedup is better than losing the alert.
func (m *Monitor) claimBucket(ctx context.Context) bool {
	if m.rdb == nil {
		return true
	}
	ok, err := m.rdb.SetNX(ctx, m.bucketKey(), 1, m.cfg.BucketTTL).Result()
	if err != nil {
		logger.Log.Warn("escalation: bucket claim failed, alerting anyway", zap.Error(err))
		return true
	}
	return ok
}

func (m *Monitor) bucketKey() string {
	hour := m.clock.Now().UTC().Format("2006-01-02T15")
	return "alert:" + m.cfg.AlertTemplate + ":" + hour
}
