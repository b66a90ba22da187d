package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webq/notify-gateway/internal/config"
	"github.com/webq/notify-gateway/internal/db"
	"github.com/webq/notify-gateway/internal/escalation"
	"github.com/webq/notify-gateway/internal/logger"
	"github.com/webq/notify-gateway/internal/mailer"
	"github.com/webq/notify-gateway/internal/processor"
	"github.com/webq/notify-gateway/internal/repository"
	"github.com/webq/notify-gateway/internal/resolver"
	"github.com/webq/notify-gateway/internal/sender"
)

// processCmd runs one queue pass from the CLI, for local debugging and as a
// crontab-friendly alternative to the HTTP trigger.
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one notification queue pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.LogLevel)

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		// Redis backs the escalation alert bucket; the queue pass itself
		// runs without it, so a connect failure only degrades alert dedup.
		var redisClient *redis.Client
		if cfg.Redis.Addr != "" {
			redisClient, err = db.NewRedisClient(db.RedisOpts{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				logger.Log.Warn("redis connect failed, alert dedup falls back to the delivery log", zap.Error(err))
				redisClient = nil
			} else {
				defer func() { _ = redisClient.Close() }()
			}
		}

		queueRepo := repository.NewQueueRepository(mysqlDB)
		logsRepo := repository.NewDeliveryLogRepository(mysqlDB)
		eventsRepo := repository.NewProcessedEventsRepository(mysqlDB)
		templatesRepo := repository.NewTemplatesRepository(mysqlDB)
		usersRepo := repository.NewUsersRepository(mysqlDB)

		mail := mailer.NewHTTPMailer(mailer.Config{
			BaseURL:       cfg.Mailer.BaseURL,
			APIKey:        cfg.Mailer.APIKey,
			TimeoutMs:     cfg.Mailer.TimeoutMs,
			RetryAttempts: cfg.Mailer.RetryAttempts,
			RetryBase:     cfg.Mailer.RetryBase,
		})
		rslv := resolver.New(usersRepo)
		direct := sender.New(
			templatesRepo, logsRepo, nil, mail,
			func(ctx context.Context, tokens []string) ([]string, []string, []string, error) {
				res, err := rslv.Resolve(ctx, tokens)
				return res.Addresses, res.Unresolved, res.Malformed, err
			},
			usersRepo.AdminEmails,
			sender.Identity{Email: cfg.Mailer.SenderEmail, Name: cfg.Mailer.SenderName},
			cfg.Queue.DedupWindow,
			nil,
		)

		proc := processor.New(processor.Config{
			BatchLimit:        cfg.Queue.BatchLimit,
			DedupWindow:       cfg.Queue.DedupWindow,
			RetentionTerminal: cfg.Queue.RetentionTerminal,
			RetentionPending:  cfg.Queue.RetentionPending,
			RetentionEvents:   cfg.Queue.RetentionEvents,
			OpTimeout:         cfg.Queue.OpTimeout,
		}, queueRepo, logsRepo, eventsRepo, direct, nil, nil)

		monitor := escalation.New(escalation.Config{
			Threshold:     cfg.Escalation.Threshold,
			AlertTemplate: cfg.Escalation.AlertTemplate,
			BucketTTL:     cfg.Escalation.BucketTTL,
		}, queueRepo, usersRepo, direct, redisClient, nil)

		ctx := cmd.Context()
		summary := proc.Run(ctx)
		escalated, err := monitor.Check(ctx)
		if err != nil {
			logger.Log.Error("escalation check failed", zap.Error(err))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"results": summary, "escalated": escalated})
	},
}
