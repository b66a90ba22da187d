package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/webq/notify-gateway/internal/config"
	"github.com/webq/notify-gateway/internal/enqueue"
	"github.com/webq/notify-gateway/internal/escalation"
	"github.com/webq/notify-gateway/internal/http/middleware"
	"github.com/webq/notify-gateway/internal/kafka"
	"github.com/webq/notify-gateway/internal/logger"
	"github.com/webq/notify-gateway/internal/mailer"
	"github.com/webq/notify-gateway/internal/metrics"
	"github.com/webq/notify-gateway/internal/processor"
	"github.com/webq/notify-gateway/internal/repository"
	"github.com/webq/notify-gateway/internal/resolver"
	"github.com/webq/notify-gateway/internal/sender"
	"github.com/webq/notify-gateway/internal/webhook"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, publisher *kafka.Publisher) *Server {
	// repos (MySQL)
	eventsRepo := repository.NewProcessedEventsRepository(mysqlDB)
	queueRepo := repository.NewQueueRepository(mysqlDB)
	logsRepo := repository.NewDeliveryLogRepository(mysqlDB)
	templatesRepo := repository.NewTemplatesRepository(mysqlDB)
	usersRepo := repository.NewUsersRepository(mysqlDB)
	ordersRepo := repository.NewOrdersRepository(mysqlDB)

	// repos (ClickHouse mirror)
	var chRepo repository.CHDeliveriesRepository
	if clickhouseDB != nil {
		chRepo = repository.NewCHDeliveriesRepository(clickhouseDB)
	}

	// transport + direct sender
	mail := mailer.NewHTTPMailer(mailer.Config{
		BaseURL:       cfg.Mailer.BaseURL,
		APIKey:        cfg.Mailer.APIKey,
		TimeoutMs:     cfg.Mailer.TimeoutMs,
		RetryAttempts: cfg.Mailer.RetryAttempts,
		RetryBase:     cfg.Mailer.RetryBase,
	})
	rslv := resolver.New(usersRepo)
	direct := sender.New(
		templatesRepo, logsRepo, chRepo, mail,
		func(ctx context.Context, tokens []string) ([]string, []string, []string, error) {
			res, err := rslv.Resolve(ctx, tokens)
			return res.Addresses, res.Unresolved, res.Malformed, err
		},
		usersRepo.AdminEmails,
		sender.Identity{Email: cfg.Mailer.SenderEmail, Name: cfg.Mailer.SenderName},
		cfg.Queue.DedupWindow,
		nil,
	)

	// pipeline
	enq := enqueue.New(queueRepo, direct, cfg.Queue.MaxAttempts)
	dispatch := webhook.NewDispatcher(enq, ordersRepo, usersRepo)
	hook := webhook.NewHandler(cfg.Webhook.Secret, cfg.Webhook.Tolerance, eventsRepo, dispatch, nil)
	proc := processor.New(processor.Config{
		BatchLimit:        cfg.Queue.BatchLimit,
		DedupWindow:       cfg.Queue.DedupWindow,
		RetentionTerminal: cfg.Queue.RetentionTerminal,
		RetentionPending:  cfg.Queue.RetentionPending,
		RetentionEvents:   cfg.Queue.RetentionEvents,
		OpTimeout:         cfg.Queue.OpTimeout,
	}, queueRepo, logsRepo, eventsRepo, direct, publisher, nil)
	monitor := escalation.New(escalation.Config{
		Threshold:     cfg.Escalation.Threshold,
		AlertTemplate: cfg.Escalation.AlertTemplate,
		BucketTTL:     cfg.Escalation.BucketTTL,
	}, queueRepo, usersRepo, direct, rds, nil)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// webhook ingestion (signature-authenticated, no shared key)
	e.POST("/webhook", webhookHandler(hook))

	// middlewares
	keyMW := middleware.InternalKeyMiddleware(cfg.Internal.Key)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		Max:            cfg.RateLimit.ManualPerHour,
		KeyPrefix:      "rl:manual:",
		Window:         time.Hour,
		RetryAfterHint: true,
	})

	// scheduler trigger
	internal := e.Group("/internal", keyMW)
	internal.POST("/queue/process", processQueueHandler(proc, monitor))

	// back-office surface
	v1 := e.Group("/v1", keyMW)
	v1.POST("/notifications", enqueueHandler(enq))
	v1.POST("/emails/send", sendEmailHandler(direct), rlMW)
	if chRepo != nil {
		v1.GET("/reports/deliveries", listDeliveriesHandler(chRepo))
	}

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
