package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/brightreach/leadpilot/internal/ai"
	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/config"
	"github.com/brightreach/leadpilot/internal/conversations"
	"github.com/brightreach/leadpilot/internal/engine"
	"github.com/brightreach/leadpilot/internal/inbox"
	"github.com/brightreach/leadpilot/internal/leads"
	"github.com/brightreach/leadpilot/internal/mailer"
	"github.com/brightreach/leadpilot/internal/notify"
	"github.com/brightreach/leadpilot/internal/observability/metrics"
	"github.com/brightreach/leadpilot/internal/runs"
	"github.com/brightreach/leadpilot/internal/sms"
	"github.com/brightreach/leadpilot/pkg/logging"
)

// Runtime holds the fully wired pipeline shared by the API server and
// the worker.
type Runtime struct {
	Config *config.Config
	Logger *logging.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Runs          *runs.Store
	Leads         *leads.Store
	Conversations *conversations.Store
	Automations   *automations.Store

	Executor *engine.Executor
	Gateway  *engine.Gateway
	Registry *automations.Registry
	Poller   *inbox.Poller
	Queue    *engine.QueueProcessor

	Metrics        *metrics.PipelineMetrics
	MetricsHandler http.Handler
}

// New connects the external services and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, poll lock falls back to in-process", "error", err)
			redisClient.Close()
			redisClient = nil
		}
	}

	aiClient, err := ai.NewClient(cfg.AnthropicAPIKey, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init ai client: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	runStore := runs.NewStore(pool)
	leadStore := leads.NewStore(pool)
	convStore := conversations.NewStore(pool)
	autoStore := automations.NewStore(pool)

	sendgrid := mailer.NewSendGridSender(mailer.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	resolver := mailer.NewResolver(sendgrid, logger)

	var smsSender sms.Sender
	if tw := sms.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger); tw != nil {
		smsSender = tw
	}
	var notifyEmail mailer.Sender
	if sendgrid != nil {
		notifyEmail = sendgrid
	}
	notifier := notify.NewService(notifyEmail, smsSender, logger)

	exec := engine.NewExecutor(
		runStore,
		leadStore,
		convStore,
		autoStore,
		ai.NewEmailParser(aiClient, cfg.ParserModel),
		ai.NewReplyGenerator(aiClient, cfg.ReplyModel),
		resolver,
		notifier,
		m,
		logger,
	)
	gateway := engine.NewGateway(exec)
	registry := automations.NewRegistry(
		engine.NewLeadReplyAutomation(exec, autoStore, &engine.HTTPBodyFetcher{}),
	)

	lock := inbox.NoopLocker()
	if redisClient != nil {
		lock = inbox.NewRedisLocker(redisClient)
	}
	poller := inbox.NewPoller(inbox.PollerOptions{
		Configs: autoStore,
		Leads:   leadStore,
		Thread:  convStore,
		Engine:  exec,
		Lock:    lock,
		Window:  cfg.PollWindow,
		LockTTL: cfg.PollLockTTL,
		Metrics: m,
		Logger:  logger,
	})
	queue := engine.NewQueueProcessor(exec, cfg.QueueBatchSize, logger)

	return &Runtime{
		Config:         cfg,
		Logger:         logger,
		Pool:           pool,
		Redis:          redisClient,
		Runs:           runStore,
		Leads:          leadStore,
		Conversations:  convStore,
		Automations:    autoStore,
		Executor:       exec,
		Gateway:        gateway,
		Registry:       registry,
		Poller:         poller,
		Queue:          queue,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}

// Close releases the database and redis connections.
func (r *Runtime) Close() {
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	r.Pool.Close()
}
