package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brightreach/leadpilot/internal/api/router"
	"github.com/brightreach/leadpilot/internal/app/bootstrap"
	appconfig "github.com/brightreach/leadpilot/internal/config"
	"github.com/brightreach/leadpilot/internal/http/handlers"
	"github.com/brightreach/leadpilot/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting leadpilot API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	rt, err := bootstrap.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	twilioCallback := cfg.PublicBaseURL + "/webhooks/twilio"
	r := router.New(&router.Config{
		Logger:         logger,
		Automations:    handlers.NewAutomationHandler(rt.Registry, rt.Gateway, rt.Automations, logger),
		Webhooks:       handlers.NewWebhookHandler(rt.Executor, rt.Gateway, rt.Automations, rt.Automations, cfg.TwilioAuthToken, twilioCallback, logger),
		Cron:           handlers.NewCronHandler(rt.Poller, rt.Queue, logger),
		TriggerSecret:  cfg.TriggerSecret,
		CronSecret:     cfg.CronSecret,
		MetricsHandler: rt.MetricsHandler,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
