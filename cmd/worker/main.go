package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/brightreach/leadpilot/internal/app/bootstrap"
	appconfig "github.com/brightreach/leadpilot/internal/config"
	"github.com/brightreach/leadpilot/pkg/logging"
)

// The worker drives the pull half of the pipeline: the inbox poller on
// the configured interval and the delay queue once a minute.
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting leadpilot worker",
		"env", cfg.Env,
		"poll_interval", cfg.PollInterval.String(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	rt, err := bootstrap.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	c := cron.New()

	pollSpec := fmt.Sprintf("@every %s", cfg.PollInterval)
	if _, err := c.AddFunc(pollSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PollInterval)
		defer cancel()
		if err := rt.Poller.Poll(ctx); err != nil {
			logger.Error("poll cycle failed", "error", err)
		}
	}); err != nil {
		logger.Error("schedule poller failed", "error", err)
		os.Exit(1)
	}

	if _, err := c.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := rt.Queue.ProcessDue(ctx)
		if err != nil {
			logger.Error("queue sweep failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("queue sweep done", "processed", n)
		}
	}); err != nil {
		logger.Error("schedule queue failed", "error", err)
		os.Exit(1)
	}

	c.Start()
	logger.Info("worker schedules registered")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("stopping worker...")
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("jobs still running at shutdown deadline")
	}
	logger.Info("worker stopped")
}
