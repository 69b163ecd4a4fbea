package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/config"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/dispatch"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/mailer"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/queue"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/ratelimit"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/store"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/telemetry"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sig := <-ch
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.NewDelayedQueue(redisClient, cfg.VisibilityTimeout)
	limiter := ratelimit.NewHourlyWindow(redisClient, cfg.MaxEmailsPerHour, cfg.RateWindowTTL)
	sender := mailer.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)

	dispatcher := dispatch.New(dispatch.Options{
		Concurrency:        cfg.WorkerConcurrency,
		PollInterval:       cfg.PollInterval,
		MaxAttempts:        cfg.MaxAttempts,
		BackoffBase:        cfg.BackoffBase,
		MinSendInterval:    cfg.MinSendInterval,
		ScheduledBatchSize: cfg.ScheduledBatchSize,
		VisibilityTimeout:  cfg.VisibilityTimeout,
	}, st, q, limiter, sender, logger)

	// The queue is rebuilt from the job store before any worker pulls work.
	restored, err := dispatcher.Recover(ctx)
	if err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}
	logger.Info("pending jobs restored", zap.Int("count", restored))

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: telemetry.Handler(),
	}
	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	dispatcher.Start(ctx)

	<-ctx.Done()
	dispatcher.Stop()
	_ = metricsServer.Close()
	logger.Info("worker shutdown complete")
}
