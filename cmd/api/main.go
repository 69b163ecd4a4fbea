package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/api"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/config"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/queue"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/schedule"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/store"
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

	scheduler := schedule.NewService(st, q, logger)
	server := api.New(cfg, scheduler, logger)

	httpServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
	logger.Info("api shutdown complete")
}
