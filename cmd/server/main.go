package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meetkit/booking-webhooks/internal/api"
	"github.com/meetkit/booking-webhooks/internal/booking"
	"github.com/meetkit/booking-webhooks/internal/config"
	"github.com/meetkit/booking-webhooks/internal/engine"
	"github.com/meetkit/booking-webhooks/internal/logger"
	"github.com/meetkit/booking-webhooks/internal/store"
	ws "github.com/meetkit/booking-webhooks/internal/websocket"
	"github.com/meetkit/booking-webhooks/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("error").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	log.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info("database migrations applied")

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	log.Info("connected to Redis")

	dispatcher := engine.NewDispatcher(redisStore.Client(), cfg.RetryMaxAttempts, log)
	circuitBreaker := engine.NewCircuitBreaker(redisStore.Client(), log)
	rateLimiter := engine.NewRateLimiter(redisStore.Client(), log)

	hub := ws.NewHub(log)
	go hub.Run()

	deliverer := worker.NewDeliverer(worker.DelivererConfig{
		Recorder:       pgStore,
		Dispatcher:     dispatcher,
		CircuitBreaker: circuitBreaker,
		RateLimiter:    rateLimiter,
		Hub:            hub,
		Logger:         log,
		DefaultTimeout: cfg.DeliveryTimeout,
		BackoffBase:    cfg.RetryBackoffBase,
	})

	pool := worker.NewPool(cfg.NumWorkers, deliverer, log)
	pool.Start(ctx)

	poller := worker.NewPoller(redisStore.Client(), pool, log)
	go poller.Start(ctx)

	bookings := booking.NewService(pgStore, pgStore, dispatcher, log)

	router := api.NewRouter(pgStore, bookings, dispatcher, circuitBreaker, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	pool.Stop()

	log.Info("server stopped")
}
