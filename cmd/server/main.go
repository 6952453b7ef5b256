package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nathanyu/order-saga/internal/config"
	"github.com/nathanyu/order-saga/internal/handler"
	"github.com/nathanyu/order-saga/internal/middleware"
	"github.com/nathanyu/order-saga/internal/notify"
	"github.com/nathanyu/order-saga/internal/queue"
	"github.com/nathanyu/order-saga/internal/saga"
	"github.com/nathanyu/order-saga/internal/sagastore"
	"github.com/nathanyu/order-saga/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const serviceName = "order-saga"

func main() {
	cfg := config.Load()

	// Initialize structured logging
	telemetry.InitLogger(serviceName)

	// Initialize OpenTelemetry tracing
	cleanup, err := telemetry.InitTracer(serviceName)
	if err != nil {
		log.Printf("Warning: Failed to initialize tracer: %v", err)
	} else {
		defer cleanup()
	}

	// Set Gin mode
	gin.SetMode(cfg.GinMode)

	log.Println("Starting Order Saga service...")

	// 1. Connect to NATS
	log.Printf("Connecting to NATS at %s...", cfg.NATSUrl)
	natsClient, err := queue.NewNATSClient(cfg.NATSUrl)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()
	log.Println("Connected to NATS")

	// 2. Initialize the saga store backend
	store, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize saga store: %v", err)
	}
	defer closeStore()
	log.Printf("Saga store initialized (backend: %s)", cfg.Store)

	// 3. Build the notification emitter
	emitter := notify.NewEmitter(natsClient.GetConn())

	// 4. Start the saga coordinator (event consumer)
	coordinator := saga.NewCoordinator(store, emitter, natsClient.GetConn())
	if err := coordinator.Start(); err != nil {
		log.Fatalf("Failed to start saga coordinator: %v", err)
	}
	defer coordinator.Stop()

	// 5. Initialize HTTP handler
	h := handler.NewHandler(natsClient, store)

	// 6. Setup Gin router with middleware
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Tracing())
	router.Use(middleware.Metrics())
	handler.SetupRoutes(router, h)

	// 7. Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// 8. Start metrics server (separate port for Prometheus scraping)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	// Start servers in goroutines
	go func() {
		log.Printf("HTTP server listening on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	go func() {
		log.Printf("Metrics server listening on port %d", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		log.Printf("Metrics server forced to shutdown: %v", err)
	}

	log.Println("Service stopped")
}

// buildStore selects the saga store backend from configuration
func buildStore(cfg *config.Config) (saga.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return sagastore.NewMemoryStore(), func() {}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return sagastore.NewRedisStore(client), func() { client.Close() }, nil

	case config.StorePostgres:
		db, err := sagastore.OpenPostgres(cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres open: %w", err)
		}
		store := sagastore.NewPostgresStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown saga store backend: %q", cfg.Store)
	}
}
