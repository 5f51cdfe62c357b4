package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartqueue-backend/config"
	"smartqueue-backend/internal/api"
	"smartqueue-backend/internal/clock"
	"smartqueue-backend/internal/db"
	"smartqueue-backend/internal/dispatch"
	"smartqueue-backend/internal/eventlog"
	"smartqueue-backend/internal/notification"
	"smartqueue-backend/internal/notify"
	"smartqueue-backend/internal/registry"
	"smartqueue-backend/internal/reservation"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "smartqueue ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewSystem()

	// Core components
	reg := registry.New(gormDB, cfg.Occupancy.DefaultCapacity)
	events := eventlog.New(gormDB)
	reservations := reservation.New(gormDB, reg, clk, cfg.Occupancy.ReservationTTL, cfg.Occupancy.SweepInterval)
	hub := notify.NewHub(cfg.Occupancy.SubscriberBufferMessages)

	// Web push is optional; without VAPID keys the service runs with
	// live SSE updates only.
	var webpushOptions *webpush.Options
	var pool *notification.WorkerPool
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool = notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		logger.Printf("web push enabled with %d notification worker(s)", cfg.WorkerPool.Size)
	} else {
		logger.Println("VAPID keys not configured; web push notifications disabled")
	}

	var freed dispatch.FreedNotifier
	if pool != nil {
		freed = pool
	}
	dispatcher := dispatch.New(reg, events, reservations, hub, freed, clk)

	// Run the reservation sweeper in the background
	go reservations.Run(ctx)

	// Initialize router
	router := api.NewRouter(cfg, dispatcher, reservations, reg, events, hub, gormDB, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
