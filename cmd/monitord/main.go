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

	"github.com/SherClockHolmes/webpush-go"

	"dotori-monitor-backend/config"
	"dotori-monitor-backend/internal/api"
	"dotori-monitor-backend/internal/breaker"
	"dotori-monitor-backend/internal/cronlock"
	"dotori-monitor-backend/internal/db"
	"dotori-monitor-backend/internal/isalang"
	"dotori-monitor-backend/internal/monitor"
	"dotori-monitor-backend/internal/notify"
	"dotori-monitor-backend/internal/store"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "dotori-monitor ", log.LstdFlags)

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

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	// One breaker registry for the whole process; every external call
	// shares failure state through it.
	registry := breaker.NewRegistry(breaker.Options{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		HalfOpenRequests: cfg.Breaker.HalfOpenRequests,
	})

	locker := cronlock.New(gormDB)
	dispatcher := notify.NewDispatcher(
		notify.NewAlimtalkClient(&cfg.Alimtalk),
		&notify.WebPushSender{},
		&webpushOptions,
		appStore,
		registry,
		cfg.Monitor.DispatchChunkSize,
	)

	monitorJob := monitor.NewJob(appStore, locker, dispatcher, cfg)
	syncJob := isalang.NewSyncJob(appStore, locker, isalang.NewClient(&cfg.Isalang), dispatcher, registry, cfg)

	// Self-scheduling: tick the monitor job when no external cron calls
	// the HTTP endpoint.
	if cfg.Monitor.Enabled {
		runner := monitor.NewRunner(monitorJob, cfg.Monitor.Interval)
		go runner.Run(ctx)
	}

	// Initialize router
	handler := api.NewHandler(appStore, monitorJob, syncJob, registry, &webpushOptions)
	router := api.NewRouter(handler, &cfg.Server)
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
