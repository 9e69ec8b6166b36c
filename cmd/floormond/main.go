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

	"floor-monitor-backend/config"
	"floor-monitor-backend/internal/api"
	"floor-monitor-backend/internal/db"
	"floor-monitor-backend/internal/estimator"
	"floor-monitor-backend/internal/notification"
	"floor-monitor-backend/internal/runstate"
	"floor-monitor-backend/internal/store"
	"floor-monitor-backend/internal/threshold"
)

func main() {
	logger := log.New(os.Stdout, "floormond ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	est := estimator.New(appStore)
	tracker := runstate.New(est, appStore, 256)
	go tracker.Run(ctx)

	dedup := notification.DedupPolicy{
		SpecificTypes:  make(map[string]bool, len(cfg.Alerting.SpecificAlertTypes)),
		SpecificWindow: cfg.Alerting.SpecificWindow,
		GenericWindow:  cfg.Alerting.GenericWindow,
	}
	for _, t := range cfg.Alerting.SpecificAlertTypes {
		dedup.SpecificTypes[t] = true
	}

	dispatcher := notification.NewDispatcher(cfg.WorkerPool.Size, appStore, &webpushOptions, dedup)
	dispatcher.Start(ctx)

	evaluator := threshold.New(appStore)

	reconciler := estimator.NewReconciler(est, appStore, cfg.Reconcile.Interval, cfg.Reconcile.Timeout)
	go reconciler.Run(ctx)

	handler := api.NewHandler(appStore, tracker, est, evaluator, dispatcher)
	router := api.NewRouter(handler, &cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
