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

	"meeting-reminder-backend/config"
	"meeting-reminder-backend/internal/api"
	"meeting-reminder-backend/internal/db"
	"meeting-reminder-backend/internal/live"
	"meeting-reminder-backend/internal/notification"
	"meeting-reminder-backend/internal/push"
	"meeting-reminder-backend/internal/scanner"
	"meeting-reminder-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "meetingd ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	transport, vapidPublicKey, err := newTransport(ctx, cfg.Push)
	if err != nil {
		logger.Fatalf("failed to initialize %s push transport: %v", cfg.Push.Provider, err)
	}
	logger.Printf("push transport %q ready", cfg.Push.Provider)

	// Lifecycle announcements are delivered off the request path.
	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, transport)
	workerPool.Start(ctx)

	hub := live.NewHub()

	dispatcher := notification.NewDispatcher(transport, notification.DispatcherConfig{
		BatchSize:     cfg.Scanner.BatchSize,
		BatchInterval: cfg.Scanner.BatchInterval,
		RetryDelay:    cfg.Scanner.RetryDelay,
		MaxAttempts:   cfg.Scanner.MaxAttempts,
	})
	scannerSvc := scanner.NewService(cfg.Scanner, appStore, dispatcher, hub)
	scannerSvc.Start(ctx)

	handler := api.NewHandler(appStore, workerPool, transport, vapidPublicKey)
	router := api.NewRouter(handler, live.NewHandler(hub, appStore, cfg.Server.AllowedOrigins), cfg.Server)
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
		logger.Printf("HTTP server Shutdown: %v", err)
	}

	cancel()
	scannerSvc.Wait()
	workerPool.Wait()

	logger.Println("Server gracefully stopped")
}

// newTransport builds the configured push transport. The returned key is the
// VAPID public key, empty for providers that do not use one.
func newTransport(ctx context.Context, cfg config.PushConfig) (push.Transport, string, error) {
	switch cfg.Provider {
	case config.ProviderFCM:
		client, err := push.NewFCMClient(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, "", err
		}
		return client, "", nil
	case config.ProviderWebPush:
		client := push.NewWebPushClient(&webpush.Options{
			VAPIDPublicKey:  cfg.PublicKey,
			VAPIDPrivateKey: cfg.PrivateKey,
			Subscriber:      cfg.Subject,
			TTL:             cfg.TTL,
		})
		return client, client.PublicKey(), nil
	default:
		return nil, "", fmt.Errorf("unknown push provider %q", cfg.Provider)
	}
}
