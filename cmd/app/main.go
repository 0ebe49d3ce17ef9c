package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/auth"
	"github.com/chris/community-lending/pkg/config"
	"github.com/chris/community-lending/pkg/handlers"
	applog "github.com/chris/community-lending/pkg/middleware"
	"github.com/chris/community-lending/pkg/notify"
	"github.com/chris/community-lending/pkg/services"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/chris/community-lending/pkg/storage/badger"
	dydbstore "github.com/chris/community-lending/pkg/storage/dynamodb"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable not set")
	}

	ctx := context.Background()
	store, notifier, err := backends(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize backends: %v", err)
	}
	defer store.Close(ctx)

	svc := services.New(store, notifier, services.Options{
		MaxOpenTransactions: cfg.MaxOpenTransactions,
		LedgerLease:         cfg.LedgerLease,
	})
	if err := svc.Ledger.SeedDefaults(ctx, cfg.DefaultCategories); err != nil {
		log.Fatalf("failed to seed default categories: %v", err)
	}

	// Create a new Chi router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(applog.NewStructuredLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	api.HandlerWithOptions(handlers.NewApiHandler(svc), api.ChiServerOptions{
		BaseRouter:       router,
		Middlewares:      []api.MiddlewareFunc{applog.Authenticate(auth.NewVerifier(cfg.JWTSecret))},
		ErrorHandlerFunc: handlers.ParamError,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting server", "port", cfg.HTTPPort, "storage", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	slog.Info("server stopped")
}

// backends opens the configured store and picks the notifier: SQS when a
// queue is configured, otherwise the log.
func backends(ctx context.Context, cfg *config.Config) (storage.Storage, notify.Notifier, error) {
	if cfg.StorageBackend == config.BackendBadger {
		store, err := badger.New(cfg.BadgerPath, cfg.CounterBatchSize)
		if err != nil {
			return nil, nil, err
		}
		return store, notify.LogNotifier{}, nil
	}

	if err := cfg.RequireTables(); err != nil {
		return nil, nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	store := dydbstore.New(dynamodb.NewFromConfig(awsCfg), dydbstore.Tables{
		Items:         cfg.Tables.Items,
		Users:         cfg.Tables.Users,
		Counters:      cfg.Tables.Counters,
		ExchangeCache: cfg.Tables.ExchangeCache,
		Transactions:  cfg.Tables.Transactions,
	}, cfg.CounterBatchSize)

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.SQSQueueURL != "" {
		notifier = notify.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL)
	} else {
		slog.Warn("SQS_QUEUE_URL not set, notifications are only logged")
	}
	return store, notifier, nil
}
