package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/noveletta/backend/internal/auth"
	"github.com/noveletta/backend/internal/config"
	"github.com/noveletta/backend/internal/dashboard"
	"github.com/noveletta/backend/internal/escrow"
	"github.com/noveletta/backend/internal/ledger"
	"github.com/noveletta/backend/internal/notify"
	"github.com/noveletta/backend/internal/payments"
	"github.com/noveletta/backend/internal/paywall"
	"github.com/noveletta/backend/internal/repository"
	"github.com/noveletta/backend/internal/withdrawal"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Parse()
	if err != nil {
		slog.Error("Failed to parse configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, pool)

	// Notifications: insert func is set after the River client is created
	// (breaks the init cycle between services and the worker pool).
	var insertMu sync.Mutex
	var insertFn notify.InsertTxFunc
	insertNotification := func(ctx context.Context, tx pgx.Tx, args notify.NotificationArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewWorker(cfg.NotifyWebhookURL, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args notify.NotificationArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Auth
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	// Shared repositories
	accountRepo := repository.NewAccountRepo(pool)
	intentRepo := repository.NewPaymentIntentRepo(pool)
	eventRepo := repository.NewProcessedEventRepo(pool)
	reconRepo := repository.NewReconciliationRepo(pool)
	chapterRepo := repository.NewChapterRepo(pool)
	jobRepo := repository.NewJobRepo(pool)
	withdrawalRepo := repository.NewWithdrawalRepo(pool)

	// Top-ups
	gateway := payments.NewGateway(cfg.WebhookSecret, time.Duration(cfg.WebhookTolerance)*time.Second)
	paymentsSvc := payments.NewService(pool, gateway, intentRepo, eventRepo, ledgerSvc, reconRepo, insertNotification, logger)
	paymentsHandler := payments.NewHandler(paymentsSvc, gateway, logger)

	// Paywall
	paywallSvc := paywall.NewService(pool, chapterRepo, ledgerSvc, insertNotification, logger)
	paywallHandler := paywall.NewHandler(paywallSvc, accountRepo, logger)

	// Escrowed jobs
	escrowSvc := escrow.NewService(jobRepo, ledgerSvc, insertNotification, logger)
	escrowHandler := escrow.NewHandler(escrowSvc, logger)

	// Withdrawals
	withdrawalSvc := withdrawal.NewService(withdrawalRepo, ledgerSvc, insertNotification, logger)
	withdrawalHandler := withdrawal.NewHandler(withdrawalSvc, logger)

	dashHandler := dashboard.NewHandler(accountRepo, ledgerRepo, reconRepo, eventRepo, logger)

	mux := http.NewServeMux()
	registerRoutes(mux, authSvc, authHandler, paymentsHandler, paywallHandler, escrowHandler, withdrawalHandler, dashHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", payments.SignatureHeader},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (delivers notifications)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
