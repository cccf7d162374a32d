package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/tradebridge/backend/internal/applications"
	"github.com/tradebridge/backend/internal/auth"
	"github.com/tradebridge/backend/internal/billing"
	"github.com/tradebridge/backend/internal/config"
	"github.com/tradebridge/backend/internal/dashboard"
	"github.com/tradebridge/backend/internal/jobs"
	"github.com/tradebridge/backend/internal/ledger"
	"github.com/tradebridge/backend/internal/profiles"
	"github.com/tradebridge/backend/internal/repository"
	"github.com/tradebridge/backend/internal/reviews"
	"github.com/tradebridge/backend/internal/router"
	"github.com/tradebridge/backend/internal/subscriptions"
	"github.com/tradebridge/backend/internal/sweep"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	accountRepo := repository.NewAccountRepo(pool)
	creditRepo := repository.NewCreditRepo(pool)
	transactionRepo := repository.NewTransactionRepo(pool)
	jobRepo := repository.NewJobRepo(pool)
	applicationRepo := repository.NewApplicationRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)
	reviewRepo := repository.NewReviewRepo(pool)
	profileRepo := profiles.NewRepository(pool)

	// Services
	ledgerSvc := ledger.NewService(accountRepo, creditRepo)
	authSvc := auth.NewService(userRepo, accountRepo, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTL)*time.Hour)
	jobsSvc := jobs.NewService(jobRepo, jobs.Config{
		ApprovalRequired:  cfg.Jobs.ApprovalRequired,
		DefaultCreditCost: cfg.Jobs.DefaultCreditCost,
		ExpiryDays:        cfg.Jobs.ExpiryDays,
	}, logger)
	applicationsSvc := applications.NewService(applicationRepo, jobRepo, ledgerSvc, logger)
	subscriptionsSvc := subscriptions.NewService(subscriptionRepo, transactionRepo, ledgerSvc, logger)
	reviewsSvc := reviews.NewService(reviewRepo, jobRepo, logger)
	profilesSvc := profiles.NewService(profileRepo, reviewRepo)

	processor := billing.NewStripeProcessor(cfg.Stripe.SecretKey, cfg.Stripe.BaseURL)
	gateway := billing.NewGateway(transactionRepo, transactionRepo, ledgerSvc, processor, logger)

	// Background sweeps
	workers := river.NewWorkers()
	river.AddWorker(workers, sweep.NewExpireJobsWorker(jobsSvc, logger))
	river.AddWorker(workers, sweep.NewRenewSubscriptionsWorker(subscriptionsSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Hour),
				func() (river.JobArgs, *river.InsertOpts) { return sweep.ExpireJobsArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Hour),
				func() (river.JobArgs, *river.InsertOpts) { return sweep.RenewSubscriptionsArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// Handlers
	h := router.Handlers{
		Auth:          auth.NewHandler(authSvc, logger),
		Jobs:          jobs.NewHandler(jobsSvc, logger),
		Applications:  applications.NewHandler(applicationsSvc, logger),
		Billing:       billing.NewHandler(gateway, logger),
		Subscriptions: subscriptions.NewHandler(subscriptionsSvc, logger),
		Reviews:       reviews.NewHandler(reviewsSvc, logger),
		Profiles:      profiles.NewHandler(profilesSvc, logger),
		Dashboard:     dashboard.NewHandler(userRepo, accountRepo, ledgerSvc, transactionRepo, logger),
	}
	apiRouter := router.New(h, authSvc)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.App.Port)
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
