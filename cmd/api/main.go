package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/consumer"
	"github.com/Dan9191/sacco-service/internal/handler"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/Dan9191/sacco-service/internal/repository/memory"
	"github.com/Dan9191/sacco-service/internal/repository/postgres"
	"github.com/Dan9191/sacco-service/internal/scheduler"
	"github.com/Dan9191/sacco-service/internal/service"
	"github.com/Dan9191/sacco-service/internal/utils/email"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open %s store: %v", cfg.Store, err)
	}
	defer closeRepo()

	// Initialize layers
	policies := models.DefaultPolicies()
	if shares, ok := policies[models.AccountShares]; ok {
		shares.ShareUnitPrice = cfg.SharePrice
		policies[models.AccountShares] = shares
	}
	sender := email.NewSender(cfg, logger)
	svc := service.NewService(repo, logger, service.Options{
		Policies:         policies,
		Score:            cfg.Score,
		DefaultGraceDays: cfg.DefaultGraceDays,
		DefaultedLoanCap: cfg.DefaultedLoanCap,
		Notifier:         sender,
	})
	h := handler.NewHandler(svc, logger, cfg.CallbackSecret)
	r := handler.NewRouter(h, cfg)

	// Scheduled jobs
	lock, closeLock := runLock(cfg, logger)
	defer closeLock()
	cron := scheduler.New(logger, lock, nil)
	if err := cron.Register(scheduler.JobInterestAccrual, cfg.InterestCron, svc.Calculator.RunInterestAccrual); err != nil {
		logger.Fatalf("Failed to schedule interest accrual: %v", err)
	}
	if err := cron.Register(scheduler.JobDefaultSweep, cfg.SweepCron, svc.Loans.RunLoanDefaultSweep); err != nil {
		logger.Fatalf("Failed to schedule default sweep: %v", err)
	}
	cron.Start()

	// Revenue events
	consumerDone := make(chan struct{})
	if len(cfg.KafkaBrokers) > 0 {
		reader := consumer.NewKafkaReader(consumer.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaRevenueTopic,
			GroupID: cfg.KafkaGroupID,
		})
		revenue := consumer.NewRevenueConsumer(reader, svc.Members, logger)
		go func() {
			defer close(consumerDone)
			if err := revenue.Run(ctx); err != nil {
				logger.Errorf("Revenue consumer failed: %v", err)
			}
			if err := revenue.Close(); err != nil {
				logger.Warnf("Failed to close revenue consumer: %v", err)
			}
		}()
	} else {
		close(consumerDone)
		logger.Info("KAFKA_BROKERS not set, revenue consumer disabled")
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	select {
	case <-cron.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Scheduled jobs still running at shutdown")
	}
	<-consumerDone
}

func openRepository(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.Repository, func(), error) {
	if cfg.Store == "memory" {
		store := memory.New(time.Now)
		for _, p := range defaultProducts() {
			if err := store.CreateProduct(ctx, p); err != nil {
				return nil, nil, err
			}
		}
		logger.Warn("Using in-memory store, data is lost on restart")
		return store, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	store := postgres.New(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}

func runLock(cfg *config.Config, logger *logrus.Logger) (scheduler.RunLock, func()) {
	if cfg.RedisAddr == "" {
		return scheduler.NewLocalLock(nil), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	host, _ := os.Hostname()
	logger.Infof("Using redis run lock at %s", cfg.RedisAddr)
	return scheduler.NewRedisLock(client, "sacco:job:", host), func() { client.Close() }
}

// defaultProducts mirrors the rows seeded by the postgres schema.
func defaultProducts() []*models.LoanProduct {
	return []*models.LoanProduct{
		{
			Name:          "development",
			InterestRate:  decimal.RequireFromString("0.12"),
			MaxAmount:     50_000_000,
			SavingsFactor: decimal.NewFromInt(3),
			MaxTermMonths: 36,
		},
		{
			Name:          "emergency",
			InterestRate:  decimal.RequireFromString("0.18"),
			MaxAmount:     2_000_000,
			SavingsFactor: decimal.NewFromInt(1),
			MaxTermMonths: 6,
		},
	}
}
