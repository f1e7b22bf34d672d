package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/audit"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/cache"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/db"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/jobs"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/kafka"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/lock"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/logger"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository/postgresql"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/restoration"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/returnsapi"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/server"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/shopify"
)

const auditTopic = "restoration_audit_events"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger.New()
	defer func() { _ = log.Sync() }()

	database, err := db.NewDb(ctx)
	if err != nil {
		log.Fatal("Database init failed", zap.Error(err))
	}

	restorationRepo := postgresql.NewRestorationRepo(database)
	eventRepo := postgresql.NewEventRepo(database)
	lockRepo := postgresql.NewLockRepo(database)
	outboxRepo := postgresql.NewOutboxTaskRepo()
	userRepo := postgresql.NewUserRepo(database)

	// First-run convenience: seed the ops user for the basic-auth endpoints.
	if user, pass := os.Getenv("OPS_BOOTSTRAP_USER"), os.Getenv("OPS_BOOTSTRAP_PASSWORD"); user != "" && pass != "" {
		if err := userRepo.CreateUser(ctx, user, pass); err != nil {
			log.Warn("ops user bootstrap failed (may already exist)", zap.Error(err))
		}
	}

	auditManager := audit.NewManager(eventRepo, outboxRepo, database, auditTopic, 2, 5, 500*time.Millisecond, log)
	auditManager.Start(ctx)

	shopifyClient := shopify.NewClient(
		os.Getenv("SHOPIFY_BASE_URL"),
		os.Getenv("SHOPIFY_ACCESS_TOKEN"),
		log,
	)
	orderLookup := cache.NewLookupCache(shopifyClient)

	linker := restoration.NewLinker(restorationRepo, orderLookup, log)
	engine := restoration.NewEngine(restorationRepo, linker, auditManager, log)

	lockManager := lock.NewManager(lockRepo, lock.DefaultTTL, log)
	returnsClient := returnsapi.NewClient(
		os.Getenv("RETURNS_API_BASE_URL"),
		os.Getenv("RETURNS_API_KEY"),
		log,
	)
	reconciler := jobs.NewReconciler(lockManager, returnsClient, engine, jobs.ReconcilerConfig{}, log)

	brokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	producer := kafka.NewWriterProducer(brokers, log)
	publisher := kafka.NewPublisher(database, outboxRepo, producer, kafka.PublisherConfig{
		PollInterval: 2 * time.Second,
		BatchSize:    20,
		MaxAttempts:  5,
	}, log)
	go publisher.Run(ctx)

	if interval := reconcileInterval(); interval > 0 {
		go runPeriodicReconcile(ctx, reconciler, interval, log)
	}

	srv := server.New(engine, reconciler, restorationRepo, eventRepo, userRepo, server.Config{
		Port:             getEnv("HTTP_PORT", "9000"),
		StorefrontSecret: os.Getenv("SHOPIFY_WEBHOOK_SECRET"),
		ReturnsSecret:    os.Getenv("RETURNS_WEBHOOK_SECRET"),
		ReturnsHMACKey:   os.Getenv("RETURNS_WEBHOOK_HMAC_KEY"),
	}, log)

	if err := srv.Run(ctx); err != nil {
		log.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	auditManager.Shutdown(shutdownCtx)
	publisher.Shutdown()
	log.Info("Shutdown complete")
}

func runPeriodicReconcile(ctx context.Context, reconciler *jobs.Reconciler, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := reconciler.Run(ctx); err != nil {
				log.Error("scheduled reconciliation failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func reconcileInterval() time.Duration {
	minutes, err := strconv.Atoi(os.Getenv("RECONCILE_INTERVAL_MINUTES"))
	if err != nil || minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
