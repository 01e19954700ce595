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

	"payment-service/config"
	"payment-service/internal/api"
	"payment-service/internal/broker"
	"payment-service/internal/proofstore"
	"payment-service/internal/provider"
	"payment-service/internal/redisclient"
	"payment-service/internal/service"
	"payment-service/internal/store"
	"payment-service/internal/util"
	"payment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment service")

	tp, err := util.InitTracer("payment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL, store.PoolConfig{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicPayments))

	eventPublisher := broker.NewEventPublisher(producer, cfg.Kafka.EventBuffer, cfg.Payments.ProviderTimeout)

	// adapters share one client; per-call deadlines come from the orchestrator
	httpClient := &http.Client{Timeout: cfg.Payments.ProviderTimeout + 5*time.Second}
	registry := provider.NewRegistry(cfg.Providers, httpClient)
	settings := service.NewSettingsService(db, cfg.Providers, registry)

	ctx := context.Background()
	if merged, err := settings.Load(ctx); err != nil {
		logger.Warn("Failed to load stored payment settings, using environment", zap.Error(err))
	} else {
		registry.Reload(merged)
	}
	for _, p := range registry.Available() {
		logger.Info("Payment provider enabled", zap.String("provider", string(p.ID)))
	}

	proofs, err := proofstore.New(cfg.Payments.ProofDir, cfg.Payments.MaxProofSizeBytes)
	if err != nil {
		logger.Fatal("Failed to prepare proof directory", zap.Error(err))
	}

	orchestrator := service.NewOrchestrator(db, registry, eventPublisher, proofs, service.Config{
		SupportedCurrencies: cfg.Payments.SupportedCurrencies,
		ProviderTimeout:     cfg.Payments.ProviderTimeout,
		RefundTimeout:       cfg.Payments.RefundTimeout,
		UploadTimeout:       cfg.Payments.UploadTimeout,
		WebhookTimeout:      cfg.Payments.WebhookTimeout,
	})
	orchestrator.UseIdempotencyStore(redisClient)
	adminService := service.NewAdminService(db, orchestrator, cfg.Payments.CommissionRate)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, redisClient, worker.NewLogNotifier())
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty; bearer tokens will be rejected")
	}

	router := gin.New()
	handler := api.NewHandler(orchestrator, adminService, settings, api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), api.Options{
		MaxProofSize: proofs.MaxSize(),
	})
	handler.AddReadinessCheck("database", db)
	handler.AddReadinessCheck("redis", redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Error stopping notification worker", zap.Error(err))
	}

	if err := eventPublisher.Close(shutdownCtx); err != nil {
		logger.Warn("Events left undelivered", zap.Error(err))
	}

	logger.Info("Server exited")
}
