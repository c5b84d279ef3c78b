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

	"booking-service/config"
	"booking-service/internal/api"
	"booking-service/internal/broker"
	"booking-service/internal/provider"
	"booking-service/internal/provider/faspay"
	"booking-service/internal/provider/omise"
	"booking-service/internal/redisclient"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	tp, err := util.InitTracer("booking-service", cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRate)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.RunMigrations {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	eventProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer eventProducer.Close()
	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer notificationProducer.Close()
	logger.Info("Kafka producers initialized",
		zap.String("events_topic", cfg.Kafka.TopicEvents),
		zap.String("notifications_topic", cfg.Kafka.TopicNotifications))

	eventPublisher := broker.NewEventPublisher(eventProducer)
	notificationPublisher := broker.NewEventPublisher(notificationProducer)

	providers, faspayClient, err := setupProviders(cfg)
	if err != nil {
		logger.Fatal("Failed to configure payment providers", zap.Error(err))
	}

	bookingService := service.NewBookingService(db, eventPublisher, cfg.Business.HoldTTL)
	paymentService := service.NewPaymentService(db, bookingService, providers, eventPublisher,
		cfg.Business.Currency, cfg.Business.ProviderTimeout)
	reconciler := service.NewReconciler(db, paymentService, providers, redisClient,
		cfg.Business.ProviderTimeout, cfg.Business.VerifyLockTTL)
	orchestrator := service.NewBookingOrchestrator(db, bookingService, paymentService, reconciler,
		redisClient, cfg.Provider.Default)

	reaper := worker.NewHoldReaper(db, bookingService, reconciler, worker.ReaperConfig{
		Interval:    cfg.Business.ReaperInterval,
		BatchSize:   cfg.Business.ReaperBatchSize,
		VerifyAfter: cfg.Business.PaymentVerifyAfter,
	})

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, orchestrator)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orchestrator).
		WithNotificationSink(notificationPublisher).
		WithReadinessCheck("postgres", db.Ping).
		WithReadinessCheck("redis", redisClient.Ping)
	if faspayClient != nil {
		handler.WithWebhookVerifier(faspay.Name, faspayClient).
			WithFaspayCallbacks(faspayClient)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := reaper.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("hold reaper: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := notificationWorker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("notification worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return notificationWorker.Stop()
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
	}

	logger.Info("Server exited")
}

// setupProviders registers every provider with credentials. The Faspay client is
// returned separately because it also verifies webhooks.
func setupProviders(cfg *config.Config) (*provider.Registry, *faspay.Client, error) {
	logger := util.GetLogger()

	var (
		gateways     []provider.Provider
		faspayClient *faspay.Client
	)

	if cfg.Provider.Faspay.Enabled() {
		faspayClient = faspay.NewClient(faspay.Config{
			BaseURL:    cfg.Provider.Faspay.BaseURL,
			MerchantID: cfg.Provider.Faspay.MerchantID,
			PartnerID:  cfg.Provider.Faspay.PartnerID,
			SecretKey:  cfg.Provider.Faspay.SecretKey,
			Timeout:    cfg.Business.ProviderTimeout,
		})
		gateways = append(gateways, faspayClient)
	}

	if cfg.Provider.Omise.Enabled() {
		client, err := omise.NewClient(cfg.Provider.Omise.PublicKey, cfg.Provider.Omise.SecretKey)
		if err != nil {
			return nil, nil, fmt.Errorf("omise client: %w", err)
		}
		gateways = append(gateways, omise.NewProvider(client))
	}

	registry := provider.NewRegistry(gateways...)
	if _, err := registry.Get(cfg.Provider.Default); err != nil {
		return nil, nil, fmt.Errorf("default provider %s has no credentials: %w", cfg.Provider.Default, err)
	}

	logger.Info("Payment providers configured",
		zap.Strings("providers", registry.Names()),
		zap.String("default", cfg.Provider.Default))
	return registry, faspayClient, nil
}
