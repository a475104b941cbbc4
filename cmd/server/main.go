package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketplace-orders/config"
	"marketplace-orders/internal/api"
	"marketplace-orders/internal/broker"
	"marketplace-orders/internal/delayq"
	"marketplace-orders/internal/redisclient"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"
	"marketplace-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("order service: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace order service")
	for _, w := range cfg.Warnings() {
		logger.Warn("Unsafe configuration", zap.String("env", cfg.Server.Env), zap.String("detail", w))
	}

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Observ.TracingEnabled)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	repo, err := openStore(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))
	eventPublisher := broker.NewEventPublisher(producer)

	var (
		recheck      service.RecheckScheduler
		recheckQueue *delayq.Queue
	)
	if cfg.RabbitMQ.URL != "" {
		recheckQueue, err = delayq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.DelayExchange, cfg.RabbitMQ.RecheckQueue)
		if err != nil {
			return err
		}
		recheck = recheckQueue
		logger.Info("Payment re-check queue ready", zap.String("queue", cfg.RabbitMQ.RecheckQueue))
	}

	opts := service.OptionsFromConfig(cfg.Business)
	ledger := service.NewStockLedger(cfg.Business.StockMax)
	svc := api.Services{
		Carts:       service.NewCartService(repo, redisClient),
		Orders:      service.NewOrderService(repo, redisClient, ledger, eventPublisher, opts),
		Payments:    service.NewPaymentService(repo, eventPublisher, recheck, opts),
		Reconciler:  service.NewReconciler(repo, ledger, eventPublisher, opts),
		Fulfillment: service.NewFulfillmentService(repo, eventPublisher, opts),
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(svc,
		api.AuthConfig{JWTSecret: cfg.Auth.JWTSecret, WebhookSecret: cfg.Auth.WebhookSecret},
		map[string]api.ReadinessCheck{"store": repo.Ping, "redis": redisClient.Ping},
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment, cfg.Kafka.ConsumerGroup)
	paymentWorker := worker.NewPaymentWorker(paymentConsumer, svc.Payments)
	g.Go(func() error {
		return paymentWorker.Start(ctx)
	})

	var recheckWorker *worker.RecheckWorker
	if recheckQueue != nil {
		recheckWorker = worker.NewRecheckWorker(recheckQueue, svc.Payments)
		g.Go(func() error {
			return recheckWorker.Start(ctx)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}

		paymentWorker.Stop()
		if recheckWorker != nil {
			recheckWorker.Stop()
		}
		return nil
	})

	err = g.Wait()

	svc.Orders.Wait()
	svc.Payments.Wait()
	svc.Reconciler.Wait()
	svc.Fulfillment.Wait()

	logger.Info("Server exited")
	return err
}

func openStore(cfg config.DatabaseConfig, logger *zap.Logger) (store.Repository, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory store, data is lost on exit")
		return store.NewMemory(), nil
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(cfg.URL); err != nil {
			return nil, err
		}
		logger.Info("Database migrations applied")
	}

	db, err := store.NewStore(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Database connected")
	return db, nil
}
