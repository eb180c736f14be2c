package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/adapter/broker"
	"github.com/rl1809/inventory-ledger/internal/adapter/handler"
	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/config"
	"github.com/rl1809/inventory-ledger/internal/core/service"
	"github.com/rl1809/inventory-ledger/internal/platform/observability"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const healthCheckInterval = 10 * time.Second

func main() {
	envFile := flag.String("env-file", ".env", "optional env file loaded before the process environment")
	httpAddr := flag.String("http-addr", "", "HTTP listen address, overrides HTTP_ADDR")
	grpcAddr := flag.String("grpc-addr", "", "gRPC listen address, overrides GRPC_ADDR")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = *grpcAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, shutdownTelemetry, err := observability.Setup(ctx, observability.Settings{
		ServiceName:    config.ServiceName,
		ServiceVersion: config.ServiceVersion,
		Endpoint:       cfg.OtelEndpoint,
		AuthHeader:     cfg.OtelAuthHeader,
	})
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}

	logger := observability.NewLogger(config.ServiceName, cfg.Production())
	defer logger.Sync()

	// Initialize ledger store
	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN, storage.Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxOpenConns / 2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}
	logger.Info("connected to store", zap.String("driver", cfg.DBDriver))

	// Initialize Redis for the delivery guard and, optionally, the stream broker
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	var guard port.DeliveryGuard
	if err := rdb.Ping(ctx).Err(); err != nil {
		if cfg.Broker == config.BrokerRedis {
			logger.Fatal("failed to connect redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		logger.Warn("redis unavailable, running without delivery guard; consumers must dedupe on event_id",
			zap.String("broker", cfg.Broker), zap.Error(err))
	} else {
		guard = storage.NewRedisGuard(rdb, cfg.DeliveryDedupTTL)
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	publisher, err := newPublisher(cfg, rdb, tp)
	if err != nil {
		logger.Fatal("failed to create publisher", zap.String("broker", cfg.Broker), zap.Error(err))
	}

	// Initialize services
	ledger := service.NewLedgerService(store, service.LedgerConfig{
		DefaultThreshold: cfg.LowStockDefaultThreshold,
		Retry: service.RetryConfig{
			MaxAttempts:    cfg.LedgerMaxAttempts,
			AttemptTimeout: cfg.LedgerOpTimeout,
		},
	}, logger.Named("ledger"), tp.Tracer("ledger"))

	validation := service.NewValidationService(ledger, store, logger.Named("validation"), tp.Tracer("validation"))

	dispatcher := service.NewOutboxDispatcher(store, publisher, guard, service.DispatcherConfig{
		PollInterval:  cfg.OutboxPollInterval,
		BatchSize:     cfg.OutboxBatchSize,
		RetryBackoff:  cfg.OutboxRetryBackoff,
		RetryMaxDelay: cfg.OutboxRetryMaxDelay,
	}, logger.Named("outbox"), tp.Tracer("outbox"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	// Initialize gRPC health server
	grpcHandler := handler.NewGRPCHandler(store, logger.Named("grpc"))
	grpcServer := grpcHandler.NewGRPCServer()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		grpcHandler.Watch(ctx, healthCheckInterval)
	}()

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	httpHandler := handler.NewHTTPHandler(ledger, validation, dispatcher, store, handler.ServiceInfo{
		Name:    config.ServiceName,
		Version: config.ServiceVersion,
	}, logger.Named("http"))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsHandler.Handler(httpHandler.Router()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcHandler.Shutdown()
	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Stop the dispatcher between passes; undelivered records stay in the outbox
	cancel()
	wg.Wait()
	logger.Info("outbox dispatcher stopped")

	if err := publisher.Close(); err != nil {
		logger.Warn("publisher close", zap.Error(err))
	}
	rdb.Close()
	store.Close()
	logger.Info("connections closed")

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
}

func newPublisher(cfg *config.Config, rdb *redis.Client, tp trace.TracerProvider) (port.EventPublisher, error) {
	switch cfg.Broker {
	case config.BrokerKafka:
		producer, err := broker.NewKafkaProducer(broker.KafkaConfig{
			Brokers:  cfg.KafkaBrokers,
			ClientID: config.ServiceName,
		}, tp)
		if err != nil {
			return nil, err
		}
		return broker.NewKafkaPublisher(producer), nil
	default:
		return broker.NewRedisStreamPublisher(rdb, cfg.DeliveryDedupTTL), nil
	}
}
