package handler

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHandler exposes the standard health service. Only the server-wide
// status ("") is reported, since no other gRPC service is registered. It
// follows the store: SERVING while it answers pings, NOT_SERVING otherwise.
type GRPCHandler struct {
	health *health.Server
	store  Pinger
	logger *zap.Logger
}

func NewGRPCHandler(store Pinger, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{
		health: health.NewServer(),
		store:  store,
		logger: logger,
	}
}

// NewGRPCServer builds a traced gRPC server with the health service registered.
func (h *GRPCHandler) NewGRPCServer() *grpc.Server {
	server := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpc_health_v1.RegisterHealthServer(server, h.health)
	return server
}

func (h *GRPCHandler) Check(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("store ping failed", zap.Error(err))
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}

	h.health.SetServingStatus("", status)
	return status
}

// Watch re-checks the store every interval until ctx is cancelled.
func (h *GRPCHandler) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		h.Check(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown flips every service to NOT_SERVING ahead of GracefulStop.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
}
