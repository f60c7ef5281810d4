package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the engine
const ServiceName = "recurring.Engine"

// ReadinessProbe reports whether the engine can serve requests
type ReadinessProbe interface {
	Ready(ctx context.Context) error
}

// HealthHandler keeps the standard gRPC health service in step with the
// engine's readiness.
type HealthHandler struct {
	server *health.Server
	probe  ReadinessProbe
	logger *zap.Logger
}

func NewHealthHandler(probe ReadinessProbe, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		server: health.NewServer(),
		probe:  probe,
		logger: logger,
	}
}

// Server returns the health service to register on a grpc.Server
func (h *HealthHandler) Server() healthpb.HealthServer {
	return h.server
}

// Check probes once and updates the serving status
func (h *HealthHandler) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.probe.Ready(ctx); err != nil {
		h.logger.Warn("Engine not ready", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	return status
}

// Watch re-probes every interval until ctx ends
func (h *HealthHandler) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING
func (h *HealthHandler) Shutdown() {
	h.server.Shutdown()
}
