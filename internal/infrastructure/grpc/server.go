package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	handler "github.com/wekeepgrowing/semo-recurring/internal/adapter/handler/grpc"
	"github.com/wekeepgrowing/semo-recurring/internal/config"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"github.com/wekeepgrowing/semo-recurring/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const healthProbeInterval = 15 * time.Second

type Server struct {
	config *config.Config
	logger *zap.Logger
	server *grpc.Server
	health *handler.HealthHandler
	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config, log *zap.Logger, probe handler.ReadinessProbe) *Server {
	s := &Server{
		config: cfg,
		logger: log,
		health: handler.NewHealthHandler(probe, log),
		server: grpc.NewServer(
			grpc.ChainUnaryInterceptor(
				logger.NewGrpcUnaryServerInterceptor(log),
				apperrors.UnaryServerInterceptor(),
			),
			grpc.StreamInterceptor(logger.NewGrpcStreamServerInterceptor(log)),
		),
	}
	healthpb.RegisterHealthServer(s.server, s.health.Server())
	reflection.Register(s.server)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	addr := s.config.Server.GRPC.Addr()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info("Starting gRPC server", zap.String("address", addr))
	return s.Serve(listener)
}

// Serve serves on listener until Shutdown
func (s *Server) Serve(listener net.Listener) error {
	go s.health.Watch(s.ctx, healthProbeInterval)

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown drains in-flight calls, or stops hard once ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}
