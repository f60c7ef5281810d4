package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	handlers "github.com/wekeepgrowing/semo-recurring/internal/adapter/handler/http"
	"github.com/wekeepgrowing/semo-recurring/internal/config"
	"github.com/wekeepgrowing/semo-recurring/internal/middleware/auth"
	"github.com/wekeepgrowing/semo-recurring/internal/usecase"
	"github.com/wekeepgrowing/semo-recurring/pkg/logger"
	"go.uber.org/zap"
)

type Server struct {
	config *config.Config
	logger *zap.Logger
	echo   *echo.Echo
	engine *usecase.Engine
}

func NewServer(cfg *config.Config, log *zap.Logger, engine *usecase.Engine) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewRequestValidator()

	// Middleware
	logger.WithEchoLogger(e, log)
	e.Use(middleware.RequestID())
	e.Use(logger.NewEchoRequestLogger(log))
	e.Use(middleware.Recover())

	s := &Server{
		config: cfg,
		logger: log,
		echo:   e,
		engine: engine,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	addr := s.config.Server.HTTP.Addr()
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", func(c echo.Context) error {
		status, code := "healthy", http.StatusOK
		if err := s.engine.Ready(c.Request().Context()); err != nil {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		return c.JSON(code, map[string]interface{}{
			"status":  status,
			"service": s.config.Service.Name,
			"tick":    s.engine.Now(),
		})
	})

	paymentHandler := handlers.NewPaymentHandler(s.engine, s.logger)
	methodHandler := handlers.NewMethodHandler(s.engine, s.logger)
	analyticsHandler := handlers.NewAnalyticsHandler(s.engine, s.logger)
	adminHandler := handlers.NewAdminHandler(s.engine, s.logger)

	jwtConfig := auth.JWTConfig{
		Secret:         s.config.JWT.Secret,
		Logger:         s.logger,
		SkipPaths:      []string{"/health"},
		AdminSubjects:  s.config.JWT.AdminSubjects,
		DriverSubjects: s.config.JWT.DriverSubjects,
	}

	v1 := s.echo.Group("/api/v1", auth.JWTMiddleware(jwtConfig))
	operators := auth.RequireRole(auth.RoleAdmin, auth.RoleDriver)

	// Payments
	payments := v1.Group("/payments")
	payments.POST("", paymentHandler.SchedulePayment)
	payments.GET("/due", paymentHandler.ListDuePayments)
	payments.GET("/:id", paymentHandler.GetPayment)
	payments.GET("/:id/executions", paymentHandler.ListExecutions)
	payments.GET("/:id/due", paymentHandler.IsPaymentDue)
	payments.GET("/:id/refund-eligibility", paymentHandler.IsRefundEligible)
	payments.POST("/:id/execute", paymentHandler.ExecutePayment, operators)
	payments.POST("/:id/failures", paymentHandler.ReportFailure)
	payments.POST("/:id/cancel", paymentHandler.CancelPayment)
	payments.POST("/:id/refunds", paymentHandler.RefundPayment)
	v1.GET("/refunds/:id", paymentHandler.GetRefund)

	// Payment methods of the caller
	methods := v1.Group("/methods")
	methods.POST("", methodHandler.RegisterMethod)
	methods.GET("", methodHandler.ListMethods)
	methods.POST("/:index/deposit", methodHandler.Deposit)
	methods.DELETE("/:index", methodHandler.Deactivate)

	// Analytics
	v1.GET("/analytics/subscriptions/:id", analyticsHandler.GetSubscriptionAnalytics)
	v1.GET("/analytics/payers/:payer", analyticsHandler.GetPayerStats)
	v1.GET("/analytics/global", analyticsHandler.GetGlobalStats)
	v1.GET("/history", analyticsHandler.ListHistory)
	v1.GET("/fees", analyticsHandler.CalculateFee)

	// Settings writes are checked against the engine admin
	v1.GET("/clock", adminHandler.GetClock)
	admin := v1.Group("/admin")
	admin.GET("/settings", adminHandler.GetSettings)
	admin.PUT("/settings/fee", adminHandler.SetPlatformFee)
	admin.PUT("/settings/retry", adminHandler.SetRetry)
	admin.PUT("/settings/refund-window", adminHandler.SetRefundWindow)
	admin.POST("/clock/advance", adminHandler.AdvanceClock, auth.RequireRole(auth.RoleAdmin))
}
