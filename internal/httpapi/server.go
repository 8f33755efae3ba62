// Package httpapi exposes run progress, health and metrics over HTTP while
// a migration is running.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecshift/internal/logging"
	"github.com/fyrsmithlabs/vecshift/internal/migrate"
)

// ProgressSource yields the live state of the current run.
type ProgressSource interface {
	Progress() *migrate.RunReport
}

// Server serves /healthz, /metrics and /api/v1/progress.
type Server struct {
	echo     *echo.Echo
	logger   *logging.Logger
	addr     string
	progress ProgressSource
}

// NewServer creates the progress server.
func NewServer(addr string, progress ProgressSource, registry *prometheus.Registry, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, logger: logger, addr: addr, progress: progress}

	e.GET("/healthz", s.handleHealth)
	if registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	v1 := e.Group("/api/v1")
	v1.GET("/progress", s.handleProgress)

	return s
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleProgress(c echo.Context) error {
	if s.progress == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no run in progress")
	}
	return c.JSON(http.StatusOK, s.progress.Progress())
}

// Start starts the server. Blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info(ctx, "starting http server", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }
