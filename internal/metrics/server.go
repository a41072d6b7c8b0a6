// internal/metrics/server.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
)

// HealthFunc reports the current connection health.
type HealthFunc func() node.ConnectionHealth

// Server exposes /metrics and /healthz.
type Server struct {
	e      *echo.Echo
	addr   string
	logger *zap.Logger
}

// NewServer builds the HTTP server. health may be nil.
func NewServer(addr string, collector *Collector, health HealthFunc, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.Server.ReadTimeout = 15 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error {
		if health == nil {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}
		h := health()
		status := http.StatusOK
		if !h.Connected {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, h)
	})

	return &Server{e: e, addr: addr, logger: logger.Named("metrics")}
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Metrics server listening", zap.String("addr", s.addr))
	if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server within 5 seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.e.Shutdown(ctx)
}
