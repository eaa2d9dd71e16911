// Package admin serves the health and metrics endpoints.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatsum/internal/metrics"
)

// HostStatus reports the state of the OneBot connection.
type HostStatus interface {
	Connected() bool
}

type ServerConfig struct {
	Addr   string
	Host   HostStatus
	Logger *slog.Logger
}

type Server struct {
	addr   string
	host   HostStatus
	logger *slog.Logger
	router *gin.Engine
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:   cfg.Addr,
		host:   cfg.Host,
		logger: cfg.Logger,
		router: gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapF(metrics.Collector.Handler()))
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

type healthResponse struct {
	Status        string `json:"status"`
	HostConnected bool   `json:"host_connected"`
	InFlight      int64  `json:"in_flight"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(c *gin.Context) {
	connected := s.host != nil && s.host.Connected()
	resp := healthResponse{
		Status:        "ok",
		HostConnected: connected,
		InFlight:      metrics.InFlight.Value(),
		UptimeSeconds: int64(metrics.Collector.Uptime().Seconds()),
	}
	code := http.StatusOK
	if !connected {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("admin server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
