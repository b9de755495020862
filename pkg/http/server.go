package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"LevPair/pkg/http/middleware"
	applogger "LevPair/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes mounts an API onto the server's router.
type Routes interface {
	RegisterRoutes(e *echo.Echo)
}

// ServerConfig is the listener and middleware setup. Zero values take defaults.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MetricsPath serves Prometheus when non-empty and also turns on request metrics.
	MetricsPath   string
	SlowThreshold time.Duration
	// CORSOrigins enables CORS for these origins; empty disables it.
	CORSOrigins []string
}

// requestMetrics lives on the default registry that MetricsPath serves.
var requestMetrics = sync.OnceValue(func() *middleware.RequestMetrics {
	return middleware.NewRequestMetrics(prometheus.DefaultRegisterer)
})

// Server is the echo instance plus its listener lifecycle.
type Server struct {
	echo *echo.Echo
	cfg  ServerConfig
	log  *applogger.Logger
	ln   net.Listener
	done chan struct{}
}

func NewServer(cfg ServerConfig, routes Routes, l *applogger.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(l), middleware.RequestLogging(l))
	if cfg.MetricsPath != "" {
		e.Use(requestMetrics().Middleware(l, cfg.SlowThreshold))
		e.GET(cfg.MetricsPath, echo.WrapHandler(promhttp.Handler()))
	}
	if len(cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
	if routes != nil {
		routes.RegisterRoutes(e)
	}
	return &Server{echo: e, cfg: cfg, log: l}
}

// Start binds the port before returning, so a taken port fails here instead of in
// the background. Port 0 picks a free one; Addr reports it.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.ln = ln
	s.echo.Listener = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.log.Info("http server listening", applogger.String("addr", ln.Addr().String()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", applogger.Error(err))
		}
	}()
	return nil
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests within ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	<-s.done
	s.log.Info("http server stopped")
	return nil
}

// Echo exposes the router for in-process tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
