package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/motioncam/internal/api/middleware"
	v1 "github.com/tphakala/motioncam/internal/api/v1"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/observability"
)

// Server is the HTTP server of the control API.
type Server struct {
	echo    *echo.Echo
	config  *Config
	log     logger.Logger
	sys     v1.Surveillance
	metrics *observability.Metrics

	apiController *v1.Controller
	apiOpts       []v1.Option
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics mounts /metrics and records request metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithConfig overrides the configuration derived from settings.
func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithAPIOptions passes options to the API controller.
func WithAPIOptions(opts ...v1.Option) ServerOption {
	return func(s *Server) {
		s.apiOpts = append(s.apiOpts, opts...)
	}
}

// New creates the HTTP server for sys. It does not listen until Run.
func New(settings *conf.Settings, sys v1.Surveillance, opts ...ServerOption) (*Server, error) {
	s := &Server{
		config: ConfigFromSettings(settings),
		log:    GetLogger(),
		sys:    sys,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = s.config.Debug

	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout

	s.setupMiddleware()

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.log.Info("HTTP server initialized",
		logger.String("address", s.config.Listen),
		logger.Bool("metrics", s.metrics != nil),
		logger.Bool("debug", s.config.Debug))

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())

	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, mw.SkipPaths("/metrics", v1.BasePath+"/health")))

	security := mw.DefaultSecurityConfig()
	if len(s.config.AllowedOrigins) > 0 {
		security.AllowedOrigins = s.config.AllowedOrigins
	}
	s.echo.Use(mw.NewCORS(security))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

func (s *Server) setupRoutes() error {
	controller, err := v1.New(s.echo, s.sys, s.metrics, s.apiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize API v1: %w", err)
	}
	s.apiController = controller
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.echo.Listener = ln

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", logger.String("address", ln.Addr().String()))
		errCh <- s.startBlocking()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	err = s.Shutdown()
	if serveErr := <-errCh; err == nil {
		err = serveErr
	}
	return err
}

func (s *Server) startBlocking() error {
	if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones up to the
// shutdown timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("Error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("Server shutdown complete")
	return nil
}

// Addr returns the bound address once Run is listening.
func (s *Server) Addr() net.Addr {
	return s.echo.ListenerAddr()
}

// APIController returns the API controller.
func (s *Server) APIController() *v1.Controller {
	return s.apiController
}

// Echo returns the echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
