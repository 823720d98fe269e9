// Package httpserver runs the side HTTP server exposing health, metrics and
// live bot statistics.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// HealthCheck reports an unhealthy dependency by returning an error.
type HealthCheck func(ctx context.Context) error

// StatsProvider returns a JSON-serializable snapshot of runtime state.
type StatsProvider interface {
	Snapshot(ctx context.Context) any
}

// Server is the side HTTP server.
type Server struct {
	echo      *echo.Echo
	listen    string
	log       logger.Logger
	startTime time.Time

	metrics http.Handler
	stats   StatsProvider

	mu     sync.RWMutex
	checks map[string]HealthCheck

	listener net.Listener
	done     chan struct{}
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithStats serves the provider's snapshot on /stats.
func WithStats(p StatsProvider) ServerOption {
	return func(s *Server) {
		s.stats = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// New creates a server that will listen on addr.
func New(addr string, opts ...ServerOption) *Server {
	s := &Server{
		listen:    addr,
		log:       logger.Global().Module("httpserver"),
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			s.log.Debug("http request",
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency))
			return nil
		},
	}))

	s.echo.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	if s.stats != nil {
		s.echo.GET("/stats", s.handleStats)
	}
	return s
}

// AddHealthCheck registers a named check run by /healthz.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.listener = ln
	s.echo.Listener = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logger.Error(err))
		}
	}()
	s.log.Info("http server listening", logger.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.listen
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	err := s.echo.Shutdown(ctx)
	<-s.done
	return err
}

type healthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Uptime: time.Since(s.startTime).Round(time.Second).String()}
	code := http.StatusOK
	for _, name := range names {
		s.mu.RLock()
		check := s.checks[name]
		s.mu.RUnlock()

		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	return c.JSON(code, resp)
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stats.Snapshot(c.Request().Context()))
}
