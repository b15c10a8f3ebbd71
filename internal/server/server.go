// Package server implements the HTTP control channel, health checks and
// metrics endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	IsHealthy() bool
	GetStatus() map[string]string
}

// Config holds ports, paths and timeouts for the HTTP servers.
type Config struct {
	ControlPort   int
	HealthPort    int
	MetricsPort   int
	LivenessPath  string
	ReadinessPath string
	MetricsPath   string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.LivenessPath == "" {
		c.LivenessPath = "/health/live"
	}
	if c.ReadinessPath == "" {
		c.ReadinessPath = "/health/ready"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Server runs the control, health and metrics HTTP servers.
type Server struct {
	servers []*http.Server
	names   []string
	logger  *slog.Logger
}

// NewServer creates the HTTP servers. A nil control handler or registry
// leaves that server out.
func NewServer(
	config Config,
	control *ControlHandler,
	healthChecker HealthChecker,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	config.setDefaults()
	s := &Server{logger: logger}

	// Health server
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET "+config.LivenessPath, LivenessHandler(healthChecker, logger))
	healthMux.HandleFunc("GET "+config.ReadinessPath, ReadinessHandler(healthChecker, logger))
	s.add("health", config.HealthPort, healthMux, config)

	// Control server
	if control != nil {
		controlMux := http.NewServeMux()
		control.Register(controlMux)
		s.add("control", config.ControlPort, controlMux, config)
	}

	// Metrics server
	if registry != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(config.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		s.add("metrics", config.MetricsPort, metricsMux, config)
	}

	return s
}

func (s *Server) add(name string, port int, handler http.Handler, config Config) {
	s.names = append(s.names, name)
	s.servers = append(s.servers, &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})
}

// Start starts every HTTP server in the background.
func (s *Server) Start() error {
	for i, srv := range s.servers {
		name := s.names[i]
		go func() {
			s.logger.Info("starting http server", "server", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("http server failed", "server", name, "error", err)
			}
		}()
	}
	return nil
}

// Shutdown gracefully shuts down every server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	errChan := make(chan error, len(s.servers))
	for _, srv := range s.servers {
		go func() {
			errChan <- srv.Shutdown(ctx)
		}()
	}

	var lastErr error
	for range s.servers {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", "error", err)
			lastErr = err
		}
	}

	return lastErr
}
