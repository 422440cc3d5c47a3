package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/config"
	"voicegate-server/pkg/metrics"
	"voicegate-server/pkg/session"
	"voicegate-server/pkg/version"
)

// HubStatus is the subset of the dashboard hub the server needs for
// health reporting.
type HubStatus interface {
	IsRunning() bool
	ObserverCount() int
}

// Server hosts every HTTP surface of the gateway: the telephony
// provider's call webhook and media socket, the dashboard socket, and
// operational endpoints.
type Server struct {
	config     *config.HTTPConfig
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	registry   *session.Registry
	hub        HubStatus
	startTime  time.Time
}

// NewServer creates the HTTP server and registers operational endpoints
func NewServer(logger *logrus.Logger, cfg *config.HTTPConfig, registry *session.Registry, hub HubStatus) *Server {
	server := &Server{
		config:    cfg,
		logger:    logger,
		registry:  registry,
		hub:       hub,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	mux.HandleFunc("/health", addServerHeader(server.HealthHandler))
	mux.HandleFunc("/health/live", addServerHeader(server.LivenessHandler))
	mux.HandleFunc("/health/ready", addServerHeader(server.ReadinessHandler))
	mux.HandleFunc("/status", addServerHeader(server.statusHandler))

	metrics.RegisterHandler(mux)

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// RegisterHandler adds an application handler to the server's mux
func (s *Server) RegisterHandler(path string, handler http.HandlerFunc) {
	s.mux.HandleFunc(path, handler)
	s.logger.WithField("path", path).Info("Registered HTTP handler")
}

// Handler exposes the root handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	go func() {
		s.logger.WithField("port", s.config.Port).Info("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// statusHandler reports a summary for dashboards and humans
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).Round(time.Second).String(),
		"version":      version.Version,
		"started_at":   s.startTime.Format(time.RFC3339),
		"active_calls": s.registry.Len(),
	}
	if s.hub != nil {
		status["dashboard_observers"] = s.hub.ObserverCount()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}
