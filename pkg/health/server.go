// Package health exposes the dispatcher's liveness and circuit state over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// Target is what the health server reports on. *dispatcher.Dispatcher implements it.
type Target interface {
	Service() string
	Uptime() time.Duration
	Transports() []protocol.TransportKind
	Profile() *capability.Profile
}

// Config configures the health server
type Config struct {
	Addr string
	// Metrics serves /metrics when set
	Metrics http.Handler
	Logger  logging.Logger
}

// HeartbeatResponse is the body of GET /heartbeat
type HeartbeatResponse struct {
	Status        string                   `json:"status"`
	Service       string                   `json:"service"`
	Timestamp     time.Time                `json:"timestamp"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Transports    []protocol.TransportKind `json:"transports"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string                   `json:"status"`
	Timestamp     time.Time                `json:"timestamp"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Available     []protocol.TransportKind `json:"available"`
	Open          []protocol.TransportKind `json:"open,omitempty"`
}

// Server serves /heartbeat, /health, /circuits and /metrics
type Server struct {
	target Target
	config Config
	logger logging.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a health server for target
func NewServer(target Target, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		target: target,
		config: config,
		logger: logger.WithFields(logging.String("component", "health")),
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.HTTPMiddleware(s.logger))

	r.Get("/heartbeat", s.handleHeartbeat)
	r.Get("/health", s.handleHealth)
	r.Get("/circuits", s.handleCircuits)
	if s.config.Metrics != nil {
		r.Get("/metrics", s.config.Metrics.ServeHTTP)
	}
	return r
}

// Start listens on the configured address and serves until Stop is called
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("health server listen on %s: %w", s.config.Addr, err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = server
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("health server listening", logging.String("addr", listener.Addr().String()))
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server failed: %w", err)
	}
	return nil
}

// Addr returns the listening address once Start has bound it
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown health server: %w", err)
	}
	s.logger.Info("health server stopped")
	return nil
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HeartbeatResponse{
		Status:        "alive",
		Service:       s.target.Service(),
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: s.target.Uptime().Seconds(),
		Transports:    s.target.Transports(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.target.Profile().Snapshot()
	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: s.target.Uptime().Seconds(),
		Available:     []protocol.TransportKind{},
	}
	for _, kind := range snap.Kinds() {
		h := snap.Get(kind)
		if !h.Supported {
			continue
		}
		if h.State == capability.StateOpen {
			resp.Open = append(resp.Open, kind)
		} else {
			resp.Available = append(resp.Available, kind)
		}
	}

	status := http.StatusOK
	if !snap.Available() {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCircuits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.target.Profile().Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
