package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/router"
)

// StatsSource supplies the admin endpoints; the CoreRouter satisfies it.
type StatsSource interface {
	Stats() router.Snapshot
}

// AdminServer exposes the gateway's health and status endpoints.
type AdminServer struct {
	logger     zerolog.Logger
	httpPort   string
	httpServer *http.Server
	mux        *http.ServeMux

	mu         sync.RWMutex
	actualAddr string
}

// NewAdminServer wires the health and status handlers onto a fresh mux.
func NewAdminServer(httpPort string, stats StatsSource, logger zerolog.Logger) *AdminServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthzHandler)
	mux.HandleFunc("/statusz", StatuszHandler(stats))

	return &AdminServer{
		logger:   logger.With().Str("component", "AdminServer").Logger(),
		httpPort: httpPort,
		mux:      mux,
		httpServer: &http.Server{
			Addr:    httpPort,
			Handler: mux,
		},
	}
}

// Start begins serving in a background goroutine. Binding to port 0 is
// supported; GetHTTPPort reports the actual port.
func (s *AdminServer) Start() error {
	listener, err := net.Listen("tcp", s.httpPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.httpPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("Admin server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Admin server failed")
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server, respecting ctx's deadline.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down admin server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during admin server shutdown.")
		return err
	}
	s.logger.Info().Msg("Admin server stopped.")
	return nil
}

// GetHTTPPort returns the port actually bound, in ":port" form.
func (s *AdminServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.httpPort
	}
	return ":" + port
}

// Mux returns the underlying ServeMux so callers can add endpoints.
func (s *AdminServer) Mux() *http.ServeMux {
	return s.mux
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// StatuszHandler serves the router's statistics snapshot as JSON. The
// optional recent query parameter caps the recent-message list.
func StatuszHandler(stats StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := stats.Stats()
		if limitStr := r.URL.Query().Get("recent"); limitStr != "" {
			if limit, err := strconv.Atoi(limitStr); err == nil && limit >= 0 && limit < len(snap.Recent) {
				snap.Recent = snap.Recent[:limit]
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
