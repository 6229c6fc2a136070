package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthStatus is the composed gateway health.
type HealthStatus string

const (
	StatusUp       HealthStatus = "UP"
	StatusDegraded HealthStatus = "DEGRADED"
	StatusDown     HealthStatus = "DOWN"
)

// Health is the /health response document.
type Health struct {
	Status     HealthStatus   `json:"status"`
	Components map[string]any `json:"components"`
}

// HealthFunc reports composed gateway health.
type HealthFunc func(ctx context.Context) Health

// DebugFunc returns an arbitrary JSON-encodable snapshot for a debug route.
type DebugFunc func() any

// Server exposes /metrics, /health, and debug snapshots.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer builds the metrics HTTP server. health may be nil, in which case
// /health always reports UP. Extra debug routes are mounted under /debug/.
func NewServer(addr, path string, health HealthFunc, debug map[string]DebugFunc, logger zerolog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		h := Health{Status: StatusUp, Components: map[string]any{}}
		if health != nil {
			h = health(ctx)
		}

		w.Header().Set("Content-Type", "application/json")
		if h.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})

	for route, fn := range debug {
		fn := fn
		mux.HandleFunc("/debug/"+route, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(fn())
		})
	}

	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start serves until Shutdown. Blocks; run in a goroutine or errgroup.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
