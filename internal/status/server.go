// Package status exposes the watcher's local observability surface: health,
// relay and pipeline state, and a live notification stream over SSE.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/groblegark/bullhorn/internal/relay"
)

// Snapshot is the answer to GET /v1/status.
type Snapshot struct {
	StartedAt time.Time              `json:"started_at"`
	Relays    []relay.EndpointStatus `json:"relays"`
	Counters  map[string]uint64      `json:"counters"`
}

// Server is the embedded HTTP status server. It is read-only and listens on
// localhost by default.
type Server struct {
	source    func() Snapshot
	hub       *hub
	logger    *slog.Logger
	startedAt time.Time

	http *http.Server
}

// New builds a status server over a snapshot source. The source is called on
// every /v1/status request.
func New(addr string, source func() Snapshot, logger *slog.Logger) *Server {
	s := &Server{
		source:    source,
		hub:       newHub(),
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/notifications/stream", s.handleNotificationStream)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Broadcast publishes a JSON-marshalable payload to every connected SSE
// client. Safe to call from any goroutine.
func (s *Server) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("marshaling stream payload", "error", err)
		return
	}
	s.hub.broadcast(data)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", "error", err)
		}
	}()
	s.logger.Info("status server listening", "addr", s.http.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.source()
	snap.StartedAt = s.startedAt
	writeJSON(w, http.StatusOK, snap)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
