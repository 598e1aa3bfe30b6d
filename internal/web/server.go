// Package web provides the HTTP status page and power API for the psu-off daemon.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/sweeney/psu-off/internal/power"
	"github.com/sweeney/psu-off/internal/status"
)

// APIKeyHeader carries the caller's key on power API requests.
const APIKeyHeader = "X-Api-Key"

// PowerControl is the part of the power controller the API drives.
type PowerControl interface {
	State() power.State
	ForcePowerOff()
}

// Options configures a Server.
type Options struct {
	Addr    string
	Tracker *status.Tracker
	Power   PowerControl

	// APIKey returns the key commands must present. An empty key allows
	// every caller. It is read per request so config reloads apply.
	APIKey func() string

	Logger *slog.Logger
}

// Server serves the status page and power API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	power      PowerControl
	apiKey     func() string
	logger     *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := opts.APIKey
	if apiKey == nil {
		apiKey = func() string { return "" }
	}
	s := &Server{
		tracker: opts.Tracker,
		power:   opts.Power,
		apiKey:  apiKey,
		logger:  logger.With("component", "web"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("GET /api/psu", s.requireKey(s.handleState))
	mux.HandleFunc("POST /api/psu", s.requireKey(s.handleCommand))

	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Warn("render status page", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{IsPoweredOn: s.power.State() == power.StateOn})
}

// requireKey rejects requests without the configured API key.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			s.logger.Warn("power api rejected", "method", r.Method, "remote", r.RemoteAddr)
			http.Error(w, "Insufficient rights", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Command {
	case CommandTurnPSUOff, CommandTurnOffPSU:
		s.logger.Info("power off requested over http", "remote", r.RemoteAddr)
		s.power.ForcePowerOff()
		w.WriteHeader(http.StatusNoContent)
	case CommandGetPSUState:
		s.handleState(w, r)
	default:
		http.Error(w, "unknown command", http.StatusBadRequest)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	want := s.apiKey()
	if want == "" {
		return true
	}
	got := r.Header.Get(APIKeyHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
