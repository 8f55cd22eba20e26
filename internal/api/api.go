// Package api implements the HTTP API server for revloop.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/metrics"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/review"
	"github.com/sprite-ai/revloop/internal/trend"
)

// Reviewer is the review service exposed over HTTP.
type Reviewer interface {
	ReviewContent(ctx context.Context, name string, content []byte, opts ...review.RunOption) (*review.Result, error)
	AnalyzeContent(ctx context.Context, name string, content []byte) (model.CombinedReport, error)
	History(ctx context.Context, id trend.Identity) ([]trend.Entry, string, error)
}

// Config configures the server.
type Config struct {
	Addr            string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
	// Threshold decides the passed flag of review responses.
	Threshold float64
	// AllowedOrigins for WebSocket upgrades; empty is same-origin only.
	AllowedOrigins []string
}

// Server is the revloop HTTP API server.
type Server struct {
	cfg      Config
	reviewer Reviewer
	log      *logging.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	server   *http.Server
}

// New creates a new API server.
func New(cfg Config, reviewer Reviewer, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 1 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, reviewer: reviewer, log: log.Named("api")}
	s.upgrader = newUpgrader(cfg.AllowedOrigins)
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.mux,
		ReadTimeout: 30 * time.Second,
		// Reviews wait on external oracles; WriteTimeout stays unset.
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/review", s.handleReview)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /api/history/{identity}", s.handleHistory)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "revloop API server listening", zap.String("addr", s.cfg.Addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Warn(context.Background(), "json encode error", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes a JSON request body into v.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
