// Package server provides the HTTP control API for the content pipeline.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stoney2759/autotube/internal/ledger"
	"github.com/stoney2759/autotube/internal/observer"
	"github.com/stoney2759/autotube/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Port      int
	MaxPerDay int
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	sched      *scheduler.Scheduler
	ledger     ledger.Ledger
	bus        *observer.Bus
	maxPerDay  int
	log        *zap.Logger
}

// New creates a new server instance wired to an already-running scheduler.
func New(cfg Config, sched *scheduler.Scheduler, lg ledger.Ledger, bus *observer.Bus, log *zap.Logger) (*Server, error) {
	if sched == nil || lg == nil || bus == nil {
		return nil, fmt.Errorf("scheduler, ledger, and bus are required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		sched:     sched,
		ledger:    lg,
		bus:       bus,
		maxPerDay: cfg.MaxPerDay,
		log:       log.Named("http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs", s.handleTriggerRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /quota", s.handleQuota)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /scheduler/pause", s.handlePause)
	mux.HandleFunc("POST /scheduler/resume", s.handleResume)
	mux.HandleFunc("GET /scheduler", s.handleSchedulerStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.withLogging(s.withCORS(mux)),
		ReadTimeout: 30 * time.Second,
		// No write timeout: /events holds its connection open.
		IdleTimeout: 60 * time.Second,
	}

	return s, nil
}

// Start begins listening for requests and blocks until the context is
// cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
