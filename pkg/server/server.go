// Package server exposes the client over a local HTTP API: model rendering,
// refresh triggering, OTP setup, ticket creation and reading submission.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"

	"github.com/alryaz/hass-pik-comfort/pkg/log"
	"github.com/alryaz/hass-pik-comfort/pkg/pik"
	"github.com/alryaz/hass-pik-comfort/pkg/refresh"
	"github.com/alryaz/hass-pik-comfort/pkg/types"
)

// Server handles the local HTTP API. It orchestrates interactions between
// the session registry and the refresh coordinator.
type Server struct {
	registry    *pik.Registry
	coordinator *refresh.Coordinator

	listenAddr string
	httpServer *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(r *pik.Registry, c *refresh.Coordinator) *Server {
	srv := &Server{
		registry:    r,
		coordinator: c,
	}

	listenAddr := lflag.String("http-listen", "127.0.0.1:8080", "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/otp/request", s.handleOTPRequest)
	mux.HandleFunc("POST /api/auth/otp/verify", s.handleOTPVerify)
	mux.HandleFunc("GET /api/classifiers", s.handleListClassifiers)
	mux.HandleFunc("GET /api/classifiers/{id}/path", s.handleClassifierPath)
	mux.HandleFunc("POST /api/tickets", s.handleCreateTicket)
	mux.HandleFunc("POST /api/meters/{id}/readings", s.handleSubmitReadings)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return gziphandler.GzipHandler(mux)
}

// session resolves the session a request addresses: the phone named in the
// request body when given, the configured default otherwise.
func (s *Server) session(phone string) (*pik.Session, error) {
	if phone == "" {
		phone = s.registry.DefaultPhone()
	}
	if phone == "" {
		return nil, fmt.Errorf("no phone given and no default configured")
	}
	return s.registry.Session(phone), nil
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs. It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// errorStatus maps client errors onto HTTP statuses: local state defects are
// the caller's to fix (400/401), upstream rejections and transport failures
// are gateway errors, integrity violations are ours.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, pik.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, pik.ErrClassifierNotFound), errors.Is(err, pik.ErrClassifierNotLeaf):
		return http.StatusBadRequest
	}
	var ie *types.IntegrityError
	if errors.As(err, &ie) {
		return http.StatusInternalServerError
	}
	var re *pik.RequestError
	if errors.As(err, &re) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= 500 {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeJSONError(w, err.Error(), status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, struct {
		Refreshed bool `json:"refreshed"`
	}{Refreshed: true})
}
