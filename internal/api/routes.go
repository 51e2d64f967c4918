package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sheetpipe-io/sheetpipe/internal/api/middleware"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedRouteParts = 2
)

// Route pairs a mux pattern with its handler.
type Route struct {
	Pattern string
	Handler http.Handler
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	public := []Route{
		{"GET /ping", http.HandlerFunc(s.handlePing)},
		{"GET /ready", http.HandlerFunc(s.handleReady)},
		{"GET /health", http.HandlerFunc(s.handleHealth)},
		{"/", http.HandlerFunc(s.handleNotFound)},
	}

	if s.deps.Gatherer != nil {
		public = append(public, Route{"GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})})
	}

	s.registerPublicRoutes(mux, public...)

	mux.HandleFunc("POST /api/v1/uploads", s.handleUpload)
	mux.HandleFunc("GET /api/v1/files/{fileId}", s.handleGetFile)
}

// registerPublicRoutes registers routes that bypass authentication. Only health and
// monitoring endpoints belong here.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Pattern, route.Handler)

		// "GET /ping" matches on r.URL.Path "/ping".
		path := route.Pattern
		if parts := strings.Fields(path); len(parts) == expectedRouteParts {
			path = parts[1]
		}

		s.public.Add(path)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Sheetpipe-Version", Version)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logWriteError(r, "ping", err)
	}
}

// handleReady reports whether the Progress Store is reachable. Kubernetes stops
// routing uploads to the pod while it answers 503.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status, body := http.StatusOK, "ready"

	if err := s.deps.States.HealthCheck(ctx); err != nil {
		s.logger.Error("Progress store health check failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		status, body = http.StatusServiceUnavailable, "progress store unavailable"
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logWriteError(r, "ready", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Sheetpipe-Version", Version)

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     Version,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals before writing headers so an encoding failure can still
// produce a problem response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logWriteError(r, r.URL.Path, err)
	}
}

func (s *Server) logWriteError(r *http.Request, what string, err error) {
	s.logger.Error("Failed to write response",
		slog.String("response", what),
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("error", err.Error()),
	)
}
