package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
)

// setupHTTPRoutes configures all HTTP handlers
func (s *Server) setupHTTPRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.HandleWebSocket)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/requisitions", s.api(s.HandleList))
	mux.HandleFunc("POST /api/requisitions", s.api(s.HandleCreate))
	mux.HandleFunc("GET /api/requisitions/{id}", s.api(s.HandleGet))
	mux.HandleFunc("PATCH /api/requisitions/{id}", s.api(s.HandlePatch))
	mux.HandleFunc("DELETE /api/requisitions/{id}", s.api(s.HandleDelete))
	mux.HandleFunc("POST /api/requisitions/{id}/working", s.api(s.HandleToggleWorking))
	mux.HandleFunc("PUT /api/requisitions/{id}/editing", s.api(s.HandleSetEditing))
	mux.HandleFunc("DELETE /api/requisitions/{id}/editing", s.api(s.HandleClearEditing))

	s.mux = mux
}

// Handler returns the HTTP handler serving every route. It starts the hub
// so the handler is usable without Start (tests mount it on httptest).
func (s *Server) Handler() http.Handler {
	s.startHub()
	return s.corsMiddleware(s.mux)
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed origins
// Uses the same origin validation as WebSocket connections (server.allowed_origins config)
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// If origin is present and allowed by config, set CORS headers
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// api wraps a REST handler with request ids, draining checks, per-host
// rate limits and access logging.
func (s *Server) api(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))

		if s.getState() != ServerStateRunning {
			writeError(w, errors.Wrap(errors.ErrUnavailable, "server is shutting down"))
			return
		}

		host := remoteHost(r)
		if !s.remoteLimiter.allow(host) {
			getMetrics().rateLimited.WithLabelValues("rest").Inc()
			writeError(w, errors.WithHint(
				errors.Wrapf(errors.ErrRateLimited, "too many requests from %s", host),
				"retry after a short pause",
			))
			return
		}

		next(w, r)

		s.logger.Debugw("REST request",
			logger.FieldRequestID, requestID,
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldRemoteAddr, host,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	}
}
