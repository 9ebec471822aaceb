// Package server exposes the registrar over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/release-registry/pkg/api"
	"github.com/Mindburn-Labs/release-registry/pkg/auth"
	"github.com/Mindburn-Labs/release-registry/pkg/registrar"
)

const (
	defaultMaxUploadBytes = 512 << 20
	// multipartMemory is how much of an upload is buffered in memory before
	// spilling to temporary files.
	multipartMemory = 32 << 20
	retryAfter      = 5 * time.Second
)

type Options struct {
	Registrar *registrar.Registrar
	// Validator authenticates bearer tokens; nil rejects every protected request.
	Validator      *auth.JWTValidator
	CORSOrigins    []string
	RateLimiter    *api.RateLimiter
	MaxUploadBytes int64
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

type Server struct {
	reg       *registrar.Registrar
	opts      Options
	maxUpload int64
	logger    *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Server{
		reg:       opts.Registrar,
		opts:      opts,
		maxUpload: maxUpload,
		logger:    logger.With("component", "http"),
	}
}

// Routes returns the bare registry mux without middleware.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)

	const release = "/api/v1/packages/{packageId}/versions/{version}"
	mux.HandleFunc("POST "+release, s.handlePublish)
	mux.HandleFunc("GET "+release, s.handleGetRelease)
	mux.HandleFunc("GET "+release+"/file", s.handleDownload)
	mux.HandleFunc("POST "+release+"/validate", s.handleValidate)
	mux.HandleFunc("PUT "+release+"/discontinue", s.handleDiscontinue)

	const pkg = "/api/v1/packages/{packageId}"
	mux.HandleFunc("GET "+pkg+"/versions", s.handleListReleases)
	mux.HandleFunc("DELETE "+pkg, s.handleDiscontinuePackage)
	mux.HandleFunc("POST "+pkg+"/sweep", s.handleSweep)
	mux.HandleFunc("GET "+pkg+"/comments", s.handleListComments)
	mux.HandleFunc("POST "+pkg+"/comments", s.handleAddComment)
	mux.HandleFunc("POST "+pkg+"/subscriptions", s.handleSubscribe)
	mux.HandleFunc("DELETE "+pkg+"/subscriptions", s.handleUnsubscribe)
	return mux
}

// Handler returns the full middleware chain:
// request ID, CORS, rate limit, authentication, then routing.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Routes()
	h = auth.NewMiddleware(s.opts.Validator)(h)
	if s.opts.RateLimiter != nil {
		h = s.opts.RateLimiter.Middleware(h)
	}
	h = auth.CORSMiddleware(s.opts.CORSOrigins)(h)
	h = s.accessLog(h)
	return auth.RequestIDMiddleware(h)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.WarnContext(ctx, "readiness check failed", "error", err)
			api.Unavailable(w, r, "", "backing store unavailable", retryAfter)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", auth.GetRequestID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
