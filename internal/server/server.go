// Package server exposes the HTTP API: curriculum, progress, step and
// question completion, hands-on submissions, badges, certificates, export and
// the live progress stream.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgepath/forgepath/internal/auth"
	"github.com/forgepath/forgepath/internal/cert"
	"github.com/forgepath/forgepath/internal/content"
	"github.com/forgepath/forgepath/internal/grading"
	"github.com/forgepath/forgepath/internal/handson"
	"github.com/forgepath/forgepath/internal/platform/cache"
	"github.com/forgepath/forgepath/internal/platform/database"
	"github.com/forgepath/forgepath/internal/progress"
	"github.com/forgepath/forgepath/internal/store"
)

// Options wires the server's collaborators. DB, Cache and Renderer are
// optional; a nil Renderer disables certificate images.
type Options struct {
	Content    *content.Store
	Store      store.Store
	Memo       *progress.Memo
	Grader     *grading.Grader
	Policy     grading.Policy
	Validator  *handson.Validator
	Renderer   *cert.Renderer
	Auth       *auth.Verifier
	DB         *database.DB
	Cache      *cache.Cache
	CertIssuer string
	Now        func() time.Time
}

// Server handles the HTTP API.
type Server struct {
	content    *content.Store
	store      store.Store
	memo       *progress.Memo
	grader     *grading.Grader
	policy     grading.Policy
	validator  *handson.Validator
	renderer   *cert.Renderer
	verifier   *auth.Verifier
	db         *database.DB
	cache      *cache.Cache
	certIssuer string
	bus        *Bus
	now        func() time.Time
}

// New creates the server.
func New(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		content:    opts.Content,
		store:      opts.Store,
		memo:       opts.Memo,
		grader:     opts.Grader,
		policy:     opts.Policy,
		validator:  opts.Validator,
		renderer:   opts.Renderer,
		verifier:   opts.Auth,
		db:         opts.DB,
		cache:      opts.Cache,
		certIssuer: opts.CertIssuer,
		bus:        NewBus(),
		now:        now,
	}
}

// Routes builds the router. Health endpoints are open; everything under
// /api/v1 requires a bearer token.
func (s *Server) Routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/curriculum", s.handleCurriculum)
	api.HandleFunc("GET /api/v1/progress", s.handleProgress)
	api.HandleFunc("GET /api/v1/progress/export", s.handleExport)
	api.HandleFunc("GET /api/v1/progress/live", s.handleLive)
	api.HandleFunc("GET /api/v1/progress/{phase}", s.handlePhaseProgress)
	api.HandleFunc("POST /api/v1/topics/{topic}/steps/{order}", s.handleCompleteStep)
	api.HandleFunc("DELETE /api/v1/topics/{topic}/steps/{order}", s.handleUncompleteStep)
	api.HandleFunc("POST /api/v1/questions/{question}/attempts", s.handleAttempt)
	api.HandleFunc("POST /api/v1/phases/{phase}/requirements/{requirement}", s.handleSubmission)
	api.HandleFunc("GET /api/v1/badges", s.handleBadges)
	api.HandleFunc("GET /api/v1/certificates/{type}", s.handleCertificate)
	api.HandleFunc("POST /api/v1/certificates/{type}", s.handleIssueCertificate)
	api.HandleFunc("GET /api/v1/certificates/{type}/image", s.handleCertificateImage)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("/api/v1/", s.verifier.Middleware(api))

	return requestLogging(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "component", "database", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if s.cache != nil {
		if err := s.cache.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "component", "cache", "error", err)
			writeError(w, http.StatusServiceUnavailable, "cache unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// identity pulls the authenticated caller; the auth middleware guarantees it
// is present on /api/v1 routes.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
