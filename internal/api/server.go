package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docweave/internal/cache"
	"github.com/dgallion1/docweave/internal/chunker"
	"github.com/dgallion1/docweave/internal/config"
	"github.com/dgallion1/docweave/internal/pipeline"
	"github.com/dgallion1/docweave/internal/vlm"
)

// Server is the HTTP API server for docweave.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	vlmStats     *vlm.Stats
	cache        *cache.Cache
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. vlmStats and c may be
// nil when no model or cache is configured.
func NewServer(orch *pipeline.Orchestrator, vlmStats *vlm.Stats, c *cache.Cache, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		vlmStats:     vlmStats,
		cache:        c,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/v1/convert", s.handleConvert)
		r.Post("/v1/convert/async", s.handleConvertAsync)
		r.Get("/v1/jobs/{jobID}", s.handleJob)
		r.Post("/v1/chunk", s.handleChunk)
		r.Post("/v1/detect", s.handleDetect)
		r.Get("/v1/formats", s.handleFormats)
		r.Get("/v1/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) chunker(r *http.Request) *chunker.Chunker {
	cfg := s.cfg.ChunkerConfig()
	q := r.Form
	if n := formInt(q.Get("max_tokens")); n > 0 {
		cfg.MaxTokens = n
	}
	if v, ok := formBool(q.Get("merge_list_items")); ok {
		cfg.MergeListItems = v
	}
	if v, ok := formBool(q.Get("split_oversized")); ok {
		cfg.SplitOversized = v
	}
	return chunker.New(cfg)
}
