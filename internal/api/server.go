// Package api is the HTTP surface: reindex triggers, search, and the
// operator endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/wikivec/wikivec/internal/config"
	"github.com/wikivec/wikivec/internal/embedding"
	"github.com/wikivec/wikivec/internal/search"
	"github.com/wikivec/wikivec/internal/store"
)

// Index is the slice of the store the API needs.
type Index interface {
	Enqueue(ctx context.Context, pageID uuid.UUID) (bool, error)
	PageEmbeddingStatus(ctx context.Context, pageID uuid.UUID) (*store.EmbeddingStatus, error)
	ListPagesByEmbeddingStatus(ctx context.Context, status store.PageStatus, limit int) ([]store.PageSummary, error)
	Stats(ctx context.Context) (*store.IndexStats, error)
	Ping(ctx context.Context) error
}

// Searcher runs the three search modes.
type Searcher interface {
	Semantic(ctx context.Context, query string, opts search.Options) (*search.SemanticResponse, error)
	Keyword(ctx context.Context, query string, opts search.Options) (*search.KeywordResponse, error)
	Hybrid(ctx context.Context, query string, opts search.Options) (*search.HybridResponse, error)
}

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	index    Index
	searcher Searcher
	embedder *embedding.Client
	log      *slog.Logger
	cfg      config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(index Index, searcher Searcher, embedder *embedding.Client, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		index:    index,
		searcher: searcher,
		embedder: embedder,
		log:      log,
		cfg:      cfg,
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

		r.Post("/api/pages/{pageID}/reindex", s.handleReindexPage)
		r.Get("/api/pages/{pageID}/embeddings/status", s.handleEmbeddingStatus)

		r.Get("/api/search/semantic", s.handleSemanticSearch)
		r.Get("/api/search/keyword", s.handleKeywordSearch)
		r.Get("/api/search/hybrid", s.handleHybridSearch)

		r.Get("/api/admin/embeddings", s.handleListEmbeddings)
		r.Post("/api/admin/embeddings/reindex", s.handleBulkReindex)
		r.Get("/api/stats/embedding", s.handleEmbeddingStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.index != nil {
		if err := s.index.Ping(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
		}
	}
	if s.embedder != nil {
		if err := s.embedder.Health(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["embedding_service"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
