package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wikivec/wikivec/internal/store"
)

// handleReindexPage enqueues a reindex for one page. The request
// carries no content; the worker reads the page body when it runs.
func (s *Server) handleReindexPage(w http.ResponseWriter, r *http.Request) {
	pageID, err := uuid.Parse(chi.URLParam(r, "pageID"))
	if err != nil {
		jsonError(w, "invalid page id", http.StatusBadRequest)
		return
	}

	enqueued, err := s.index.Enqueue(r.Context(), pageID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "page not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("enqueue failed", "page_id", pageID, "error", err)
		jsonError(w, "failed to enqueue reindex", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"page_id":  pageID,
		"enqueued": enqueued,
	})
}

// handleEmbeddingStatus reports a page's place in the embedding
// lifecycle plus its current chunk count.
func (s *Server) handleEmbeddingStatus(w http.ResponseWriter, r *http.Request) {
	pageID, err := uuid.Parse(chi.URLParam(r, "pageID"))
	if err != nil {
		jsonError(w, "invalid page id", http.StatusBadRequest)
		return
	}

	status, err := s.index.PageEmbeddingStatus(r.Context(), pageID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "page not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("status lookup failed", "page_id", pageID, "error", err)
		jsonError(w, "failed to load embedding status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
