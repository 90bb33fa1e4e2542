package api

import (
	"encoding/json"
	"net/http"

	"github.com/wikivec/wikivec/internal/store"
)

func parseStatusFilter(v string) (store.PageStatus, bool) {
	switch v {
	case "", "all":
		return "", true
	case "pending", "processing", "completed", "failed":
		return store.PageStatus(v), true
	default:
		return "", false
	}
}

// handleListEmbeddings lists pages by embedding status, for finding
// pages whose embeddings are missing or stuck.
func (s *Server) handleListEmbeddings(w http.ResponseWriter, r *http.Request) {
	status, ok := parseStatusFilter(r.URL.Query().Get("status"))
	if !ok {
		jsonError(w, "invalid status filter", http.StatusBadRequest)
		return
	}

	pages, err := s.index.ListPagesByEmbeddingStatus(r.Context(), status, 200)
	if err != nil {
		s.log.Error("listing embeddings failed", "error", err)
		jsonError(w, "failed to list pages", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pages": pages,
		"count": len(pages),
	})
}

// handleBulkReindex re-enqueues every page in the requested status,
// typically to retry pages that failed or to rebuild after a model
// change.
func (s *Server) handleBulkReindex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status, ok := parseStatusFilter(req.Status)
	if !ok {
		jsonError(w, "invalid status filter", http.StatusBadRequest)
		return
	}

	pages, err := s.index.ListPagesByEmbeddingStatus(r.Context(), status, 10000)
	if err != nil {
		s.log.Error("listing pages for bulk reindex failed", "error", err)
		jsonError(w, "failed to list pages", http.StatusInternalServerError)
		return
	}

	enqueued := 0
	for _, p := range pages {
		ok, err := s.index.Enqueue(r.Context(), p.ID)
		if err != nil {
			s.log.Warn("bulk enqueue failed for page", "page_id", p.ID, "error", err)
			continue
		}
		if ok {
			enqueued++
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"matched":  len(pages),
		"enqueued": enqueued,
	})
}

// handleEmbeddingStats reports embedding client latency, the serving
// model, and index size counters.
func (s *Server) handleEmbeddingStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}

	if s.embedder != nil && s.embedder.Stats != nil {
		resp["latency"] = s.embedder.Stats.Snapshot()
		if info, err := s.embedder.Info(r.Context()); err == nil {
			resp["model"] = info.Model
			resp["dimension"] = info.Dimension
		}
	}

	if idx, err := s.index.Stats(r.Context()); err == nil {
		resp["index"] = idx
	} else {
		s.log.Error("index stats failed", "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}
