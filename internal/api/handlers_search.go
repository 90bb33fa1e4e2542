package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/wikivec/wikivec/internal/search"
)

// parseSearchOptions reads the shared query parameters. Unset optional
// parameters stay nil so the ranker applies its defaults.
func parseSearchOptions(r *http.Request) (search.Options, error) {
	var opts search.Options
	q := r.URL.Query()

	if v := q.Get("wiki_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return opts, errBadParam("wiki_id")
		}
		opts.WikiID = &id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			return opts, errBadParam("limit")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errBadParam("offset")
		}
		opts.Offset = n
	}
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, errBadParam("threshold")
		}
		opts.Threshold = &f
	}
	if v := q.Get("semantic_weight"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, errBadParam("semantic_weight")
		}
		opts.SemanticWeight = &f
	}
	return opts, nil
}

type paramError string

func (e paramError) Error() string { return "invalid " + string(e) + " parameter" }

func errBadParam(name string) error { return paramError(name) }

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		jsonError(w, "q query parameter is required", http.StatusBadRequest)
		return
	}
	opts, err := parseSearchOptions(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.searcher.Semantic(r.Context(), query, opts)
	if err != nil {
		s.log.Error("semantic search failed", "error", err)
		jsonError(w, "semantic search failed: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleKeywordSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		jsonError(w, "q query parameter is required", http.StatusBadRequest)
		return
	}
	opts, err := parseSearchOptions(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.searcher.Keyword(r.Context(), query, opts)
	if err != nil {
		s.log.Error("keyword search failed", "error", err)
		jsonError(w, "keyword search failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		jsonError(w, "q query parameter is required", http.StatusBadRequest)
		return
	}
	opts, err := parseSearchOptions(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.searcher.Hybrid(r.Context(), query, opts)
	if err != nil {
		s.log.Error("hybrid search failed", "error", err)
		jsonError(w, "hybrid search failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
