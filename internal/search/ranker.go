// Package search converts raw store hits into scored, ranked results.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/wikivec/wikivec/internal/store"
)

// Store is the slice of the index store the ranker queries.
type Store interface {
	SemanticSearch(ctx context.Context, qvec []float32, opts store.SemanticOpts) ([]store.SemanticHit, error)
	SemanticSearchPages(ctx context.Context, qvec []float32, opts store.SemanticOpts) ([]store.SemanticHit, error)
	SemanticHitCounts(ctx context.Context, qvec []float32, opts store.SemanticOpts) (map[uuid.UUID]int, error)
	KeywordSearch(ctx context.Context, query string, opts store.KeywordOpts) ([]store.KeywordHit, error)
}

// Embedder embeds a single query string.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Defaults are the tunables applied when a request does not override
// them.
type Defaults struct {
	Threshold      float64 // minimum similarity, in [0, 1]
	SemanticWeight float64 // hybrid semantic weight, in [0, 1]
	Probes         int     // ivfflat.probes per query
}

// Ranker runs the search modes over the store and scores the results.
type Ranker struct {
	store    Store
	embedder Embedder
	defaults Defaults
	log      *slog.Logger
}

func NewRanker(st Store, emb Embedder, defaults Defaults, log *slog.Logger) *Ranker {
	if defaults.Threshold <= 0 {
		defaults.Threshold = 0.5
	}
	if defaults.SemanticWeight <= 0 {
		defaults.SemanticWeight = 0.7
	}
	if defaults.Probes <= 0 {
		defaults.Probes = 10
	}
	return &Ranker{store: st, embedder: emb, defaults: defaults, log: log}
}

// DistanceToSimilarity maps a raw cosine distance in [0, 2] onto the
// similarity scale: 1.0 for identical vectors, 0.5 for orthogonal, 0.0
// for opposite. Out-of-range float noise is clamped.
func DistanceToSimilarity(d float64) float64 {
	s := 1.0 - d/2.0
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// similarityToMaxDistance inverts the similarity scale so a similarity
// threshold can be applied in SQL as a raw-distance cutoff.
func similarityToMaxDistance(sim float64) float64 {
	return 2.0 * (1.0 - sim)
}

// CombineScores blends the per-page semantic and keyword scores with
// the given semantic weight; the keyword weight is its complement.
func CombineScores(semantic, keyword, semanticWeight float64) float64 {
	return semanticWeight*semantic + (1.0-semanticWeight)*keyword
}

// Options scope and window one search request. Nil Threshold and
// SemanticWeight fall back to the ranker's defaults.
type Options struct {
	WikiID         *uuid.UUID
	Limit          int
	Offset         int
	Threshold      *float64
	SemanticWeight *float64
}

func (o *Options) normalize() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

func (o Options) threshold(d Defaults) (float64, error) {
	if o.Threshold == nil {
		return d.Threshold, nil
	}
	t := *o.Threshold
	if t < 0 || t > 1 {
		return 0, fmt.Errorf("threshold %v out of range [0, 1]", t)
	}
	return t, nil
}

func (o Options) semanticWeight(d Defaults) (float64, error) {
	if o.SemanticWeight == nil {
		return d.SemanticWeight, nil
	}
	w := *o.SemanticWeight
	if w < 0 || w > 1 {
		return 0, fmt.Errorf("semantic_weight %v out of range [0, 1]", w)
	}
	return w, nil
}

// ChunkResult is one chunk-level semantic match.
type ChunkResult struct {
	PageID      uuid.UUID `json:"page_id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	ChunkIndex  int       `json:"chunk_index"`
	ChunkText   string    `json:"chunk_text"`
	HeadingPath string    `json:"heading_path,omitempty"`
	Similarity  float64   `json:"similarity"`
	PageHits    int       `json:"page_hits"`
}

// SemanticResponse is the full semantic search payload. TotalChunks and
// UniquePages count every match above the threshold, not just the
// returned window.
type SemanticResponse struct {
	Query       string        `json:"query"`
	Results     []ChunkResult `json:"results"`
	TotalChunks int           `json:"total_chunks"`
	UniquePages int           `json:"unique_pages"`
}

// Semantic embeds the query and returns the nearest chunks above the
// similarity threshold.
func (r *Ranker) Semantic(ctx context.Context, query string, opts Options) (*SemanticResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	opts.normalize()
	threshold, err := opts.threshold(r.defaults)
	if err != nil {
		return nil, err
	}

	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	storeOpts := store.SemanticOpts{
		WikiID:      opts.WikiID,
		MaxDistance: similarityToMaxDistance(threshold),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
		Probes:      r.defaults.Probes,
	}
	hits, err := r.store.SemanticSearch(ctx, qvec, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	counts, err := r.store.SemanticHitCounts(ctx, qvec, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("counting semantic hits: %w", err)
	}

	resp := &SemanticResponse{Query: query, Results: make([]ChunkResult, 0, len(hits))}
	for _, h := range hits {
		resp.Results = append(resp.Results, ChunkResult{
			PageID:      h.PageID,
			Slug:        h.Slug,
			Title:       h.Title,
			ChunkIndex:  h.ChunkIndex,
			ChunkText:   h.ChunkText,
			HeadingPath: h.HeadingPath,
			Similarity:  DistanceToSimilarity(h.Distance),
			PageHits:    counts[h.PageID],
		})
	}
	for _, n := range counts {
		resp.TotalChunks += n
	}
	resp.UniquePages = len(counts)
	return resp, nil
}

// KeywordResult is one page-level lexical match.
type KeywordResult struct {
	PageID  uuid.UUID `json:"page_id"`
	Slug    string    `json:"slug"`
	Title   string    `json:"title"`
	Snippet string    `json:"snippet"`
	Score   float64   `json:"score"`
}

// KeywordResponse is the keyword search payload.
type KeywordResponse struct {
	Query   string          `json:"query"`
	Results []KeywordResult `json:"results"`
}

// Keyword runs title-weighted lexical search. It never touches the
// embedding service, so it keeps working when embeddings are down.
func (r *Ranker) Keyword(ctx context.Context, query string, opts Options) (*KeywordResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	opts.normalize()

	hits, err := r.store.KeywordSearch(ctx, query, store.KeywordOpts{
		WikiID: opts.WikiID,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	resp := &KeywordResponse{Query: query, Results: make([]KeywordResult, 0, len(hits))}
	for _, h := range hits {
		resp.Results = append(resp.Results, KeywordResult{
			PageID:  h.PageID,
			Slug:    h.Slug,
			Title:   h.Title,
			Snippet: h.Snippet,
			Score:   h.Score,
		})
	}
	return resp, nil
}

// HybridResult is one page with its blended score.
type HybridResult struct {
	PageID        uuid.UUID `json:"page_id"`
	Slug          string    `json:"slug"`
	Title         string    `json:"title"`
	Score         float64   `json:"score"`
	SemanticScore float64   `json:"semantic_score"`
	KeywordScore  float64   `json:"keyword_score"`
}

// HybridResponse is the hybrid search payload. Degraded is set when the
// semantic leg failed and the results are keyword-only.
type HybridResponse struct {
	Query          string         `json:"query"`
	Results        []HybridResult `json:"results"`
	SemanticWeight float64        `json:"semantic_weight"`
	KeywordWeight  float64        `json:"keyword_weight"`
	Degraded       bool           `json:"degraded,omitempty"`
}

// Hybrid merges page-level semantic and keyword results into one
// ranking: score = w*semantic + (1-w)*keyword, with a missing component
// contributing zero. Ties break on page id so pagination is stable. If
// the semantic leg fails the keyword results are returned alone with
// Degraded set; a keyword failure fails the request.
func (r *Ranker) Hybrid(ctx context.Context, query string, opts Options) (*HybridResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	opts.normalize()
	threshold, err := opts.threshold(r.defaults)
	if err != nil {
		return nil, err
	}
	weight, err := opts.semanticWeight(r.defaults)
	if err != nil {
		return nil, err
	}

	// Both legs fetch the whole window from the start so the merged
	// ordering is stable across pages.
	fetch := opts.Offset + opts.Limit
	if fetch < 20 {
		fetch = 20
	}

	merged := make(map[uuid.UUID]*HybridResult)

	kwHits, err := r.store.KeywordSearch(ctx, query, store.KeywordOpts{
		WikiID: opts.WikiID,
		Limit:  fetch,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	for _, h := range kwHits {
		merged[h.PageID] = &HybridResult{
			PageID:       h.PageID,
			Slug:         h.Slug,
			Title:        h.Title,
			KeywordScore: h.Score,
		}
	}

	degraded := false
	qvec, err := r.embedder.Embed(ctx, query)
	if err == nil {
		var semHits []store.SemanticHit
		semHits, err = r.store.SemanticSearchPages(ctx, qvec, store.SemanticOpts{
			WikiID:      opts.WikiID,
			MaxDistance: similarityToMaxDistance(threshold),
			Limit:       fetch,
			Probes:      r.defaults.Probes,
		})
		if err == nil {
			for _, h := range semHits {
				res, ok := merged[h.PageID]
				if !ok {
					res = &HybridResult{PageID: h.PageID, Slug: h.Slug, Title: h.Title}
					merged[h.PageID] = res
				}
				res.SemanticScore = DistanceToSimilarity(h.Distance)
			}
		}
	}
	if err != nil {
		// The caller asked for the blend; keyword results are still
		// useful, so degrade rather than fail.
		r.log.Warn("semantic leg failed, degrading to keyword-only", "error", err)
		degraded = true
	}

	results := make([]HybridResult, 0, len(merged))
	for _, res := range merged {
		res.Score = CombineScores(res.SemanticScore, res.KeywordScore, weight)
		results = append(results, *res)
	}
	slices.SortFunc(results, func(a, b HybridResult) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.PageID.String(), b.PageID.String())
	})

	// Window after the merge so offsets see the blended order.
	if opts.Offset >= len(results) {
		results = nil
	} else {
		end := opts.Offset + opts.Limit
		if end > len(results) {
			end = len(results)
		}
		results = results[opts.Offset:end]
	}

	return &HybridResponse{
		Query:          query,
		Results:        results,
		SemanticWeight: weight,
		KeywordWeight:  1.0 - weight,
		Degraded:       degraded,
	}, nil
}
