package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/wikivec/wikivec/internal/store"
)

type fakeSearchStore struct {
	chunkHits  []store.SemanticHit
	pageHits   []store.SemanticHit
	hitCounts  map[uuid.UUID]int
	kwHits     []store.KeywordHit
	semErr     error
	kwErr      error
	lastOpts   store.SemanticOpts
	lastKwOpts store.KeywordOpts
}

func (f *fakeSearchStore) SemanticSearch(ctx context.Context, qvec []float32, opts store.SemanticOpts) ([]store.SemanticHit, error) {
	f.lastOpts = opts
	return f.chunkHits, f.semErr
}

func (f *fakeSearchStore) SemanticSearchPages(ctx context.Context, qvec []float32, opts store.SemanticOpts) ([]store.SemanticHit, error) {
	f.lastOpts = opts
	return f.pageHits, f.semErr
}

func (f *fakeSearchStore) SemanticHitCounts(ctx context.Context, qvec []float32, opts store.SemanticOpts) (map[uuid.UUID]int, error) {
	return f.hitCounts, f.semErr
}

func (f *fakeSearchStore) KeywordSearch(ctx context.Context, query string, opts store.KeywordOpts) ([]store.KeywordHit, error) {
	f.lastKwOpts = opts
	return f.kwHits, f.kwErr
}

type fakeQueryEmbedder struct {
	vec []float32
	err error
}

func (f *fakeQueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func newTestRanker(st Store, emb Embedder) *Ranker {
	return NewRanker(st, emb, Defaults{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDistanceToSimilarityFixedPoints(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0.0, 1.0}, // identical
		{1.0, 0.5}, // orthogonal
		{2.0, 0.0}, // opposite
		{0.5, 0.75},
		{-0.0001, 1.0}, // float noise clamps
		{2.0001, 0.0},
	}
	for _, tt := range tests {
		if got := DistanceToSimilarity(tt.distance); !almostEqual(got, tt.want) {
			t.Errorf("DistanceToSimilarity(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestCombineScores(t *testing.T) {
	// Page B at similarity 0.9 with no keyword match, weight 0.3:
	// 0.3*0.9 = 0.27.
	if got := CombineScores(0.9, 0, 0.3); !almostEqual(got, 0.27) {
		t.Errorf("CombineScores(0.9, 0, 0.3) = %v, want 0.27", got)
	}
	if got := CombineScores(0.8, 0.5, 0.7); !almostEqual(got, 0.71) {
		t.Errorf("CombineScores(0.8, 0.5, 0.7) = %v, want 0.71", got)
	}
	if got := CombineScores(0, 1.0, 0.7); !almostEqual(got, 0.3) {
		t.Errorf("CombineScores(0, 1.0, 0.7) = %v, want 0.3", got)
	}
}

func TestSemanticConvertsDistancesAndCounts(t *testing.T) {
	pageA, pageB := uuid.New(), uuid.New()
	st := &fakeSearchStore{
		chunkHits: []store.SemanticHit{
			{PageID: pageA, Slug: "a", Title: "A", ChunkIndex: 0, Distance: 0.2},
			{PageID: pageB, Slug: "b", Title: "B", ChunkIndex: 3, Distance: 0.6},
		},
		hitCounts: map[uuid.UUID]int{pageA: 3, pageB: 1},
	}
	r := newTestRanker(st, &fakeQueryEmbedder{vec: []float32{1, 0}})

	resp, err := r.Semantic(context.Background(), "query", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if !almostEqual(resp.Results[0].Similarity, 0.9) {
		t.Errorf("expected similarity 0.9, got %v", resp.Results[0].Similarity)
	}
	if !almostEqual(resp.Results[1].Similarity, 0.7) {
		t.Errorf("expected similarity 0.7, got %v", resp.Results[1].Similarity)
	}
	if resp.Results[0].PageHits != 3 {
		t.Errorf("expected 3 page hits for page A, got %d", resp.Results[0].PageHits)
	}
	if resp.TotalChunks != 4 || resp.UniquePages != 2 {
		t.Errorf("expected totals 4/2, got %d/%d", resp.TotalChunks, resp.UniquePages)
	}
}

func TestSemanticThresholdBecomesDistanceCutoff(t *testing.T) {
	st := &fakeSearchStore{}
	r := newTestRanker(st, &fakeQueryEmbedder{vec: []float32{1}})

	threshold := 0.75
	_, err := r.Semantic(context.Background(), "q", Options{Threshold: &threshold})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// similarity 0.75 corresponds to distance 0.5
	if !almostEqual(st.lastOpts.MaxDistance, 0.5) {
		t.Errorf("expected max distance 0.5, got %v", st.lastOpts.MaxDistance)
	}
}

func TestSemanticRejectsBadThreshold(t *testing.T) {
	r := newTestRanker(&fakeSearchStore{}, &fakeQueryEmbedder{vec: []float32{1}})
	bad := 1.5
	if _, err := r.Semantic(context.Background(), "q", Options{Threshold: &bad}); err == nil {
		t.Error("expected error for threshold > 1")
	}
	neg := -0.1
	if _, err := r.Semantic(context.Background(), "q", Options{Threshold: &neg}); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestSemanticEmptyQueryRejected(t *testing.T) {
	r := newTestRanker(&fakeSearchStore{}, &fakeQueryEmbedder{vec: []float32{1}})
	if _, err := r.Semantic(context.Background(), "   ", Options{}); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestHybridBlendsScores(t *testing.T) {
	pageA, pageB := uuid.New(), uuid.New()
	st := &fakeSearchStore{
		kwHits: []store.KeywordHit{
			{PageID: pageA, Slug: "a", Title: "A", Score: 1.0},
		},
		pageHits: []store.SemanticHit{
			{PageID: pageA, Slug: "a", Title: "A", Distance: 0.4}, // similarity 0.8
			{PageID: pageB, Slug: "b", Title: "B", Distance: 0.2}, // similarity 0.9
		},
	}
	r := newTestRanker(st, &fakeQueryEmbedder{vec: []float32{1}})

	weight := 0.3
	resp, err := r.Hybrid(context.Background(), "q", Options{SemanticWeight: &weight})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Degraded {
		t.Fatal("unexpected degradation")
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	// A: 0.3*0.8 + 0.7*1.0 = 0.94; B: 0.3*0.9 = 0.27.
	if resp.Results[0].PageID != pageA || !almostEqual(resp.Results[0].Score, 0.94) {
		t.Errorf("expected page A at 0.94, got %v at %v", resp.Results[0].PageID, resp.Results[0].Score)
	}
	if resp.Results[1].PageID != pageB || !almostEqual(resp.Results[1].Score, 0.27) {
		t.Errorf("expected page B at 0.27, got %v at %v", resp.Results[1].PageID, resp.Results[1].Score)
	}
	if !almostEqual(resp.KeywordWeight, 0.7) {
		t.Errorf("expected keyword weight 0.7, got %v", resp.KeywordWeight)
	}
}

func TestHybridTieBreaksOnPageID(t *testing.T) {
	id1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	id2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	st := &fakeSearchStore{
		kwHits: []store.KeywordHit{
			{PageID: id2, Score: 0.5},
			{PageID: id1, Score: 0.5},
		},
	}
	r := newTestRanker(st, &fakeQueryEmbedder{vec: []float32{1}})

	resp, err := r.Hybrid(context.Background(), "q", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Results[0].PageID != id1 || resp.Results[1].PageID != id2 {
		t.Errorf("equal scores must order by page id ascending, got %v then %v",
			resp.Results[0].PageID, resp.Results[1].PageID)
	}
}

func TestHybridDegradesWhenSemanticLegFails(t *testing.T) {
	pageA := uuid.New()
	st := &fakeSearchStore{
		kwHits: []store.KeywordHit{{PageID: pageA, Slug: "a", Title: "A", Score: 1.0}},
	}
	r := newTestRanker(st, &fakeQueryEmbedder{err: errors.New("embedding service down")})

	resp, err := r.Hybrid(context.Background(), "q", Options{})
	if err != nil {
		t.Fatalf("hybrid should degrade, not fail: %v", err)
	}
	if !resp.Degraded {
		t.Error("expected Degraded to be set")
	}
	if len(resp.Results) != 1 || resp.Results[0].PageID != pageA {
		t.Fatalf("expected the keyword result to survive, got %v", resp.Results)
	}
	// Keyword-only score under default weight 0.7: 0.3*1.0.
	if !almostEqual(resp.Results[0].Score, 0.3) {
		t.Errorf("expected score 0.3, got %v", resp.Results[0].Score)
	}
}

func TestHybridKeywordFailureFails(t *testing.T) {
	st := &fakeSearchStore{kwErr: errors.New("database down")}
	r := newTestRanker(st, &fakeQueryEmbedder{vec: []float32{1}})

	if _, err := r.Hybrid(context.Background(), "q", Options{}); err == nil {
		t.Error("keyword failure must fail the request")
	}
}

func TestHybridPaginationWindows(t *testing.T) {
	var hits []store.KeywordHit
	for i := 0; i < 5; i++ {
		hits = append(hits, store.KeywordHit{
			PageID: uuid.MustParse(
				"00000000-0000-0000-0000-00000000000" + string(rune('1'+i))),
			Score: 1.0 - float64(i)*0.1,
		})
	}
	st := &fakeSearchStore{kwHits: hits}
	r := newTestRanker(st, &fakeQueryEmbedder{vec: []float32{1}})

	first, err := r.Hybrid(context.Background(), "q", Options{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Hybrid(context.Background(), "q", Options{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.Results) != 2 || len(second.Results) != 2 {
		t.Fatalf("expected 2+2 results, got %d and %d", len(first.Results), len(second.Results))
	}
	if first.Results[1].PageID == second.Results[0].PageID {
		t.Error("windows must not overlap")
	}

	past, err := r.Hybrid(context.Background(), "q", Options{Limit: 2, Offset: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(past.Results) != 0 {
		t.Errorf("offset past the end should return empty, got %d", len(past.Results))
	}
}

func TestKeywordPassesThrough(t *testing.T) {
	pageA := uuid.New()
	st := &fakeSearchStore{
		kwHits: []store.KeywordHit{{PageID: pageA, Slug: "a", Title: "A", Snippet: "text", Score: 2.0 / 3.0}},
	}
	r := newTestRanker(st, &fakeQueryEmbedder{vec: []float32{1}})

	resp, err := r.Keyword(context.Background(), "install", Options{Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 1 || !almostEqual(resp.Results[0].Score, 2.0/3.0) {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
	if st.lastKwOpts.Limit != 5 {
		t.Errorf("limit not passed through, got %d", st.lastKwOpts.Limit)
	}
}
