package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// SemanticHit is one chunk returned by nearest-neighbor search.
// Distance is the raw cosine distance in [0, 2]; converting it to a
// similarity score is the ranker's job.
type SemanticHit struct {
	PageID      uuid.UUID
	Slug        string
	Title       string
	ChunkIndex  int
	ChunkText   string
	HeadingPath string
	Distance    float64
}

// SemanticOpts scopes and windows a vector search. MaxDistance is the
// raw-distance cutoff derived from the caller's similarity threshold.
type SemanticOpts struct {
	WikiID      *uuid.UUID
	MaxDistance float64
	Limit       int
	Offset      int
	Probes      int
}

func (o *SemanticOpts) normalize() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Probes <= 0 {
		o.Probes = 10
	}
}

// SemanticSearch returns the nearest chunks to qvec within the distance
// cutoff, ordered by distance with (page_id, chunk_index) as the
// tiebreak so pagination windows are stable. ivfflat.probes is set
// per-query inside the transaction, never process-wide.
func (s *Store) SemanticSearch(ctx context.Context, qvec []float32, opts SemanticOpts) ([]SemanticHit, error) {
	if len(qvec) != s.dim {
		return nil, fmt.Errorf("query vector has dimension %d, store expects %d: %w",
			len(qvec), s.dim, ErrDimensionMismatch)
	}
	opts.normalize()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// SET LOCAL does not take bind parameters; Probes is an int.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", opts.Probes)); err != nil {
		return nil, fmt.Errorf("setting ivfflat probes: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT e.page_id, p.slug, p.title, e.chunk_index, e.chunk_text, e.heading_path,
		       (e.embedding <=> $1)::float8 AS distance
		FROM page_embeddings e
		JOIN pages p ON p.id = e.page_id
		WHERE ($2::uuid IS NULL OR p.wiki_id = $2)
		  AND (e.embedding <=> $1) <= $3
		ORDER BY distance, e.page_id, e.chunk_index
		LIMIT $4 OFFSET $5
	`, pgvector.NewVector(qvec), opts.WikiID, opts.MaxDistance, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	hits, err := scanSemanticHits(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing semantic search: %w", err)
	}
	return hits, nil
}

// SemanticSearchPages returns the best-matching chunk per page, ordered
// by that chunk's distance. Hybrid ranking merges these page-level
// results with keyword scores.
func (s *Store) SemanticSearchPages(ctx context.Context, qvec []float32, opts SemanticOpts) ([]SemanticHit, error) {
	if len(qvec) != s.dim {
		return nil, fmt.Errorf("query vector has dimension %d, store expects %d: %w",
			len(qvec), s.dim, ErrDimensionMismatch)
	}
	opts.normalize()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", opts.Probes)); err != nil {
		return nil, fmt.Errorf("setting ivfflat probes: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT page_id, slug, title, chunk_index, chunk_text, heading_path, distance
		FROM (
			SELECT DISTINCT ON (e.page_id)
			       e.page_id, p.slug, p.title, e.chunk_index, e.chunk_text, e.heading_path,
			       (e.embedding <=> $1)::float8 AS distance
			FROM page_embeddings e
			JOIN pages p ON p.id = e.page_id
			WHERE ($2::uuid IS NULL OR p.wiki_id = $2)
			  AND (e.embedding <=> $1) <= $3
			ORDER BY e.page_id, (e.embedding <=> $1)
		) best
		ORDER BY distance, page_id
		LIMIT $4 OFFSET $5
	`, pgvector.NewVector(qvec), opts.WikiID, opts.MaxDistance, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("semantic page search: %w", err)
	}
	hits, err := scanSemanticHits(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing semantic page search: %w", err)
	}
	return hits, nil
}

// SemanticHitCounts counts matching chunks per page within the distance
// cutoff, independent of the pagination window. The sum is the total
// chunk match count and the map size is the unique page count.
func (s *Store) SemanticHitCounts(ctx context.Context, qvec []float32, opts SemanticOpts) (map[uuid.UUID]int, error) {
	if len(qvec) != s.dim {
		return nil, fmt.Errorf("query vector has dimension %d, store expects %d: %w",
			len(qvec), s.dim, ErrDimensionMismatch)
	}
	opts.normalize()

	rows, err := s.pool.Query(ctx, `
		SELECT e.page_id, COUNT(*)
		FROM page_embeddings e
		JOIN pages p ON p.id = e.page_id
		WHERE ($2::uuid IS NULL OR p.wiki_id = $2)
		  AND (e.embedding <=> $1) <= $3
		GROUP BY e.page_id
	`, pgvector.NewVector(qvec), opts.WikiID, opts.MaxDistance)
	if err != nil {
		return nil, fmt.Errorf("counting semantic hits: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning hit count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func scanSemanticHits(rows pgx.Rows) ([]SemanticHit, error) {
	defer rows.Close()
	var out []SemanticHit
	for rows.Next() {
		var h SemanticHit
		if err := rows.Scan(&h.PageID, &h.Slug, &h.Title, &h.ChunkIndex,
			&h.ChunkText, &h.HeadingPath, &h.Distance); err != nil {
			return nil, fmt.Errorf("scanning semantic hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// KeywordHit is one page returned by lexical search. Score is
// title-weighted and normalized into (0, 1].
type KeywordHit struct {
	PageID  uuid.UUID
	Slug    string
	Title   string
	Snippet string
	Score   float64
}

// KeywordOpts scopes and windows a lexical search.
type KeywordOpts struct {
	WikiID *uuid.UUID
	Limit  int
	Offset int
}

// KeywordSearch matches pages whose title or body contains the query,
// case-insensitively. A title match scores 2, a body match 1, combined
// and divided by 3 so scores are comparable with semantic similarity.
func (s *Store) KeywordSearch(ctx context.Context, query string, opts KeywordOpts) ([]KeywordHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	pattern := "%" + escapeLike(query) + "%"

	rows, err := s.pool.Query(ctx, `
		SELECT id, slug, title, left(body, 300),
		       GREATEST(
		           (CASE WHEN title ILIKE $1 THEN 2 ELSE 0 END) +
		           (CASE WHEN body  ILIKE $1 THEN 1 ELSE 0 END),
		           1
		       )::float8 / 3.0 AS score
		FROM pages
		WHERE ($2::uuid IS NULL OR wiki_id = $2)
		  AND (title ILIKE $1 OR body ILIKE $1)
		ORDER BY score DESC, id
		LIMIT $3 OFFSET $4
	`, pattern, opts.WikiID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var out []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.PageID, &h.Slug, &h.Title, &h.Snippet, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning keyword hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// escapeLike neutralizes LIKE metacharacters in user input so a query
// containing % or _ matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
