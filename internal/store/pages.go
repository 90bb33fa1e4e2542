package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PageStatus tracks a page's position in the embedding lifecycle.
type PageStatus string

const (
	StatusPending    PageStatus = "pending"
	StatusProcessing PageStatus = "processing"
	StatusCompleted  PageStatus = "completed"
	StatusFailed     PageStatus = "failed"
)

// Page is the page row as the indexing pipeline sees it. Page CRUD is
// owned by the wiki application; this module reads bodies and writes
// the embedding_* columns only.
type Page struct {
	ID              uuid.UUID
	WikiID          uuid.UUID
	Slug            string
	Title           string
	Body            string
	EmbeddingStatus PageStatus
	EmbeddingError  *string
	EmbeddedAt      *time.Time
	UpdatedAt       time.Time
}

// PageForIndexing loads the current content of a page. Workers call
// this at execution time, not enqueue time, so a coalesced job always
// indexes the latest revision.
func (s *Store) PageForIndexing(ctx context.Context, pageID uuid.UUID) (*Page, error) {
	var p Page
	err := s.pool.QueryRow(ctx, `
		SELECT id, wiki_id, slug, title, body, embedding_status,
		       embedding_error, embedded_at, updated_at
		FROM pages
		WHERE id = $1
	`, pageID).Scan(&p.ID, &p.WikiID, &p.Slug, &p.Title, &p.Body,
		&p.EmbeddingStatus, &p.EmbeddingError, &p.EmbeddedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading page %s: %w", pageID, err)
	}
	return &p, nil
}

// SetPageStatus transitions a page's embedding status. The reason is
// recorded for failed, cleared otherwise. Completed stamps embedded_at.
func (s *Store) SetPageStatus(ctx context.Context, pageID uuid.UUID, status PageStatus, reason string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE pages
		SET embedding_status = $2,
		    embedding_error  = CASE WHEN $2 = 'failed' THEN $3 ELSE NULL END,
		    embedded_at      = CASE WHEN $2 = 'completed' THEN now() ELSE embedded_at END
		WHERE id = $1
	`, pageID, string(status), reason)
	if err != nil {
		return fmt.Errorf("setting page %s status to %s: %w", pageID, status, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EmbeddingStatus is the operator-facing status projection of a page.
type EmbeddingStatus struct {
	PageID     uuid.UUID  `json:"page_id"`
	Status     PageStatus `json:"status"`
	Error      *string    `json:"error,omitempty"`
	EmbeddedAt *time.Time `json:"embedded_at,omitempty"`
	ChunkCount int        `json:"chunk_count"`
}

// PageEmbeddingStatus returns the embedding status of a single page,
// including how many chunks are currently indexed for it.
func (s *Store) PageEmbeddingStatus(ctx context.Context, pageID uuid.UUID) (*EmbeddingStatus, error) {
	var st EmbeddingStatus
	err := s.pool.QueryRow(ctx, `
		SELECT p.id, p.embedding_status, p.embedding_error, p.embedded_at,
		       (SELECT COUNT(*) FROM page_embeddings e WHERE e.page_id = p.id)
		FROM pages p
		WHERE p.id = $1
	`, pageID).Scan(&st.PageID, &st.Status, &st.Error, &st.EmbeddedAt, &st.ChunkCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading embedding status for page %s: %w", pageID, err)
	}
	return &st, nil
}

// PageSummary is a row in the admin embedding listing.
type PageSummary struct {
	ID              uuid.UUID  `json:"id"`
	WikiID          uuid.UUID  `json:"wiki_id"`
	Slug            string     `json:"slug"`
	Title           string     `json:"title"`
	EmbeddingStatus PageStatus `json:"embedding_status"`
	EmbeddingError  *string    `json:"embedding_error,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ListPagesByEmbeddingStatus lists pages in the given status, most
// recently updated first. An empty status lists all pages.
func (s *Store) ListPagesByEmbeddingStatus(ctx context.Context, status PageStatus, limit int) ([]PageSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, wiki_id, slug, title, embedding_status, embedding_error, updated_at
		FROM pages
		WHERE ($1 = '' OR embedding_status = $1)
		ORDER BY updated_at DESC, id
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing pages by status %q: %w", status, err)
	}
	defer rows.Close()

	var out []PageSummary
	for rows.Next() {
		var p PageSummary
		if err := rows.Scan(&p.ID, &p.WikiID, &p.Slug, &p.Title,
			&p.EmbeddingStatus, &p.EmbeddingError, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning page row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IndexStats summarizes the state of the embedding index.
type IndexStats struct {
	TotalPages    int            `json:"total_pages"`
	PagesByStatus map[string]int `json:"pages_by_status"`
	TotalChunks   int            `json:"total_chunks"`
}

// Stats reports page counts by embedding status and the total number of
// indexed chunks.
func (s *Store) Stats(ctx context.Context) (*IndexStats, error) {
	st := &IndexStats{PagesByStatus: make(map[string]int)}

	rows, err := s.pool.Query(ctx, `
		SELECT embedding_status, COUNT(*) FROM pages GROUP BY embedding_status
	`)
	if err != nil {
		return nil, fmt.Errorf("counting pages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning page count: %w", err)
		}
		st.PagesByStatus[status] = n
		st.TotalPages += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM page_embeddings").Scan(&st.TotalChunks); err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	return st, nil
}
