package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Chunk is one embedded fragment of a page. Index is the chunk's
// position within the page, contiguous from zero.
type Chunk struct {
	PageID      uuid.UUID
	Index       int
	Text        string
	HeadingPath string
	TokenCount  int
	Embedding   []float32
}

// ReplaceChunks swaps a page's entire chunk set in one transaction:
// delete all existing rows, insert the new set, mark the page
// completed. Concurrent readers see the old complete set or the new
// complete set, never a mix. An empty slice clears the page's chunks
// and still marks it completed.
func (s *Store) ReplaceChunks(ctx context.Context, pageID uuid.UUID, chunks []Chunk) error {
	for i, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("chunk %d has dimension %d, store expects %d: %w",
				i, len(c.Embedding), s.dim, ErrDimensionMismatch)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"DELETE FROM page_embeddings WHERE page_id = $1", pageID); err != nil {
		return fmt.Errorf("deleting old chunks for page %s: %w", pageID, err)
	}

	if len(chunks) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"page_embeddings"},
			[]string{"page_id", "chunk_index", "chunk_text", "heading_path", "token_count", "embedding"},
			pgx.CopyFromSlice(len(chunks), func(i int) ([]any, error) {
				c := chunks[i]
				return []any{pageID, c.Index, c.Text, c.HeadingPath, c.TokenCount,
					pgvector.NewVector(c.Embedding)}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("inserting %d chunks for page %s: %w", len(chunks), pageID, err)
		}
	}

	ct, err := tx.Exec(ctx, `
		UPDATE pages
		SET embedding_status = 'completed', embedding_error = NULL, embedded_at = now()
		WHERE id = $1
	`, pageID)
	if err != nil {
		return fmt.Errorf("marking page %s completed: %w", pageID, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk replacement for page %s: %w", pageID, err)
	}
	return nil
}

// ChunksForPage returns a page's chunks ordered by index.
func (s *Store) ChunksForPage(ctx context.Context, pageID uuid.UUID) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT page_id, chunk_index, chunk_text, heading_path, token_count, embedding
		FROM page_embeddings
		WHERE page_id = $1
		ORDER BY chunk_index
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for page %s: %w", pageID, err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.PageID, &c.Index, &c.Text, &c.HeadingPath,
			&c.TokenCount, &vec); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		c.Embedding = vec.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunks removes all of a page's chunks, used when a page is
// deleted upstream. Deleting a page row cascades anyway; this covers
// explicit de-indexing of a page that still exists.
func (s *Store) DeleteChunks(ctx context.Context, pageID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM page_embeddings WHERE page_id = $1", pageID); err != nil {
		return fmt.Errorf("deleting chunks for page %s: %w", pageID, err)
	}
	return nil
}
