package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wikivec/wikivec/internal/chunker"
	"github.com/wikivec/wikivec/internal/embedding"
	"github.com/wikivec/wikivec/internal/store"
)

// Store is the slice of the index store a worker needs.
type Store interface {
	PageForIndexing(ctx context.Context, pageID uuid.UUID) (*store.Page, error)
	SetPageStatus(ctx context.Context, pageID uuid.UUID, status store.PageStatus, reason string) error
	ReplaceChunks(ctx context.Context, pageID uuid.UUID, chunks []store.Chunk) error
	ClaimJob(ctx context.Context, workerID string, lease time.Duration, maxAttempts int) (*store.Job, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID) error
	FailJob(ctx context.Context, jobID uuid.UUID, reason string, retry bool, maxAttempts int) (bool, error)
	ReapExpired(ctx context.Context, maxAttempts int) (int, error)
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Worker processes one claimed reindex job at a time.
type Worker struct {
	id          string
	store       Store
	embedder    Embedder
	chunkCfg    chunker.Config
	maxAttempts int
	log         *slog.Logger
}

func NewWorker(id string, st Store, emb Embedder, chunkCfg chunker.Config, maxAttempts int, log *slog.Logger) *Worker {
	return &Worker{
		id:          id,
		store:       st,
		embedder:    emb,
		chunkCfg:    chunkCfg,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Process runs the chunk -> embed -> replace pipeline for a claimed
// job. The page body is read here, at execution time, so a coalesced
// job always indexes the latest revision. On any failure the page's
// previously indexed chunks are left untouched.
func (w *Worker) Process(ctx context.Context, job *store.Job) {
	log := w.log.With("worker", w.id, "job_id", job.ID, "page_id", job.PageID, "attempt", job.Attempts)

	page, err := w.store.PageForIndexing(ctx, job.PageID)
	if errors.Is(err, store.ErrNotFound) {
		// Page deleted after enqueue; its job rows cascade away.
		log.Info("page gone, dropping job")
		return
	}
	if err != nil {
		w.fail(ctx, log, job, err, true)
		return
	}

	if err := w.store.SetPageStatus(ctx, job.PageID, store.StatusProcessing, ""); err != nil {
		w.fail(ctx, log, job, err, true)
		return
	}

	chunks := chunker.Split(page.Body, w.chunkCfg)
	if len(chunks) == 0 {
		// Empty page: clear any previously indexed chunks and finish.
		if err := w.store.ReplaceChunks(ctx, job.PageID, nil); err != nil {
			w.fail(ctx, log, job, err, true)
			return
		}
		w.complete(ctx, log, job)
		log.Info("page empty, chunks cleared")
		return
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// Dimension mismatches and 4xx responses will not heal on
		// retry; transient transport failures might.
		w.fail(ctx, log, job, err, embedding.IsRetryable(err))
		return
	}

	rows := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = store.Chunk{
			PageID:      job.PageID,
			Index:       c.Index,
			Text:        c.Text,
			HeadingPath: c.HeadingPath,
			TokenCount:  c.TokenCount,
			Embedding:   vecs[i],
		}
	}

	if err := w.store.ReplaceChunks(ctx, job.PageID, rows); err != nil {
		w.fail(ctx, log, job, err, !errors.Is(err, store.ErrDimensionMismatch))
		return
	}

	w.complete(ctx, log, job)
	log.Info("page indexed", "chunks", len(rows))
}

func (w *Worker) complete(ctx context.Context, log *slog.Logger, job *store.Job) {
	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		log.Error("completing job failed", "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, job *store.Job, cause error, retryable bool) {
	requeued, err := w.store.FailJob(ctx, job.ID, cause.Error(), retryable, w.maxAttempts)
	if err != nil {
		log.Error("recording job failure failed", "error", err, "cause", cause)
		return
	}
	if requeued {
		log.Warn("job requeued", "error", cause)
	} else {
		log.Error("job failed", "error", cause)
	}
}
