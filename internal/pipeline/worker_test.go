package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wikivec/wikivec/internal/chunker"
	"github.com/wikivec/wikivec/internal/embedding"
	"github.com/wikivec/wikivec/internal/store"
)

type failCall struct {
	reason string
	retry  bool
}

type fakeStore struct {
	page       *store.Page
	pageErr    error
	replaceErr error

	statuses  []store.PageStatus
	replaced  [][]store.Chunk
	completed []uuid.UUID
	failed    []failCall
}

func (f *fakeStore) PageForIndexing(ctx context.Context, pageID uuid.UUID) (*store.Page, error) {
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	return f.page, nil
}

func (f *fakeStore) SetPageStatus(ctx context.Context, pageID uuid.UUID, status store.PageStatus, reason string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStore) ReplaceChunks(ctx context.Context, pageID uuid.UUID, chunks []store.Chunk) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced = append(f.replaced, chunks)
	return nil
}

func (f *fakeStore) ClaimJob(ctx context.Context, workerID string, lease time.Duration, maxAttempts int) (*store.Job, error) {
	return nil, nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, jobID uuid.UUID, reason string, retry bool, maxAttempts int) (bool, error) {
	f.failed = append(f.failed, failCall{reason: reason, retry: retry})
	return retry, nil
}

func (f *fakeStore) ReapExpired(ctx context.Context, maxAttempts int) (int, error) {
	return 0, nil
}

type fakeEmbedder struct {
	dim   int
	err   error
	calls [][]string
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPage(body string) *store.Page {
	return &store.Page{
		ID:    uuid.New(),
		Title: "Test Page",
		Body:  body,
	}
}

func newTestWorker(st Store, emb Embedder) *Worker {
	return NewWorker("w0", st, emb, chunker.DefaultConfig(), 3, discardLogger())
}

func TestProcessIndexesPage(t *testing.T) {
	page := testPage("# Install\n\nRun the installer.\n\n# Configure\n\nEdit the config file.")
	st := &fakeStore{page: page}
	emb := &fakeEmbedder{dim: 4}
	w := newTestWorker(st, emb)

	job := &store.Job{ID: uuid.New(), PageID: page.ID, Attempts: 1}
	w.Process(context.Background(), job)

	if len(st.failed) != 0 {
		t.Fatalf("unexpected failure: %+v", st.failed)
	}
	if len(st.completed) != 1 || st.completed[0] != job.ID {
		t.Fatalf("expected job completed, got %v", st.completed)
	}
	if len(st.statuses) != 1 || st.statuses[0] != store.StatusProcessing {
		t.Fatalf("expected processing transition, got %v", st.statuses)
	}
	if len(st.replaced) != 1 {
		t.Fatalf("expected one chunk replacement, got %d", len(st.replaced))
	}
	rows := st.replaced[0]
	if len(rows) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(rows))
	}
	for i, r := range rows {
		if r.Index != i {
			t.Errorf("chunk %d has index %d", i, r.Index)
		}
		if r.PageID != page.ID {
			t.Errorf("chunk %d has wrong page id", i)
		}
		if len(r.Embedding) != 4 {
			t.Errorf("chunk %d has no embedding", i)
		}
	}
	if len(emb.calls) != 1 || len(emb.calls[0]) != 2 {
		t.Fatalf("expected one embed call with 2 texts, got %v", emb.calls)
	}
}

func TestProcessEmptyPageClearsChunks(t *testing.T) {
	st := &fakeStore{page: testPage("   \n\n  ")}
	w := newTestWorker(st, &fakeEmbedder{dim: 4})

	job := &store.Job{ID: uuid.New(), PageID: st.page.ID}
	w.Process(context.Background(), job)

	if len(st.replaced) != 1 || len(st.replaced[0]) != 0 {
		t.Fatalf("expected empty replacement, got %v", st.replaced)
	}
	if len(st.completed) != 1 {
		t.Fatalf("expected completion, got %v", st.completed)
	}
}

func TestProcessPageGoneDropsJob(t *testing.T) {
	st := &fakeStore{pageErr: store.ErrNotFound}
	w := newTestWorker(st, &fakeEmbedder{dim: 4})

	w.Process(context.Background(), &store.Job{ID: uuid.New(), PageID: uuid.New()})

	if len(st.failed) != 0 || len(st.completed) != 0 || len(st.replaced) != 0 {
		t.Fatalf("expected no store writes for a deleted page, got %+v", st)
	}
}

func TestProcessTransientEmbedErrorRequeues(t *testing.T) {
	st := &fakeStore{page: testPage("Some content here.")}
	emb := &fakeEmbedder{err: &embedding.RetryableError{StatusCode: 503, Message: "overloaded"}}
	w := newTestWorker(st, emb)

	w.Process(context.Background(), &store.Job{ID: uuid.New(), PageID: st.page.ID})

	if len(st.failed) != 1 {
		t.Fatalf("expected one failure, got %d", len(st.failed))
	}
	if !st.failed[0].retry {
		t.Error("transient embed error should requeue")
	}
	if len(st.replaced) != 0 {
		t.Error("prior chunks must not be touched on failure")
	}
}

func TestProcessDimensionMismatchIsFatal(t *testing.T) {
	st := &fakeStore{page: testPage("Some content here.")}
	emb := &fakeEmbedder{err: &embedding.DimensionError{Index: 0, Want: 384, Got: 768}}
	w := newTestWorker(st, emb)

	w.Process(context.Background(), &store.Job{ID: uuid.New(), PageID: st.page.ID})

	if len(st.failed) != 1 {
		t.Fatalf("expected one failure, got %d", len(st.failed))
	}
	if st.failed[0].retry {
		t.Error("dimension mismatch must not requeue")
	}
	if !strings.Contains(st.failed[0].reason, "dimension") {
		t.Errorf("reason should mention the dimension: %q", st.failed[0].reason)
	}
}

func TestProcessStoreDimensionErrorIsFatal(t *testing.T) {
	st := &fakeStore{page: testPage("Some content here."), replaceErr: store.ErrDimensionMismatch}
	w := newTestWorker(st, &fakeEmbedder{dim: 4})

	w.Process(context.Background(), &store.Job{ID: uuid.New(), PageID: st.page.ID})

	if len(st.failed) != 1 || st.failed[0].retry {
		t.Fatalf("expected a fatal failure, got %+v", st.failed)
	}
}

func TestProcessReadsContentAtExecutionTime(t *testing.T) {
	// The body present when the job runs, not when it was enqueued, is
	// what gets indexed.
	page := testPage("Latest revision of the page.")
	st := &fakeStore{page: page}
	emb := &fakeEmbedder{dim: 4}
	w := newTestWorker(st, emb)

	w.Process(context.Background(), &store.Job{ID: uuid.New(), PageID: page.ID})

	if len(emb.calls) != 1 {
		t.Fatalf("expected one embed call, got %d", len(emb.calls))
	}
	if !strings.Contains(emb.calls[0][0], "Latest revision") {
		t.Errorf("embedded text should come from the current body, got %q", emb.calls[0][0])
	}
}
