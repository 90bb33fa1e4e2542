package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// newTestStore connects to the database named by TEST_DATABASE_URL and
// resets the tables. Without the variable the test skips, so the suite
// runs green on machines without Postgres.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := New(context.Background(), url, 3)
	if err != nil {
		t.Fatalf("connecting test store: %v", err)
	}
	t.Cleanup(s.Close)
	if _, err := s.pool.Exec(context.Background(), "TRUNCATE pages CASCADE"); err != nil {
		t.Fatalf("resetting tables: %v", err)
	}
	return s
}

func createTestPage(t *testing.T, s *Store) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := s.pool.QueryRow(context.Background(), `
		INSERT INTO pages (wiki_id, slug, title, body)
		VALUES ($1, $2, 'Test Page', 'Body text.')
		RETURNING id
	`, uuid.New(), "page-"+uuid.NewString()).Scan(&id)
	if err != nil {
		t.Fatalf("creating page: %v", err)
	}
	return id
}

func queuedJobCount(t *testing.T, s *Store, pageID uuid.UUID) int {
	t.Helper()
	var n int
	err := s.pool.QueryRow(context.Background(), `
		SELECT count(*) FROM reindex_jobs WHERE page_id = $1 AND state = 'queued'
	`, pageID).Scan(&n)
	if err != nil {
		t.Fatalf("counting queued jobs: %v", err)
	}
	return n
}

func TestEnqueueCoalescesDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := createTestPage(t, s)

	enqueued, err := s.Enqueue(ctx, pageID)
	if err != nil || !enqueued {
		t.Fatalf("first enqueue: enqueued=%v err=%v", enqueued, err)
	}
	enqueued, err = s.Enqueue(ctx, pageID)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if enqueued {
		t.Error("second enqueue should coalesce into the queued job")
	}
	if n := queuedJobCount(t, s, pageID); n != 1 {
		t.Errorf("expected 1 queued job, got %d", n)
	}
}

func TestEnqueueUnknownPage(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Enqueue(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimJobSkipsPagesWithRunningJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := createTestPage(t, s)

	if _, err := s.Enqueue(ctx, pageID); err != nil {
		t.Fatal(err)
	}
	job, err := s.ClaimJob(ctx, "w1", time.Minute, 3)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	if job.PageID != pageID || job.Attempts != 1 {
		t.Fatalf("claimed job wrong: %+v", job)
	}

	// A new enqueue while the job runs is allowed (only queued jobs
	// coalesce), but it must not be claimable until the first finishes.
	enqueued, err := s.Enqueue(ctx, pageID)
	if err != nil || !enqueued {
		t.Fatalf("enqueue during run: enqueued=%v err=%v", enqueued, err)
	}
	if j, err := s.ClaimJob(ctx, "w2", time.Minute, 3); err != nil || j != nil {
		t.Fatalf("expected empty claim while page job runs, got job=%v err=%v", j, err)
	}

	if err := s.CompleteJob(ctx, job.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	second, err := s.ClaimJob(ctx, "w2", time.Minute, 3)
	if err != nil || second == nil {
		t.Fatalf("claim after complete: job=%v err=%v", second, err)
	}
	if second.PageID != pageID || second.ID == job.ID {
		t.Fatalf("expected the follow-up job, got %+v", second)
	}
}

func TestClaimJobReclaimsExpiredLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := createTestPage(t, s)

	if _, err := s.Enqueue(ctx, pageID); err != nil {
		t.Fatal(err)
	}
	// A negative lease expires immediately, standing in for a worker
	// that died mid-job.
	job, err := s.ClaimJob(ctx, "w1", -time.Second, 3)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	reclaimed, err := s.ClaimJob(ctx, "w2", time.Minute, 3)
	if err != nil || reclaimed == nil {
		t.Fatalf("reclaim: job=%v err=%v", reclaimed, err)
	}
	if reclaimed.ID != job.ID || reclaimed.Attempts != 2 {
		t.Fatalf("expected same job on attempt 2, got %+v", reclaimed)
	}
}

func TestFailJobRequeuesThenCapsAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := createTestPage(t, s)

	if _, err := s.Enqueue(ctx, pageID); err != nil {
		t.Fatal(err)
	}
	job, err := s.ClaimJob(ctx, "w1", time.Minute, 2)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	// A duplicate queued while the job runs is absorbed on requeue so
	// the one-queued-job-per-page index holds.
	if _, err := s.Enqueue(ctx, pageID); err != nil {
		t.Fatal(err)
	}
	requeued, err := s.FailJob(ctx, job.ID, "connection reset", true, 2)
	if err != nil || !requeued {
		t.Fatalf("first failure: requeued=%v err=%v", requeued, err)
	}
	if n := queuedJobCount(t, s, pageID); n != 1 {
		t.Fatalf("expected 1 queued job after requeue, got %d", n)
	}

	job, err = s.ClaimJob(ctx, "w1", time.Minute, 2)
	if err != nil || job == nil {
		t.Fatalf("reclaim: job=%v err=%v", job, err)
	}
	if job.Attempts != 2 {
		t.Fatalf("expected attempt 2, got %d", job.Attempts)
	}
	requeued, err = s.FailJob(ctx, job.ID, "connection reset", true, 2)
	if err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if requeued {
		t.Error("attempt cap reached, job should not requeue")
	}

	status, err := s.PageEmbeddingStatus(ctx, pageID)
	if err != nil {
		t.Fatalf("page status: %v", err)
	}
	if status.Status != StatusFailed || status.Error == nil || *status.Error != "connection reset" {
		t.Fatalf("expected failed page with reason, got %+v", status)
	}
	if j, err := s.ClaimJob(ctx, "w1", time.Minute, 2); err != nil || j != nil {
		t.Fatalf("expected empty queue after cap, got job=%v err=%v", j, err)
	}
}

func TestReapExpiredFinalizesAbandonedJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := createTestPage(t, s)

	if _, err := s.Enqueue(ctx, pageID); err != nil {
		t.Fatal(err)
	}
	job, err := s.ClaimJob(ctx, "w1", -time.Second, 1)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	if err := s.SetPageStatus(ctx, pageID, StatusProcessing, ""); err != nil {
		t.Fatalf("set processing: %v", err)
	}

	n, err := s.ReapExpired(ctx, 1)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped job, got %d", n)
	}

	status, err := s.PageEmbeddingStatus(ctx, pageID)
	if err != nil {
		t.Fatalf("page status: %v", err)
	}
	if status.Status != StatusFailed {
		t.Fatalf("expected failed page after reap, got %+v", status)
	}
}
