package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobState is the lifecycle state of a reindex job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is one reindex request. Jobs carry no content payload; the worker
// re-reads the page body when it runs, so the latest enqueue wins.
type Job struct {
	ID         uuid.UUID
	PageID     uuid.UUID
	Attempts   int
	EnqueuedAt time.Time
}

// Enqueue queues a reindex for the page and resets its status to
// pending. A partial unique index on queued jobs coalesces duplicate
// requests: if the page already has a queued job this is a no-op and
// Enqueue reports false.
func (s *Store) Enqueue(ctx context.Context, pageID uuid.UUID) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pages WHERE id = $1)", pageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking page %s: %w", pageID, err)
	}
	if !exists {
		return false, ErrNotFound
	}

	ct, err := tx.Exec(ctx, `
		INSERT INTO reindex_jobs (id, page_id)
		VALUES ($1, $2)
		ON CONFLICT (page_id) WHERE state = 'queued' DO NOTHING
	`, uuid.New(), pageID)
	if err != nil {
		return false, fmt.Errorf("enqueuing reindex for page %s: %w", pageID, err)
	}
	enqueued := ct.RowsAffected() == 1

	if enqueued {
		if _, err := tx.Exec(ctx, `
			UPDATE pages SET embedding_status = 'pending', embedding_error = NULL
			WHERE id = $1
		`, pageID); err != nil {
			return false, fmt.Errorf("marking page %s pending: %w", pageID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing enqueue for page %s: %w", pageID, err)
	}
	return enqueued, nil
}

// ClaimJob atomically claims the oldest runnable job for this worker
// and returns it, or nil when the queue is empty. Runnable means queued
// (or running with an expired lease), under the attempt cap, and with
// no other live running job for the same page. SKIP LOCKED lets
// competing workers claim without blocking each other.
func (s *Store) ClaimJob(ctx context.Context, workerID string, lease time.Duration, maxAttempts int) (*Job, error) {
	var j Job
	err := s.pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT j.id
			FROM reindex_jobs j
			WHERE (j.state = 'queued'
			       OR (j.state = 'running' AND j.lease_expires_at < now()))
			  AND j.attempts < $3
			  AND NOT EXISTS (
			      SELECT 1 FROM reindex_jobs r
			      WHERE r.page_id = j.page_id
			        AND r.id <> j.id
			        AND r.state = 'running'
			        AND r.lease_expires_at >= now()
			  )
			ORDER BY j.enqueued_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE reindex_jobs j
		SET state = 'running',
		    attempts = j.attempts + 1,
		    claimed_by = $1,
		    lease_expires_at = now() + make_interval(secs => $2),
		    started_at = COALESCE(j.started_at, now())
		FROM candidate
		WHERE j.id = candidate.id
		RETURNING j.id, j.page_id, j.attempts, j.enqueued_at
	`, workerID, lease.Seconds(), maxAttempts).Scan(&j.ID, &j.PageID, &j.Attempts, &j.EnqueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return &j, nil
}

// CompleteJob finalizes a successfully processed job. The page's
// completed status was already committed by ReplaceChunks.
func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE reindex_jobs
		SET state = 'completed', finished_at = now(), lease_expires_at = NULL
		WHERE id = $1 AND state = 'running'
	`, jobID)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", jobID, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failure. When retry is true and attempts remain,
// the job goes back to queued; any queued duplicate enqueued while this
// job ran is absorbed first so the partial unique index holds. When the
// failure is fatal or the cap is exhausted, the job and page are marked
// failed with the reason. Returns whether the job was requeued.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, reason string, retry bool, maxAttempts int) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var pageID uuid.UUID
	var attempts int
	err = tx.QueryRow(ctx, `
		SELECT page_id, attempts FROM reindex_jobs
		WHERE id = $1 AND state = 'running'
		FOR UPDATE
	`, jobID).Scan(&pageID, &attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("loading job %s: %w", jobID, err)
	}

	requeue := retry && attempts < maxAttempts
	if requeue {
		if _, err := tx.Exec(ctx, `
			DELETE FROM reindex_jobs
			WHERE page_id = $1 AND state = 'queued'
		`, pageID); err != nil {
			return false, fmt.Errorf("absorbing queued duplicates for page %s: %w", pageID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE reindex_jobs
			SET state = 'queued', last_error = $2, claimed_by = NULL, lease_expires_at = NULL
			WHERE id = $1
		`, jobID, reason); err != nil {
			return false, fmt.Errorf("requeuing job %s: %w", jobID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE pages SET embedding_status = 'pending' WHERE id = $1
		`, pageID); err != nil {
			return false, fmt.Errorf("marking page %s pending: %w", pageID, err)
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE reindex_jobs
			SET state = 'failed', last_error = $2, finished_at = now(), lease_expires_at = NULL
			WHERE id = $1
		`, jobID, reason); err != nil {
			return false, fmt.Errorf("failing job %s: %w", jobID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE pages SET embedding_status = 'failed', embedding_error = $2
			WHERE id = $1
		`, pageID, reason); err != nil {
			return false, fmt.Errorf("marking page %s failed: %w", pageID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing failure for job %s: %w", jobID, err)
	}
	return requeue, nil
}

// ReapExpired finalizes running jobs whose lease expired after the
// attempt cap was already spent. Claimable expired jobs are picked up
// by ClaimJob directly; this sweeps the rest so pages do not sit in
// processing forever after a worker crash.
func (s *Store) ReapExpired(ctx context.Context, maxAttempts int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE reindex_jobs
		SET state = 'failed', finished_at = now(),
		    last_error = COALESCE(last_error, 'worker lease expired')
		WHERE state = 'running' AND lease_expires_at < now() AND attempts >= $1
		RETURNING page_id
	`, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("reaping expired jobs: %w", err)
	}
	var pageIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning reaped job: %w", err)
		}
		pageIDs = append(pageIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, pageID := range pageIDs {
		if _, err := tx.Exec(ctx, `
			UPDATE pages SET embedding_status = 'failed',
			       embedding_error = 'reindex abandoned: worker lease expired'
			WHERE id = $1 AND embedding_status = 'processing'
		`, pageID); err != nil {
			return 0, fmt.Errorf("marking page %s failed: %w", pageID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing reap: %w", err)
	}
	return len(pageIDs), nil
}
