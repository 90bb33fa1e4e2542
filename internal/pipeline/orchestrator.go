// Package pipeline runs the reindex workers: claim a job from the
// durable queue, chunk the page, embed the chunks, replace the page's
// index rows.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/wikivec/wikivec/internal/chunker"
)

// Config sizes the worker pool and its claim behavior.
type Config struct {
	WorkerCount  int
	PollInterval time.Duration
	Lease        time.Duration
	MaxAttempts  int
}

// Orchestrator manages the reindex worker pool.
type Orchestrator struct {
	store    Store
	embedder Embedder
	chunkCfg chunker.Config
	cfg      Config
	log      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(st Store, emb Embedder, chunkCfg chunker.Config, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Orchestrator{
		store:    st,
		embedder: emb,
		chunkCfg: chunkCfg,
		cfg:      cfg,
		log:      log,
	}
}

// Start launches worker goroutines and the expired-lease reaper.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}

	for i := 0; i < o.cfg.WorkerCount; i++ {
		i := i
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(fmt.Sprintf("%s-%d", host, i), o.store, o.embedder,
				o.chunkCfg, o.cfg.MaxAttempts, o.log)
			o.runWorker(workerCtx, w)
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runReaper(workerCtx)
	}()
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) runWorker(ctx context.Context, w *Worker) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := o.store.ClaimJob(ctx, w.id, o.cfg.Lease, o.cfg.MaxAttempts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Error("claiming job failed", "worker", w.id, "error", err)
			o.sleep(ctx, o.cfg.PollInterval)
			continue
		}
		if job == nil {
			o.sleep(ctx, o.cfg.PollInterval)
			continue
		}

		w.Process(ctx, job)
	}
}

func (o *Orchestrator) runReaper(ctx context.Context) {
	interval := o.cfg.Lease / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.store.ReapExpired(ctx, o.cfg.MaxAttempts)
			if err != nil {
				if ctx.Err() == nil {
					o.log.Error("reaping expired jobs failed", "error", err)
				}
				continue
			}
			if n > 0 {
				o.log.Warn("reaped abandoned jobs", "count", n)
			}
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
