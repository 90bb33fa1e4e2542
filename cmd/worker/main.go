package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wikivec/wikivec/internal/chunker"
	"github.com/wikivec/wikivec/internal/config"
	"github.com/wikivec/wikivec/internal/embedding"
	"github.com/wikivec/wikivec/internal/pipeline"
	"github.com/wikivec/wikivec/internal/store"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.DatabaseURL, cfg.EmbeddingDimension)
	if err != nil {
		log.Error("opening store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	embClient := embedding.NewClient(embedding.Config{
		BaseURL:     cfg.EmbeddingServiceURL,
		Timeout:     cfg.EmbeddingTimeout,
		BatchSize:   cfg.EmbeddingBatchSize,
		Dimension:   cfg.EmbeddingDimension,
		MaxAttempts: cfg.EmbeddingAttempts,
	})
	defer embClient.Close()

	// Surface a misconfigured dimension at startup instead of on the
	// first failed job.
	if info, err := embClient.Info(ctx); err == nil && info.Dimension != cfg.EmbeddingDimension {
		log.Error("embedding service dimension disagrees with configuration",
			"service", info.Dimension, "configured", cfg.EmbeddingDimension)
		os.Exit(1)
	}

	orch := pipeline.NewOrchestrator(st, embClient, chunker.Config{
		MaxTokens:     cfg.MaxChunkTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
	}, pipeline.Config{
		WorkerCount:  cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
		Lease:        cfg.JobLease,
		MaxAttempts:  cfg.JobAttempts,
	}, log)

	orch.Start(ctx)
	log.Info("workers started", "count", cfg.WorkerCount, "dimension", cfg.EmbeddingDimension)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")
	orch.Stop()
}
