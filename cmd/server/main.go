package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wikivec/wikivec/internal/api"
	"github.com/wikivec/wikivec/internal/config"
	"github.com/wikivec/wikivec/internal/embedding"
	"github.com/wikivec/wikivec/internal/search"
	"github.com/wikivec/wikivec/internal/store"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
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

	ranker := search.NewRanker(st, embClient, search.Defaults{
		Threshold:      cfg.SearchThreshold,
		SemanticWeight: cfg.SemanticWeight,
		Probes:         cfg.IvfflatProbes,
	}, log)

	srv := api.NewServer(st, ranker, embClient, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting api server", "port", cfg.Port, "dimension", cfg.EmbeddingDimension)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
