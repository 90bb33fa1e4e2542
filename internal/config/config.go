package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Postgres
	DatabaseURL string

	// Auth
	APIKey string

	// Embedding service
	EmbeddingServiceURL string
	EmbeddingDimension  int
	EmbeddingBatchSize  int
	EmbeddingTimeout    time.Duration
	EmbeddingAttempts   int

	// Chunking
	MaxChunkTokens     int
	ChunkOverlapTokens int

	// Worker pool
	WorkerCount  int
	JobLease     time.Duration
	JobAttempts  int
	PollInterval time.Duration

	// Search defaults
	SearchThreshold float64
	SemanticWeight  float64
	IvfflatProbes   int
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8091"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		APIKey: os.Getenv("WIKI_API_KEY"),

		EmbeddingServiceURL: envOr("EMBEDDING_SERVICE_URL", "http://localhost:8001"),
		EmbeddingDimension:  envInt("EMBEDDING_DIMENSION", 384),
		EmbeddingBatchSize:  envInt("EMBEDDING_BATCH_SIZE", 32),
		EmbeddingTimeout:    envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		EmbeddingAttempts:   envInt("EMBEDDING_MAX_ATTEMPTS", 3),

		MaxChunkTokens:     envInt("MAX_CHUNK_TOKENS", 400),
		ChunkOverlapTokens: envInt("CHUNK_OVERLAP_TOKENS", 50),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		JobLease:     envDuration("JOB_LEASE", 2*time.Minute),
		JobAttempts:  envInt("JOB_MAX_ATTEMPTS", 3),
		PollInterval: envDuration("POLL_INTERVAL", 1*time.Second),

		SearchThreshold: envFloat("SEARCH_THRESHOLD_DEFAULT", 0.5),
		SemanticWeight:  envFloat("SEMANTIC_WEIGHT_DEFAULT", 0.7),
		IvfflatProbes:   envInt("IVFFLAT_PROBES", 10),
	}

	if cfg.EmbeddingDimension <= 0 {
		cfg.EmbeddingDimension = 384
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 32
	}
	if cfg.EmbeddingAttempts <= 0 {
		cfg.EmbeddingAttempts = 3
	}
	if cfg.MaxChunkTokens <= 0 {
		cfg.MaxChunkTokens = 400
	}
	if cfg.ChunkOverlapTokens < 0 || cfg.ChunkOverlapTokens >= cfg.MaxChunkTokens {
		cfg.ChunkOverlapTokens = 50
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.JobLease <= 0 {
		cfg.JobLease = 2 * time.Minute
	}
	if cfg.JobAttempts <= 0 {
		cfg.JobAttempts = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.SearchThreshold < 0 || cfg.SearchThreshold > 1 {
		cfg.SearchThreshold = 0.5
	}
	if cfg.SemanticWeight < 0 || cfg.SemanticWeight > 1 {
		cfg.SemanticWeight = 0.7
	}
	if cfg.IvfflatProbes <= 0 {
		cfg.IvfflatProbes = 10
	}

	return cfg
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("WIKI_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
