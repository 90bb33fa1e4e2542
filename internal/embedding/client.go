package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the external sentence-embedding service. It is a pure
// request/response boundary: no caching, no state between calls. Batch
// splitting and request-level retries happen here; retrying a whole
// reindex job is the worker's decision.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	batchSize   int
	dimension   int
	maxAttempts int

	// Stats tracks recent request latencies for the operator surface.
	Stats *Stats
}

// Config holds embedding client settings.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	BatchSize   int
	Dimension   int
	MaxAttempts int
}

// NewClient creates an embedding service client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		batchSize:   cfg.BatchSize,
		dimension:   cfg.Dimension,
		maxAttempts: cfg.MaxAttempts,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		Stats: NewStats(time.Hour),
	}
}

// Dimension returns the configured embedding vector size.
func (c *Client) Dimension() int {
	return c.dimension
}

type embedRequest struct {
	Texts     []string `json:"texts"`
	Normalize bool     `json:"normalize"`
}

type embedResponse struct {
	Embeddings       [][]float32 `json:"embeddings"`
	Model            string      `json:"model,omitempty"`
	ProcessingTimeMs float64     `json:"processing_time_ms,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// ModelInfo describes the embedding model behind the service.
type ModelInfo struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text, in input order, or fails
// the whole batch. Inputs above the batch cap are split into sequential
// sub-batches.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		all = append(all, vecs...)
	}
	return all, nil
}

// embedWithRetry runs one sub-batch request, retrying transient failures
// with backoff up to the attempt cap.
func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(Backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		vecs, err := c.embedOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()

	body, err := json.Marshal(embedRequest{Texts: texts, Normalize: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Timeouts and connection errors are transient.
		return nil, &RetryableError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &RetryableError{Message: "read response: " + err.Error()}
	}

	c.Stats.Record(time.Since(start).Milliseconds(), len(texts))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp embedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, fmt.Errorf("embedding service error: %s", apiResp.Error)
	}
	if len(apiResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(apiResp.Embeddings))
	}
	for i, vec := range apiResp.Embeddings {
		if c.dimension > 0 && len(vec) != c.dimension {
			// Wrong-dimension vectors corrupt nearest-neighbor geometry;
			// fail loudly, never truncate or pad.
			return nil, &DimensionError{Index: i, Want: c.dimension, Got: len(vec)}
		}
	}

	return apiResp.Embeddings, nil
}

// Health checks the service's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("embedding service health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Info fetches model name and dimension from the service.
func (c *Client) Info(ctx context.Context) (ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", http.NoBody)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("embedding service info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ModelInfo{}, fmt.Errorf("embedding service info: status %d", resp.StatusCode)
	}
	var info ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ModelInfo{}, fmt.Errorf("decode info: %w", err)
	}
	return info, nil
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RetryableError indicates a transient failure worth retrying.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
	}
	return "retryable error: " + truncate(e.Message, 200)
}

// DimensionError reports a vector whose length disagrees with the
// configured embedding dimension. Never retried and never coerced.
type DimensionError struct {
	Index int
	Want  int
	Got   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch at index %d: want %d, got %d", e.Index, e.Want, e.Got)
}

// IsDimensionError reports whether err is a dimension mismatch.
func IsDimensionError(err error) bool {
	var de *DimensionError
	return errors.As(err, &de)
}
