package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/deskhq/ragline/internal/models"
	"github.com/deskhq/ragline/internal/types"
)

// EmbedderConfig configures batching, concurrency and retry behavior for the
// embedding provider.
type EmbedderConfig struct {
	Model          string
	BaseURL        string // Ollama server URL
	BatchSize      int    // texts per provider call
	MaxInFlight    int    // concurrent provider calls
	MaxAttempts    int    // attempts per batch before giving up
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration
	RateLimit      float64 // provider calls per second, 0 disables
}

// Embedder turns chunks into embeddings. Batches are issued concurrently up
// to MaxInFlight and results are reassembled in input order.
type Embedder struct {
	config  EmbedderConfig
	client  types.EmbeddingClient
	limiter *rate.Limiter
}

func applyEmbedderDefaults(config EmbedderConfig) EmbedderConfig {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 4
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 250 * time.Millisecond
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return config
}

// NewEmbedderWithConfig wires the default Ollama client.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	config = applyEmbedderDefaults(config)

	client, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	return NewEmbedderWithClient(config, client), nil
}

// NewEmbedderWithClient accepts any embedding capability, which is what tests
// and alternative providers use.
func NewEmbedderWithClient(config EmbedderConfig, client types.EmbeddingClient) *Embedder {
	config = applyEmbedderDefaults(config)

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &Embedder{
		config:  config,
		client:  client,
		limiter: limiter,
	}
}

func (e *Embedder) ModelID() string { return e.config.Model }

type batchResult struct {
	offset     int
	embeddings []models.Embedding
	failedIDs  []string
}

// EmbedBatch embeds all chunks, one embedding per chunk, preserving input
// order regardless of the completion order of concurrent provider calls.
//
// Chunks whose sub-batch keeps failing after retries are reported through an
// *models.EmbeddingServiceError carrying their ids; embeddings for the
// remaining chunks are still returned so callers can skip-and-continue.
// A context cancellation discards all partial results.
func (e *Embedder) EmbedBatch(ctx context.Context, chunks []models.Chunk) ([]models.Embedding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	var batches []batchResult
	for offset := 0; offset < len(chunks); offset += e.config.BatchSize {
		batches = append(batches, batchResult{offset: offset})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxInFlight)

	for i := range batches {
		i := i
		start := batches[i].offset
		end := start + e.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			embs, failed, err := e.embedWithRetry(gctx, batch)
			if err != nil {
				// Cancellation aborts the whole call; provider failures
				// are collected per batch instead.
				return err
			}
			batches[i].embeddings = embs
			batches[i].failedIDs = failed
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Embedding
	var failedIDs []string
	for _, b := range batches {
		out = append(out, b.embeddings...)
		failedIDs = append(failedIDs, b.failedIDs...)
	}

	if len(failedIDs) > 0 {
		sort.Strings(failedIDs)
		return out, &models.EmbeddingServiceError{
			ChunkIDs: failedIDs,
			Err:      errors.New("retries exhausted"),
		}
	}
	return out, nil
}

// embedWithRetry embeds one batch with exponential backoff. When a batch of
// more than one chunk exhausts its attempts it is bisected so a single poison
// chunk cannot sink its neighbors. The returned error is non-nil only for
// context cancellation.
func (e *Embedder) embedWithRetry(ctx context.Context, batch []models.Chunk) ([]models.Embedding, []string, error) {
	vectors, err := e.callProvider(ctx, batch)
	if err == nil {
		return e.toEmbeddings(batch, vectors), nil, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}

	if len(batch) > 1 {
		mid := len(batch) / 2
		left, leftFailed, err := e.embedWithRetry(ctx, batch[:mid])
		if err != nil {
			return nil, nil, err
		}
		right, rightFailed, err := e.embedWithRetry(ctx, batch[mid:])
		if err != nil {
			return nil, nil, err
		}
		return append(left, right...), append(leftFailed, rightFailed...), nil
	}

	ids := make([]string, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
	}
	return nil, ids, nil
}

// callProvider runs the attempt/backoff loop for a single provider call.
func (e *Embedder) callProvider(ctx context.Context, batch []models.Chunk) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	var lastErr error
	for attempt := 0; attempt < e.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, e.config.RetryBaseDelay<<uint(attempt-1)); err != nil {
				return nil, err
			}
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
		vectors, err := e.client.CreateEmbedding(callCtx, texts)
		cancel()

		if err == nil {
			if len(vectors) != len(texts) {
				lastErr = fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
				continue
			}
			return vectors, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (e *Embedder) toEmbeddings(batch []models.Chunk, vectors [][]float32) []models.Embedding {
	now := time.Now()
	out := make([]models.Embedding, len(batch))
	for i, c := range batch {
		out[i] = models.Embedding{
			ChunkID:   c.ID,
			Vector:    vectors[i],
			ModelID:   e.config.Model,
			CreatedAt: now,
		}
	}
	return out
}

// EmbedQuery embeds a single query text with the same model and retry policy
// used for chunks.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.callProvider(ctx, []models.Chunk{{Text: text}})
	if err != nil {
		return nil, &models.EmbeddingServiceError{Err: err}
	}
	return vectors[0], nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
