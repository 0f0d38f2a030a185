package types

import (
	"context"

	"github.com/deskhq/ragline/internal/models"
)

// EmbeddingClient is the provider capability that turns text into vectors.
// langchaingo's ollama.LLM satisfies it directly.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits a document into bounded, overlapping segments.
type Chunker interface {
	Chunk(doc models.Document) ([]models.Chunk, error)
}

// Embedder converts chunks into embeddings, order-preserving and batched.
type Embedder interface {
	EmbedBatch(ctx context.Context, chunks []models.Chunk) ([]models.Embedding, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// VectorIndex is the vector store capability. Rebuild replaces the full entry
// set atomically from a reader's point of view and returns the new version
// identifier. DeleteAll is idempotent.
type VectorIndex interface {
	Rebuild(ctx context.Context, modelID string, entries []models.IndexEntry) (string, error)
	DeleteAll(ctx context.Context) error
	Search(ctx context.Context, vector []float32, k int) ([]models.RetrievalResult, error)
	Count(ctx context.Context) (int, error)
	ActiveModel(ctx context.Context) (string, error)
	Close()
}

// Retriever embeds a query and returns the top-k most similar chunks, scores
// descending, ties broken by ascending chunk id.
type Retriever interface {
	Retrieve(ctx context.Context, queryText string, k int) ([]models.RetrievalResult, error)
}

// Synthesizer composes a grounded answer from retrieved chunks.
type Synthesizer interface {
	Synthesize(ctx context.Context, queryText string, results []models.RetrievalResult) (models.Answer, error)
}

// Loader turns external sources (files, URLs) into documents.
type Loader interface {
	Load(ctx context.Context, sources []string) ([]models.Document, error)
}
