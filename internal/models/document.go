package models

import "time"

// Document is a raw source handed to the pipeline by a loader. Immutable once
// created.
type Document struct {
	ID        string
	SourceURI string
	Title     string
	RawText   string
	Metadata  map[string]interface{}
}

// Chunk is a bounded segment of a document's raw text. Text is always the
// exact slice RawText[Start:End], which keeps chunking reproducible.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Start      int
	End        int
	Metadata   map[string]interface{}
}

// Embedding pairs a chunk with its vector. A chunk may be re-embedded on a
// model change; the old embedding is superseded, never mutated.
type Embedding struct {
	ChunkID   string
	Vector    []float32
	ModelID   string
	CreatedAt time.Time
}

// IndexEntry is the unit persisted in the vector store.
type IndexEntry struct {
	ChunkID   string
	ChunkText string
	Vector    []float32
	Metadata  map[string]interface{}
}

// RetrievalResult is one ranked hit from a similarity search, ephemeral and
// ordered by descending score.
type RetrievalResult struct {
	ChunkID   string
	Score     float64
	ChunkText string
	Metadata  map[string]interface{}
}

// Answer is a generated response plus citations back to the chunks that were
// included in the prompt, in prompt order.
type Answer struct {
	Text      string
	Citations []string
}

// BuildReport summarizes an index build.
type BuildReport struct {
	Documents     int
	SkippedDocs   int
	Chunks        int
	ChunksWritten int
	FailedChunks  []string
	IndexVersion  string
	Elapsed       time.Duration
}
