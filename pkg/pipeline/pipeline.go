package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deskhq/ragline/internal/models"
	"github.com/deskhq/ragline/internal/types"
)

// Stage names the step a workflow is in. Builds move
// Pending → Chunking → Embedding → Writing → Succeeded | Failed; queries move
// Pending → Retrieving → Synthesizing → Succeeded | Failed.
type Stage string

const (
	StagePending      Stage = "pending"
	StageChunking     Stage = "chunking"
	StageEmbedding    Stage = "embedding"
	StageWriting      Stage = "writing"
	StageRetrieving   Stage = "retrieving"
	StageSynthesizing Stage = "synthesizing"
	StageSucceeded    Stage = "succeeded"
	StageFailed       Stage = "failed"
)

// BuildError carries the stage a build failed in along with the originating
// error kind.
type BuildError struct {
	Stage Stage
	Err   error
}

func (e *BuildError) Error() string { return fmt.Sprintf("build failed while %s: %v", e.Stage, e.Err) }

func (e *BuildError) Unwrap() error { return e.Err }

type IndexerConfig struct {
	// FailFast aborts the build on the first document or chunk failure
	// instead of skipping and reporting it.
	FailFast bool
}

// Indexer runs the index-build workflow: Chunker → Embedder → Index Writer.
// Builds are single-writer; a build requested while another is running fails
// with models.ErrBuildInProgress.
type Indexer struct {
	config   IndexerConfig
	chunker  types.Chunker
	embedder types.Embedder
	index    types.VectorIndex

	buildMu sync.Mutex

	// OnProgress, when set, is called once per processed document.
	OnProgress func(docID string)
}

func NewIndexer(config IndexerConfig, chunker types.Chunker, embedder types.Embedder, index types.VectorIndex) *Indexer {
	return &Indexer{
		config:   config,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
	}
}

// Build chunks, embeds and writes the given documents as the new active
// index. Recoverable per-item failures are collected into the report unless
// FailFast is set; stage failures abort with the originating error preserved
// and never leave partial work as the active index. Cancellation between
// stages discards everything computed so far.
func (ix *Indexer) Build(ctx context.Context, docs []models.Document) (models.BuildReport, error) {
	if !ix.buildMu.TryLock() {
		return models.BuildReport{}, models.ErrBuildInProgress
	}
	defer ix.buildMu.Unlock()

	started := time.Now()
	report := models.BuildReport{}

	fail := func(stage Stage, err error) (models.BuildReport, error) {
		report.Elapsed = time.Since(started)
		return report, &BuildError{Stage: stage, Err: err}
	}

	// Chunking.
	var chunks []models.Chunk
	byID := make(map[string]models.Chunk)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return fail(StageChunking, err)
		}

		docChunks, err := ix.chunker.Chunk(doc)
		if err != nil {
			if ix.config.FailFast {
				return fail(StageChunking, err)
			}
			report.SkippedDocs++
			continue
		}
		report.Documents++
		for _, c := range docChunks {
			chunks = append(chunks, c)
			byID[c.ID] = c
		}
		if ix.OnProgress != nil {
			ix.OnProgress(doc.ID)
		}
	}
	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		return fail(StageChunking, &models.InvalidDocumentError{Reason: "no usable documents"})
	}

	// Embedding.
	embeddings, err := ix.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		var svcErr *models.EmbeddingServiceError
		if errors.As(err, &svcErr) && !ix.config.FailFast && len(embeddings) > 0 {
			report.FailedChunks = svcErr.ChunkIDs
		} else {
			return fail(StageEmbedding, err)
		}
	}
	if err := ctx.Err(); err != nil {
		// Partial embeddings are discarded, never written.
		return fail(StageEmbedding, err)
	}

	// Writing.
	entries := make([]models.IndexEntry, 0, len(embeddings))
	for _, emb := range embeddings {
		chunk, ok := byID[emb.ChunkID]
		if !ok {
			continue
		}
		entries = append(entries, models.IndexEntry{
			ChunkID:   emb.ChunkID,
			ChunkText: chunk.Text,
			Vector:    emb.Vector,
			Metadata:  chunk.Metadata,
		})
	}

	version, err := ix.index.Rebuild(ctx, ix.embedder.ModelID(), entries)
	if err != nil {
		return fail(StageWriting, err)
	}

	report.ChunksWritten = len(entries)
	report.IndexVersion = version
	report.Elapsed = time.Since(started)
	return report, nil
}

// DeleteIndex removes every entry of the active version. Idempotent.
func (ix *Indexer) DeleteIndex(ctx context.Context) error {
	if !ix.buildMu.TryLock() {
		return models.ErrBuildInProgress
	}
	defer ix.buildMu.Unlock()
	return ix.index.DeleteAll(ctx)
}

// Query runs the query workflow: Retriever → Answer Synthesizer. Independent
// queries are safe to run concurrently.
type Query struct {
	retriever   types.Retriever
	synthesizer types.Synthesizer
}

func NewQuery(retriever types.Retriever, synthesizer types.Synthesizer) *Query {
	return &Query{retriever: retriever, synthesizer: synthesizer}
}

// Ask retrieves grounding chunks for the query and synthesizes an answer from
// them. A retrieval failure short-circuits without invoking synthesis.
func (q *Query) Ask(ctx context.Context, queryText string, k int) (models.Answer, []models.RetrievalResult, error) {
	return q.AskStream(ctx, queryText, k, nil)
}

type streamingSynthesizer interface {
	SynthesizeStream(ctx context.Context, queryText string, results []models.RetrievalResult, fn func(chunk string)) (models.Answer, error)
}

// AskStream is Ask with generation chunks forwarded to fn as they arrive,
// when the synthesizer supports streaming. Synthesizers without streaming
// deliver the full answer text to fn in one call.
func (q *Query) AskStream(ctx context.Context, queryText string, k int, fn func(chunk string)) (models.Answer, []models.RetrievalResult, error) {
	results, err := q.retriever.Retrieve(ctx, queryText, k)
	if err != nil {
		return models.Answer{}, nil, err
	}

	var answer models.Answer
	if ss, ok := q.synthesizer.(streamingSynthesizer); ok && fn != nil {
		answer, err = ss.SynthesizeStream(ctx, queryText, results, fn)
	} else {
		answer, err = q.synthesizer.Synthesize(ctx, queryText, results)
		if err == nil && fn != nil {
			fn(answer.Text)
		}
	}
	if err != nil {
		return models.Answer{}, results, err
	}
	return answer, results, nil
}
