package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/deskhq/ragline/internal/models"
)

// MemoryIndex is an in-process VectorIndex with the same swap semantics as
// PgIndex: a rebuild prepares the full entry set aside and replaces the live
// set in one critical section. Useful for tests and single-node setups that
// do not want a database.
type MemoryIndex struct {
	mu      sync.RWMutex
	modelID string
	version string
	entries []models.IndexEntry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (ix *MemoryIndex) Rebuild(ctx context.Context, modelID string, entries []models.IndexEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &models.IndexWriteError{Err: err}
	}

	staged := make([]models.IndexEntry, len(entries))
	copy(staged, entries)
	version := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	ix.mu.Lock()
	ix.entries = staged
	ix.modelID = modelID
	ix.version = version
	ix.mu.Unlock()

	return version, nil
}

func (ix *MemoryIndex) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &models.IndexWriteError{Err: err}
	}

	ix.mu.Lock()
	ix.entries = nil
	ix.modelID = ""
	ix.version = ""
	ix.mu.Unlock()
	return nil
}

func (ix *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]models.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results := make([]models.RetrievalResult, 0, len(ix.entries))
	for _, e := range ix.entries {
		results = append(results, models.RetrievalResult{
			ChunkID:   e.ChunkID,
			Score:     cosineSimilarity(vector, e.Vector),
			ChunkText: e.ChunkText,
			Metadata:  e.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (ix *MemoryIndex) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries), nil
}

func (ix *MemoryIndex) ActiveModel(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.modelID, nil
}

// Version reports the current index version, "" when empty.
func (ix *MemoryIndex) Version() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.version
}

func (ix *MemoryIndex) Close() {}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
