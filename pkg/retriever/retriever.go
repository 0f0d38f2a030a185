package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/deskhq/ragline/internal/models"
	"github.com/deskhq/ragline/internal/types"
)

type RetrieverConfig struct {
	// ScoreFloor drops results whose similarity falls below it. Zero keeps
	// everything. Filtering can empty the result set but never turns it into
	// an error; an empty set means "no grounding context".
	ScoreFloor float64
}

// Retriever embeds a query with the same model the active index was built
// with and runs a nearest-neighbor search against the vector store.
type Retriever struct {
	config   RetrieverConfig
	embedder types.Embedder
	index    types.VectorIndex
}

func New(config RetrieverConfig, embedder types.Embedder, index types.VectorIndex) *Retriever {
	return &Retriever{config: config, embedder: embedder, index: index}
}

func (r *Retriever) Retrieve(ctx context.Context, queryText string, k int) ([]models.RetrievalResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}

	active, err := r.index.ActiveModel(ctx)
	if err != nil {
		return nil, err
	}
	if active != "" && active != r.embedder.ModelID() {
		return nil, &models.ModelMismatchError{Want: active, Got: r.embedder.ModelID()}
	}

	n, err := r.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &models.EmptyIndexError{}
	}
	if k > n {
		k = n
	}

	vector, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, err
	}

	results, err := r.index.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	// Stores should already return this ordering; enforce it so every
	// backend behaves identically.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if r.config.ScoreFloor > 0 {
		kept := results[:0]
		for _, res := range results {
			if res.Score >= r.config.ScoreFloor {
				kept = append(kept, res)
			}
		}
		results = kept
	}
	return results, nil
}
