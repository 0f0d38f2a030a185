package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhq/ragline/pkg/store"
)

// These tests need a PostgreSQL instance with the pgvector extension; set
// RAGLINE_TEST_DATABASE_URL to run them.
func pgTestIndex(t *testing.T) *store.PgIndex {
	t.Helper()

	dsn := os.Getenv("RAGLINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RAGLINE_TEST_DATABASE_URL not set")
	}

	ix, err := store.NewPgIndex(context.Background(), store.PgIndexConfig{
		ConnString: dsn,
		BaseTable:  "ragline_chunks_test",
		VectorDim:  4,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ix.DeleteAll(context.Background())
		ix.Close()
	})
	return ix
}

func TestPgIndexRebuildSwapAndSearch(t *testing.T) {
	ctx := context.Background()
	ix := pgTestIndex(t)

	_, err := ix.Rebuild(ctx, "model-a", entriesWithPrefix("old", 3, []float32{1, 0, 0, 0}))
	require.NoError(t, err)

	version, err := ix.Rebuild(ctx, "model-a", entriesWithPrefix("new", 2, []float32{0, 1, 0, 0}))
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := ix.Search(ctx, []float32{0, 1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, r.ChunkID, "new:")
	}
}

func TestPgIndexDeleteAllIdempotent(t *testing.T) {
	ctx := context.Background()
	ix := pgTestIndex(t)

	_, err := ix.Rebuild(ctx, "model-a", entriesWithPrefix("a", 2, []float32{1, 0, 0, 0}))
	require.NoError(t, err)

	require.NoError(t, ix.DeleteAll(ctx))
	require.NoError(t, ix.DeleteAll(ctx))

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPgIndexRejectsBadTableName(t *testing.T) {
	_, err := store.NewPgIndex(context.Background(), store.PgIndexConfig{
		ConnString: "postgres://ignored",
		BaseTable:  "chunks; DROP TABLE users",
	})
	require.Error(t, err)
}
