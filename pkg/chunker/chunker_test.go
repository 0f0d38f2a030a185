package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhq/ragline/internal/models"
	"github.com/deskhq/ragline/pkg/chunker"
)

func testDoc(id, text string) models.Document {
	return models.Document{
		ID:        id,
		SourceURI: "file://" + id,
		Title:     id,
		RawText:   text,
	}
}

func paragraphs(n int) string {
	p := strings.Repeat("alpha ", 13) // 78 chars
	parts := make([]string, n)
	for i := range parts {
		parts[i] = p
	}
	return strings.Join(parts, "\n\n")
}

func TestChunkDeterministic(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 100, ChunkOverlap: 20})
	doc := testDoc("doc1", paragraphs(4))

	first, err := c.Chunk(doc)
	require.NoError(t, err)
	second, err := c.Chunk(doc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestChunkCoverage(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 120, ChunkOverlap: 30})
	doc := testDoc("doc1", paragraphs(8))

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(doc.RawText), chunks[len(chunks)-1].End)

	for i, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 120, "chunk %d exceeds size", i)
		assert.Equal(t, doc.RawText[ch.Start:ch.End], ch.Text)
		if i > 0 {
			prev := chunks[i-1]
			assert.LessOrEqual(t, ch.Start, prev.End, "gap before chunk %d", i)
			assert.Greater(t, ch.Start, prev.Start, "no progress at chunk %d", i)
		}
	}
}

func TestChunkSmallDocumentSingleChunk(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 200})
	doc := testDoc("doc1", "A short note.")

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "doc1:0000", chunks[0].ID)
	assert.Equal(t, doc.RawText, chunks[0].Text)
}

func TestChunkParagraphBoundaries(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 100, ChunkOverlap: 0})

	chunks, err := c.Chunk(testDoc("doc1", paragraphs(3)))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	chunks, err = c.Chunk(testDoc("doc2", paragraphs(2)))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}

func TestChunkUnbrokenRunFallsBackToHardCuts(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 20})
	doc := testDoc("doc1", strings.Repeat("a", 2500))

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 1000)
	}
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 2500, chunks[len(chunks)-1].End)
	// Hard cuts land exactly on the size limit, so overlap is exact too.
	assert.Equal(t, 1000, chunks[0].End)
	assert.Equal(t, 980, chunks[1].Start)
}

func TestChunkEmptyDocument(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 100})

	_, err := c.Chunk(testDoc("doc1", "   \n\t"))
	var invalidErr *models.InvalidDocumentError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, "doc1", invalidErr.DocumentID)
}

func TestChunkOversizedDocument(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 100, MaxDocumentSize: 500})

	_, err := c.Chunk(testDoc("doc1", strings.Repeat("x", 501)))
	var invalidErr *models.InvalidDocumentError
	require.ErrorAs(t, err, &invalidErr)
}

func TestChunkMetadataCarriesDocumentFields(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 1000})
	doc := testDoc("doc1", "A short note.")
	doc.Metadata = map[string]interface{}{"source": "faq"}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "doc1", chunks[0].Metadata["document_id"])
	assert.Equal(t, "faq", chunks[0].Metadata["source"])
}
