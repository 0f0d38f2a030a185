package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/deskhq/ragline/internal/models"
)

type ChunkerConfig struct {
	ChunkSize       int // maximum chunk length in bytes
	ChunkOverlap    int // bytes shared between adjacent chunks
	MaxDocumentSize int // hard ceiling on raw text length, 0 disables
}

type Chunker struct {
	config ChunkerConfig
}

func NewWithConfig(config ChunkerConfig) Chunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}

	return Chunker{config: config}
}

// Chunk splits a document into overlapping segments. Cut points prefer
// paragraph breaks, then sentence ends, then word boundaries, then a hard cut
// aligned to a rune start. Each chunk text is the exact slice
// RawText[Start:End], so identical input and configuration always produce the
// identical sequence.
func (c *Chunker) Chunk(doc models.Document) ([]models.Chunk, error) {
	raw := doc.RawText

	if strings.TrimSpace(raw) == "" {
		return nil, &models.InvalidDocumentError{DocumentID: doc.ID, Reason: "raw text is empty"}
	}
	if c.config.MaxDocumentSize > 0 && len(raw) > c.config.MaxDocumentSize {
		return nil, &models.InvalidDocumentError{
			DocumentID: doc.ID,
			Reason:     fmt.Sprintf("raw text is %d bytes, ceiling is %d", len(raw), c.config.MaxDocumentSize),
		}
	}

	if len(raw) <= c.config.ChunkSize {
		return []models.Chunk{c.newChunk(doc, 0, 0, len(raw))}, nil
	}

	var chunks []models.Chunk
	start := 0
	for idx := 0; start < len(raw); idx++ {
		end := start + c.config.ChunkSize
		if end >= len(raw) {
			end = len(raw)
		} else {
			end = cutPoint(raw, start, end)
		}

		chunks = append(chunks, c.newChunk(doc, idx, start, end))

		if end >= len(raw) {
			break
		}

		next := end - c.config.ChunkOverlap
		if next <= start {
			next = end
		}
		// Never start mid-rune after stepping back for overlap.
		for next < len(raw) && !utf8.RuneStart(raw[next]) {
			next++
		}
		start = next
	}

	return chunks, nil
}

func (c *Chunker) newChunk(doc models.Document, idx, start, end int) models.Chunk {
	meta := map[string]interface{}{
		"document_id": doc.ID,
		"source_uri":  doc.SourceURI,
		"title":       doc.Title,
		"chunk_index": idx,
	}
	for k, v := range doc.Metadata {
		meta[k] = v
	}

	return models.Chunk{
		ID:         fmt.Sprintf("%s:%04d", doc.ID, idx),
		DocumentID: doc.ID,
		Text:       doc.RawText[start:end],
		Start:      start,
		End:        end,
		Metadata:   meta,
	}
}

var sentenceEnders = []string{". ", ".\n", "! ", "!\n", "? ", "?\n", "。", "．"}

// cutPoint picks the best boundary in (start, limit]. The returned index is
// always > start so progress is guaranteed.
func cutPoint(raw string, start, limit int) int {
	window := raw[start:limit]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return start + i + 2
	}

	best := -1
	for _, ender := range sentenceEnders {
		if i := strings.LastIndex(window, ender); i > 0 && i+len(ender) > best {
			best = i + len(ender)
		}
	}
	if best > 0 {
		return start + best
	}

	if i := strings.LastIndexByte(window, '\n'); i > 0 {
		return start + i + 1
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return start + i + 1
	}

	// Hard cut on an unbroken run, aligned to a rune start.
	for limit > start+1 && !utf8.RuneStart(raw[limit]) {
		limit--
	}
	return limit
}
