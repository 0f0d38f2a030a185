package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBuildInProgress is returned when a rebuild is requested while another
// rebuild holds the writer lock.
var ErrBuildInProgress = errors.New("index build already in progress")

// InvalidDocumentError marks a document the chunker cannot use. Not retried.
type InvalidDocumentError struct {
	DocumentID string
	Reason     string
}

func (e *InvalidDocumentError) Error() string {
	return fmt.Sprintf("invalid document %q: %s", e.DocumentID, e.Reason)
}

// EmbeddingServiceError reports chunks that could not be embedded after the
// configured retries. Callers decide whether to skip them or abort the build.
type EmbeddingServiceError struct {
	ChunkIDs []string
	Err      error
}

func (e *EmbeddingServiceError) Error() string {
	return fmt.Sprintf("embedding failed for %d chunk(s) [%s]: %v",
		len(e.ChunkIDs), strings.Join(e.ChunkIDs, ", "), e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// IndexWriteError aborts an in-progress rebuild; the previously active index
// version stays intact.
type IndexWriteError struct {
	Err error
}

func (e *IndexWriteError) Error() string { return fmt.Sprintf("index write failed: %v", e.Err) }

func (e *IndexWriteError) Unwrap() error { return e.Err }

// EmptyIndexError is a query-time precondition failure: the active index holds
// no entries.
type EmptyIndexError struct {
	Collection string
}

func (e *EmptyIndexError) Error() string {
	if e.Collection == "" {
		return "index is empty"
	}
	return fmt.Sprintf("index %q is empty", e.Collection)
}

// ModelMismatchError means the query embedding model differs from the model
// the active index was built with. Surfaced immediately instead of returning
// silently degraded scores.
type ModelMismatchError struct {
	Want string
	Got  string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("index built with embedding model %q, query uses %q", e.Want, e.Got)
}

// GenerationServiceError wraps a failure of the generation provider, distinct
// from retrieval failures so callers can tell "nothing found" apart from
// "found but could not answer".
type GenerationServiceError struct {
	Err error
}

func (e *GenerationServiceError) Error() string { return fmt.Sprintf("generation failed: %v", e.Err) }

func (e *GenerationServiceError) Unwrap() error { return e.Err }
