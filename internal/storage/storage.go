// Package storage persists documents and their embedded chunks. The
// primary store is a local SQLite database holding both rows and embedding
// vectors; an optional vector index (Qdrant) can mirror the vectors for
// approximate search at larger corpus sizes. Writes always land in SQLite
// first — the index is a mirror, never the source of truth.
package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document with the requested ID does not exist.
var ErrNotFound = errors.New("storage: document not found")

// ValidationError marks a rejected write: mismatched chunk/embedding counts,
// inconsistent vector dimensions, or missing required fields.
type ValidationError struct {
	// Reason describes what was wrong with the input.
	Reason string
}

func (e *ValidationError) Error() string {
	return "storage: invalid input: " + e.Reason
}

// DegradedError marks a replace operation that removed the old chunks but
// failed to write the new ones, leaving the document without chunks.
type DegradedError struct {
	// DocumentID is the document left without chunks.
	DocumentID string
	// Err is the failure that interrupted the replace.
	Err error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("storage: document %s left without chunks: %v", e.DocumentID, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// Document is a stored source document. Chunks reference it by ID.
type Document struct {
	// ID is the document's unique identifier (UUID).
	ID string `json:"id"`
	// Title is the human-readable document title.
	Title string `json:"title"`
	// Content is the full original text.
	Content string `json:"content"`
	// Metadata holds caller-supplied key/value annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Version starts at 1 and increments on every update.
	Version int `json:"version"`
	// CreatedAt is when the document was first stored.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the document was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentUpdate describes a partial document update. Nil fields are left
// unchanged; Metadata is shallow-merged into the existing metadata.
type DocumentUpdate struct {
	// Title replaces the document title when non-nil.
	Title *string
	// Content replaces the document content when non-nil.
	Content *string
	// Metadata entries are merged over the existing metadata.
	Metadata map[string]string
}

// Chunk is one embedded slice of a document.
type Chunk struct {
	// ID is the chunk's unique identifier (UUID).
	ID string `json:"id"`
	// DocumentID is the owning document.
	DocumentID string `json:"document_id"`
	// Index is the chunk's position within the document, starting at 0.
	Index int `json:"chunk_index"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Embedding is the chunk's vector representation.
	Embedding []float32 `json:"-"`
	// Metadata holds chunk-level annotations, including entries the
	// gateway injects (document_id, chunk_index, title).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match is a chunk returned from a similarity search.
type Match struct {
	// Chunk is the matched chunk.
	Chunk
	// Similarity is the cosine similarity to the query, in [-1, 1].
	Similarity float32 `json:"similarity"`
}
