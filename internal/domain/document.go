package domain

import (
	"fmt"
	"time"
)

// Document is an uploaded file awaiting or past ingestion. Immutable once
// ingested; re-ingestion supersedes it rather than mutating it.
type Document struct {
	ID          string
	DisplayName string
	Extension   string // lowercased, with leading dot: ".txt"
	Size        int64
	Uploaded    time.Time
}

// ChunkID derives the stable identifier of a document's chunk.
// Deterministic in (docID, ordinal) so re-chunking unchanged content with
// unchanged parameters reproduces the same ids.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("file_%s_chunk_%d", docID, ordinal)
}

// ChunkKeyPrefix returns the prefix shared by all chunk ids of a document.
// Used to clear a document's embeddings from the cache.
func ChunkKeyPrefix(docID string) string {
	return fmt.Sprintf("file_%s_chunk_", docID)
}

// Chunk is a fixed-size overlapping slice of a document's extracted text,
// the unit of retrieval.
type Chunk struct {
	ID   string
	Text string
}
