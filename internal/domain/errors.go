package domain

import "errors"

var (
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrTaskNotFound signals a missing processing task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrUnsupportedFileType signals a document extension the extractor cannot handle.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrExtraction signals an unreadable or corrupt document.
	ErrExtraction = errors.New("text extraction failed")
	// ErrEmbeddingProvider signals an embedding provider failure or malformed response.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrIndexTraining signals an approximate-index training failure.
	// Recovered by downgrading to a flat index, never fatal.
	ErrIndexTraining = errors.New("index training failed")
	// ErrRemoteSearchUnavailable signals that the remote vector search
	// service is not deployed, not ready, or failed to answer.
	ErrRemoteSearchUnavailable = errors.New("remote search unavailable")
	// ErrCacheIO signals a cache persistence failure. Callers degrade to
	// no-cache behavior rather than propagating it.
	ErrCacheIO = errors.New("cache i/o error")
	// ErrRetrievalUnavailable signals that every retrieval path of a query
	// failed. The one condition fatal to the query caller.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrInvalidConfig signals a rejected retrieval config update.
	ErrInvalidConfig = errors.New("invalid retrieval config")
)
