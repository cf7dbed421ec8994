// Package storage abstracts the document blob store the ingestion
// pipeline reads from and the upload handler writes to.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBlobNotFound is returned when the requested blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobInfo describes one stored document blob.
type BlobInfo struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Blobs is the document blob store.
type Blobs interface {
	List(ctx context.Context) ([]BlobInfo, error)
	Upload(ctx context.Context, name string, r io.Reader) (BlobInfo, error)
	Download(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}
