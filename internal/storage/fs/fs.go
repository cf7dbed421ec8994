// Package fs is the filesystem implementation of the blob store. Blobs
// are plain files under a root directory; names are flattened to their
// base element so a crafted name can never escape the root.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/hyrag/internal/storage"
)

// Store keeps blobs as files under root.
type Store struct {
	root string
}

var _ storage.Blobs = (*Store)(nil)

// New creates the root directory if needed and returns the store.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, filepath.Base(name))
}

// List implements storage.Blobs.
func (s *Store) List(_ context.Context) ([]storage.BlobInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read blob root: %w", err)
	}

	infos := make([]storage.BlobInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, storage.BlobInfo{
			Name:     e.Name(),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
	}
	return infos, nil
}

// Upload implements storage.Blobs. The blob is written to a temp file and
// renamed so readers never see a partial write.
func (s *Store) Upload(_ context.Context, name string, r io.Reader) (storage.BlobInfo, error) {
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return storage.BlobInfo{}, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return storage.BlobInfo{}, fmt.Errorf("write blob %s: %w", name, err)
	}

	dst := s.path(name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return storage.BlobInfo{}, fmt.Errorf("finalize blob %s: %w", name, err)
	}

	fi, err := os.Stat(dst)
	if err != nil {
		return storage.BlobInfo{}, fmt.Errorf("stat blob %s: %w", name, err)
	}
	return storage.BlobInfo{Name: filepath.Base(name), Size: size, Modified: fi.ModTime()}, nil
}

// Download implements storage.Blobs.
func (s *Store) Download(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrBlobNotFound, name)
		}
		return nil, fmt.Errorf("open blob %s: %w", name, err)
	}
	return f, nil
}

// Delete implements storage.Blobs. Deleting a missing blob is not an error.
func (s *Store) Delete(_ context.Context, name string) error {
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}
