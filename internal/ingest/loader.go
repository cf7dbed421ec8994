package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/domain"
	"github.com/kailas-cloud/hyrag/internal/storage"
)

// Loader bulk-loads the pre-existing blob corpus at startup. Documents go
// through the normal pipeline queue in batches with a join barrier between
// them, capping peak pressure on the embedding provider.
type Loader struct {
	blobs     storage.Blobs
	pipeline  *Pipeline
	batchSize int
	logger    *zap.Logger
}

// NewLoader creates a bulk loader over the pipeline.
func NewLoader(blobs storage.Blobs, pipeline *Pipeline, batchSize int, logger *zap.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Loader{blobs: blobs, pipeline: pipeline, batchSize: batchSize, logger: logger}
}

// LoadAll enqueues every stored blob in batches, waiting for each batch to
// reach a terminal state before starting the next. In-flight duplicates
// are skipped. Returns the number of documents enqueued.
func (l *Loader) LoadAll(ctx context.Context) (int, error) {
	blobs, err := l.blobs.List(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for start := 0; start < len(blobs); start += l.batchSize {
		end := start + l.batchSize
		if end > len(blobs) {
			end = len(blobs)
		}

		var taskIDs []string
		for _, b := range blobs[start:end] {
			doc := DocumentFromBlob(b)
			taskID, err := l.pipeline.Enqueue(doc)
			if err != nil {
				if errors.Is(err, ErrAlreadyInFlight) {
					l.logger.Debug("Skipping in-flight document", zap.String("doc_id", doc.ID))
					continue
				}
				return enqueued, err
			}
			taskIDs = append(taskIDs, taskID)
			enqueued++
		}

		if err := l.waitBatch(ctx, taskIDs); err != nil {
			return enqueued, err
		}
	}

	l.logger.Info("Bulk load finished", zap.Int("documents", enqueued))
	return enqueued, nil
}

// waitBatch is the join barrier: blocks until every task in the batch is
// terminal or ctx expires.
func (l *Loader) waitBatch(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	pending := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		pending[id] = struct{}{}
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for id := range pending {
				task, err := l.pipeline.Task(id)
				if err != nil || task.Status.Terminal() {
					delete(pending, id)
				}
			}
		}
	}
	return nil
}

// DocumentFromBlob derives the document identity from a stored blob. The
// id is the file name without its extension, matching chunk ids produced
// at ingestion time.
func DocumentFromBlob(b storage.BlobInfo) domain.Document {
	ext := strings.ToLower(filepath.Ext(b.Name))
	return domain.Document{
		ID:          strings.TrimSuffix(b.Name, filepath.Ext(b.Name)),
		DisplayName: b.Name,
		Extension:   ext,
		Size:        b.Size,
		Uploaded:    b.Modified,
	}
}
