package chi

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// ClearEmbeddings handles POST /v1/admin/embeddings/clear. Wipes every
// cached chunk, embedding and metadata record along with the local
// vector index. Blob storage is untouched; a rebuild re-ingests from it.
func (s *Server) ClearEmbeddings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	before := s.cache.Stats(ctx)
	s.cache.ClearAll(ctx)
	if s.index != nil {
		s.index.Clear(ctx)
	}

	s.logger.Info("Embedding cache and local index cleared",
		zap.Int("documents", before.CachedDocuments),
		zap.Int("embeddings", before.CachedEmbeddings),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "cleared",
		"cleared_documents":  before.CachedDocuments,
		"cleared_embeddings": before.CachedEmbeddings,
	})
}

// RebuildEmbeddings handles POST /v1/admin/embeddings/rebuild. Clears
// the caches and the local index, then re-ingests the stored corpus in
// the background. Responds immediately; progress is visible per task.
func (s *Server) RebuildEmbeddings(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		writeError(w, http.StatusServiceUnavailable, codeInternalError, "bulk loader not configured")
		return
	}
	ctx := r.Context()

	s.cache.ClearAll(ctx)
	if s.index != nil {
		s.index.Clear(ctx)
	}

	// The rebuild outlives the request.
	go func() {
		queued, err := s.loader.LoadAll(context.Background())
		if err != nil {
			s.logger.Error("Rebuild failed", zap.Error(err))
			return
		}
		s.logger.Info("Rebuild finished", zap.Int("documents", queued))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebuilding"})
}
