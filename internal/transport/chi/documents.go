package chi

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/domain"
	"github.com/kailas-cloud/hyrag/internal/ingest"
)

// maxUploadBytes caps multipart document uploads.
const maxUploadBytes = 32 << 20 // 32 MiB

type documentResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Size        int64     `json:"size"`
	Uploaded    time.Time `json:"uploaded"`
	ChunkCount  int       `json:"chunk_count,omitempty"`
}

// UploadDocument handles POST /v1/documents: stores the multipart file in
// blob storage and enqueues ingestion. Returns 202 with the task id.
func (s *Server) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid multipart body: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "file name is required")
		return
	}

	info, err := s.blobs.Upload(r.Context(), name, file)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	doc := ingest.DocumentFromBlob(info)
	taskID, err := s.pipeline.Enqueue(doc)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id":     taskID,
		"document_id": doc.ID,
	})
}

// ListDocuments handles GET /v1/documents: merges blob listing with cached
// per-document metadata.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	blobs, err := s.blobs.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]documentResponse, 0, len(blobs))
	for _, b := range blobs {
		doc := ingest.DocumentFromBlob(b)
		item := documentResponse{
			ID:          doc.ID,
			DisplayName: doc.DisplayName,
			Size:        doc.Size,
			Uploaded:    doc.Uploaded,
		}
		if meta, ok := s.cache.GetDocumentMeta(r.Context(), doc.ID); ok {
			item.ChunkCount = meta.ChunkCount
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

// DeleteDocument handles DELETE /v1/documents/{id}: removes the blob, the
// cached chunks/embeddings and the remote datapoints. Local index entries
// stay until the next restart rebuild; stale hits are filtered by score.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	blobs, err := s.blobs.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	var blobName string
	for _, b := range blobs {
		if strings.TrimSuffix(b.Name, filepath.Ext(b.Name)) == id {
			blobName = b.Name
			break
		}
	}
	if blobName == "" {
		s.handleDomainError(w, domain.ErrDocumentNotFound)
		return
	}

	if err := s.blobs.Delete(r.Context(), blobName); err != nil {
		s.handleDomainError(w, err)
		return
	}
	s.cache.Clear(r.Context(), id)
	if s.remote != nil {
		if _, err := s.remote.Remove(r.Context(), domain.ChunkKeyPrefix(id)); err != nil {
			s.logger.Warn("Failed to remove remote datapoints", zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetTask handles GET /v1/tasks/{id}.
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.pipeline.Task(id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp := map[string]any{
		"id":            task.ID,
		"document_id":   task.DocumentID,
		"status":        task.Status,
		"progress":      task.Progress,
		"chunk_count":   task.ChunkCount,
		"enqueued_at":   task.EnqueuedAt,
		"eta_seconds":   int(ingest.EstimateRemaining(task.Progress).Seconds()),
	}
	if task.ErrorMessage != "" {
		resp["error_message"] = task.ErrorMessage
	}
	if !task.FinishedAt.IsZero() {
		resp["finished_at"] = task.FinishedAt
	}

	writeJSON(w, http.StatusOK, resp)
}
