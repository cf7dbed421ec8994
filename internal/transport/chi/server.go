// Package chi is the HTTP transport: a chi router over the ingestion
// pipeline, blob storage and the retrieval orchestrator.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/domain"
	"github.com/kailas-cloud/hyrag/internal/ingest"
	"github.com/kailas-cloud/hyrag/internal/repository/chunkcache"
	"github.com/kailas-cloud/hyrag/internal/repository/remote"
	"github.com/kailas-cloud/hyrag/internal/storage"
	retrievaluc "github.com/kailas-cloud/hyrag/internal/usecase/retrieval"
)

// Error codes returned to clients.
const (
	codeBadRequest         = "bad_request"
	codeValidationFailed   = "validation_failed"
	codeDocumentNotFound   = "document_not_found"
	codeTaskNotFound       = "task_not_found"
	codeUnsupportedType    = "unsupported_file_type"
	codeAlreadyInFlight    = "document_in_flight"
	codeQueueFull          = "queue_full"
	codeEmbeddingProvider  = "embedding_provider_error"
	codeRemoteUnavailable  = "remote_search_unavailable"
	codeRetrievalDown      = "retrieval_unavailable"
	codeInternalError      = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// localIndex is the consumer interface for admin resets of the local
// vector index (ISP).
type localIndex interface {
	Clear(ctx context.Context)
}

// bulkLoader re-ingests the whole stored corpus (ISP).
type bulkLoader interface {
	LoadAll(ctx context.Context) (int, error)
}

// Server is the HTTP API server.
type Server struct {
	blobs         storage.Blobs
	pipeline      *ingest.Pipeline
	cache         *chunkcache.Cache
	retrieval     *retrievaluc.Service
	remote        *remote.Searcher
	index         localIndex
	loader        bulkLoader
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates the HTTP API server.
func NewServer(
	blobs storage.Blobs,
	pipeline *ingest.Pipeline,
	cache *chunkcache.Cache,
	retrieval *retrievaluc.Service,
	rem *remote.Searcher,
	ix localIndex,
	loader bulkLoader,
	logger *zap.Logger,
) *Server {
	s := &Server{
		blobs:     blobs,
		pipeline:  pipeline,
		cache:     cache,
		retrieval: retrieval,
		remote:    rem,
		index:     ix,
		loader:    loader,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(storage.ErrBlobNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrTaskNotFound, http.StatusNotFound, codeTaskNotFound),
		sentinelHandler(domain.ErrUnsupportedFileType, http.StatusBadRequest, codeUnsupportedType),
		sentinelHandler(domain.ErrInvalidConfig, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(ingest.ErrAlreadyInFlight, http.StatusConflict, codeAlreadyInFlight),
		sentinelHandler(ingest.ErrQueueFull, http.StatusTooManyRequests, codeQueueFull),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, codeEmbeddingProvider),
		sentinelHandler(domain.ErrRemoteSearchUnavailable, http.StatusServiceUnavailable, codeRemoteUnavailable),
		sentinelHandler(domain.ErrRetrievalUnavailable, http.StatusServiceUnavailable, codeRetrievalDown),
	}
	return s
}

// Routes mounts all handlers on a fresh router. Middleware is attached by
// the caller.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", s.UploadDocument)
		r.Get("/documents", s.ListDocuments)
		r.Delete("/documents/{id}", s.DeleteDocument)
		r.Get("/tasks/{id}", s.GetTask)
		r.Post("/search", s.SearchChunks)
		r.Get("/retrieval/stats", s.RetrievalStats)
		r.Get("/retrieval/config", s.GetRetrievalConfig)
		r.Patch("/retrieval/config", s.PatchRetrievalConfig)
		r.Post("/admin/embeddings/clear", s.ClearEmbeddings)
		r.Post("/admin/embeddings/rebuild", s.RebuildEmbeddings)
	})
	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// HealthCheck handles GET /healthz. Degraded when neither retrieval path
// is available.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := s.retrieval.Health(r.Context())

	status := "ok"
	httpStatus := http.StatusOK
	if !health.HybridAvailable {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": health,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}

// safeDomainMessage returns a sentinel error message for the client
// without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrTaskNotFound,
		domain.ErrUnsupportedFileType,
		domain.ErrInvalidConfig,
		domain.ErrEmbeddingProvider,
		domain.ErrRemoteSearchUnavailable,
		domain.ErrRetrievalUnavailable,
		ingest.ErrAlreadyInFlight,
		ingest.ErrQueueFull,
		storage.ErrBlobNotFound,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
