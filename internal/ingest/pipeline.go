// Package ingest turns uploaded documents into chunks, embeddings and
// index entries. One dedicated worker consumes a FIFO queue serially; an
// atomic in-flight guard keeps concurrent triggers for the same document
// from duplicating embedding work.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/domain"
	"github.com/kailas-cloud/hyrag/internal/index"
	"github.com/kailas-cloud/hyrag/internal/metrics"
	"github.com/kailas-cloud/hyrag/internal/repository/chunkcache"
	"github.com/kailas-cloud/hyrag/internal/storage"
)

// Queue and guard errors surfaced to enqueue callers.
var (
	// ErrAlreadyInFlight means the document is being processed right now;
	// the caller should skip rather than retry.
	ErrAlreadyInFlight = errors.New("document already in flight")
	// ErrQueueFull means the task queue is at capacity.
	ErrQueueFull = errors.New("ingestion queue is full")
)

// localIndex is the pipeline's view of the local vector index (ISP).
type localIndex interface {
	Add(ctx context.Context, entries []index.Entry) ([]int, error)
}

// Config holds the pipeline settings.
type Config struct {
	ChunkSize     int
	ChunkOverlap  int
	QueueCapacity int
	ScratchDir    string
}

// Pipeline is the single-consumer ingestion pipeline.
type Pipeline struct {
	blobs     storage.Blobs
	extractor Extractor
	cache     *chunkcache.Cache
	embedder  domain.BatchEmbedder
	index     localIndex
	remote    domain.RemoteSearcher
	cfg       Config
	logger    *zap.Logger

	queue chan queueItem
	stop  chan struct{}
	done  chan struct{}

	mu       sync.RWMutex
	tasks    map[string]domain.ProcessingTask
	inFlight map[string]struct{}
}

type queueItem struct {
	taskID string
	doc    domain.Document
}

// New creates the pipeline. Call Start to launch the worker.
func New(
	blobs storage.Blobs,
	extractor Extractor,
	cache *chunkcache.Cache,
	embedder domain.BatchEmbedder,
	ix localIndex,
	remote domain.RemoteSearcher,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 128
	}
	return &Pipeline{
		blobs:     blobs,
		extractor: extractor,
		cache:     cache,
		embedder:  embedder,
		index:     ix,
		remote:    remote,
		cfg:       cfg,
		logger:    logger,
		queue:     make(chan queueItem, cfg.QueueCapacity),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		tasks:     make(map[string]domain.ProcessingTask),
		inFlight:  make(map[string]struct{}),
	}
}

// Start launches the worker goroutine.
func (p *Pipeline) Start() {
	go p.worker()
}

// Shutdown stops the worker and waits for the in-flight task to finish,
// bounded by ctx. Queued tasks that never ran stay PENDING.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	close(p.stop)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue creates a PENDING task for the document and appends it to the
// queue. Non-blocking: a full queue or an in-flight document returns an
// error immediately. The in-flight guard is taken here, atomically with
// the membership check, and released when the task finishes.
func (p *Pipeline) Enqueue(doc domain.Document) (string, error) {
	if !p.acquire(doc.ID) {
		metrics.IngestTasksTotal.WithLabelValues("skipped").Inc()
		return "", fmt.Errorf("%w: %s", ErrAlreadyInFlight, doc.ID)
	}

	taskID := uuid.NewString()
	task := domain.ProcessingTask{
		ID:         taskID,
		DocumentID: doc.ID,
		Status:     domain.TaskPending,
		EnqueuedAt: time.Now(),
	}

	p.mu.Lock()
	p.tasks[taskID] = task
	p.mu.Unlock()

	select {
	case p.queue <- queueItem{taskID: taskID, doc: doc}:
		return taskID, nil
	default:
		p.mu.Lock()
		delete(p.tasks, taskID)
		p.mu.Unlock()
		p.release(doc.ID)
		return "", ErrQueueFull
	}
}

// Task returns the current snapshot of a task.
func (p *Pipeline) Task(taskID string) (domain.ProcessingTask, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	task, ok := p.tasks[taskID]
	if !ok {
		return domain.ProcessingTask{}, domain.ErrTaskNotFound
	}
	return task, nil
}

// Tasks returns a snapshot of all known tasks.
func (p *Pipeline) Tasks() []domain.ProcessingTask {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.ProcessingTask, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, t)
	}
	return out
}

// EstimateRemaining is a coarse monotone ETA from task progress.
func EstimateRemaining(progress int) time.Duration {
	switch {
	case progress < 30:
		return 30 * time.Second
	case progress < 60:
		return 20 * time.Second
	case progress < 80:
		return 10 * time.Second
	case progress < 100:
		return 5 * time.Second
	default:
		return 0
	}
}

func (p *Pipeline) worker() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case item := <-p.queue:
			p.process(item)
			// observe shutdown between items
			select {
			case <-p.stop:
				return
			default:
			}
		}
	}
}

func (p *Pipeline) acquire(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, held := p.inFlight[docID]; held {
		return false
	}
	p.inFlight[docID] = struct{}{}
	return true
}

func (p *Pipeline) release(docID string) {
	p.mu.Lock()
	delete(p.inFlight, docID)
	p.mu.Unlock()
}

func (p *Pipeline) setTask(taskID string, mutate func(*domain.ProcessingTask)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return
	}
	mutate(&task)
	p.tasks[taskID] = task
}

// process runs one task end to end. All failures are isolated to the
// task; the worker loop itself never dies. Scratch files are removed on
// every exit path.
func (p *Pipeline) process(item queueItem) {
	ctx := context.Background()
	start := time.Now()
	doc := item.doc
	log := p.logger.With(zap.String("task_id", item.taskID), zap.String("doc_id", doc.ID))

	defer p.release(doc.ID)

	fail := func(stage string, err error) {
		log.Error("Ingestion task failed", zap.String("stage", stage), zap.Error(err))
		p.setTask(item.taskID, func(t *domain.ProcessingTask) {
			t.Status = domain.TaskError
			t.ErrorMessage = fmt.Sprintf("%s: %v", stage, err)
			t.FinishedAt = time.Now()
		})
		metrics.IngestTasksTotal.WithLabelValues("error").Inc()
	}

	p.setTask(item.taskID, func(t *domain.ProcessingTask) {
		t.Status = domain.TaskProcessing
	})

	scratch, digest, err := p.materialize(ctx, doc)
	if err != nil {
		fail("materialize", err)
		return
	}
	defer func() {
		if err := os.Remove(scratch); err != nil {
			log.Warn("Failed to remove scratch file", zap.String("path", scratch), zap.Error(err))
		}
	}()

	text, err := p.extractor.Extract(ctx, scratch, doc.Extension)
	if err != nil {
		fail("extract", err)
		return
	}
	p.setTask(item.taskID, func(t *domain.ProcessingTask) { t.Progress = 30 })

	chunks, cached := p.cache.GetChunks(ctx, doc.ID, digest)
	if !cached {
		chunks = Chunk(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	}
	p.setTask(item.taskID, func(t *domain.ProcessingTask) { t.Progress = 60 })

	if !cached {
		p.cache.PutChunks(ctx, doc.ID, chunks, digest)
	}

	embeddings, err := p.embedChunks(ctx, doc.ID, chunks)
	if err != nil {
		fail("embed", err)
		return
	}
	p.setTask(item.taskID, func(t *domain.ProcessingTask) { t.Progress = 80 })

	p.cache.PutEmbeddings(ctx, embeddings)
	p.cache.PutDocumentMeta(ctx, doc.ID, chunkcache.DocumentMeta{
		DisplayName: doc.DisplayName,
		Extension:   doc.Extension,
		Size:        doc.Size,
		ContentHash: digest,
		ChunkCount:  len(chunks),
	})

	entries := make([]index.Entry, 0, len(chunks))
	points := make([]domain.Datapoint, 0, len(chunks))
	for i, chunkText := range chunks {
		chunkID := domain.ChunkID(doc.ID, i)
		vec := embeddings[chunkID]
		if len(vec) == 0 {
			log.Warn("Skipping chunk with empty embedding", zap.String("chunk_id", chunkID))
			continue
		}
		entries = append(entries, index.Entry{
			ID:     chunkID,
			Vector: vec,
			Source: doc.DisplayName,
			Text:   chunkText,
		})
		points = append(points, domain.Datapoint{
			ID:     chunkID,
			Vector: vec,
			Text:   chunkText,
			Source: doc.DisplayName,
		})
	}

	if len(entries) > 0 {
		if _, err := p.index.Add(ctx, entries); err != nil {
			fail("index", err)
			return
		}
	}

	// Remote upsert is best-effort and asynchronous: its failure never
	// fails the task, and the service may not be ready yet.
	if p.remote != nil && len(points) > 0 {
		go func() {
			upsertCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := p.remote.Upsert(upsertCtx, points); err != nil {
				log.Warn("Remote upsert failed", zap.Error(err))
			}
		}()
	}

	p.setTask(item.taskID, func(t *domain.ProcessingTask) {
		t.Status = domain.TaskCompleted
		t.Progress = 100
		t.ChunkCount = len(chunks)
		t.FinishedAt = time.Now()
	})
	metrics.IngestTasksTotal.WithLabelValues("completed").Inc()
	metrics.IngestTaskDuration.Observe(time.Since(start).Seconds())
	log.Info("Ingestion task completed",
		zap.Int("chunks", len(chunks)),
		zap.Int("indexed", len(entries)),
		zap.Duration("duration", time.Since(start)))
}

// materialize downloads the blob to a scratch file and returns its path
// and content digest.
func (p *Pipeline) materialize(ctx context.Context, doc domain.Document) (string, string, error) {
	r, err := p.blobs.Download(ctx, doc.DisplayName)
	if err != nil {
		return "", "", fmt.Errorf("download %s: %w", doc.DisplayName, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", doc.DisplayName, err)
	}

	dir := p.cfg.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create scratch dir: %w", err)
	}
	scratch := filepath.Join(dir, doc.ID+doc.Extension)
	if err := os.WriteFile(scratch, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write scratch file: %w", err)
	}

	return scratch, chunkcache.HashBytes(data), nil
}

// embedChunks resolves embeddings for all chunks, reusing cached vectors
// and batching the rest through the provider.
func (p *Pipeline) embedChunks(ctx context.Context, docID string, chunks []string) (map[string][]float32, error) {
	chunkIDs := make([]string, len(chunks))
	for i := range chunks {
		chunkIDs[i] = domain.ChunkID(docID, i)
	}

	embeddings := p.cache.GetEmbeddings(ctx, chunkIDs)

	var missingIDs []string
	var missingTexts []string
	for i, id := range chunkIDs {
		if _, ok := embeddings[id]; !ok {
			missingIDs = append(missingIDs, id)
			missingTexts = append(missingTexts, chunks[i])
		}
	}
	if len(missingIDs) == 0 {
		return embeddings, nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, missingTexts)
	if err != nil {
		return nil, err
	}
	for i, id := range missingIDs {
		embeddings[id] = vectors[i]
	}
	return embeddings, nil
}
