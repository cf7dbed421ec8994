// Package chunkcache persists document chunks, chunk embeddings and
// document metadata in the shared key-value store. Cache validity is tied
// to a content hash: a digest mismatch is a miss, not an error, and every
// store I/O failure degrades to no-cache behavior so the pipeline can
// always recompute from source.
package chunkcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/db"
	"github.com/kailas-cloud/hyrag/internal/domain"
)

// store is the consumer interface for the cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Cache is the persistent chunk/embedding cache.
type Cache struct {
	store      store
	prefix     string
	cacheTotal *prometheus.CounterVec // label "result": "hit"/"miss"; may be nil
	logger     *zap.Logger
}

// New creates a cache over the given store. prefix namespaces all keys.
func New(s store, prefix string, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	return &Cache{store: s, prefix: prefix, cacheTotal: cacheTotal, logger: logger}
}

// HashBytes returns the stable content fingerprint of raw bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashText returns the stable content fingerprint of a text.
func HashText(text string) string {
	return HashBytes([]byte(text))
}

// chunkRecord is the stored form of a document's chunk list.
type chunkRecord struct {
	Chunks      []string `json:"chunks"`
	ChunkCount  int      `json:"chunk_count"`
	ContentHash string   `json:"content_hash"`
	CachedAt    string   `json:"cached_at"`
	Timestamp   int64    `json:"timestamp"`
}

// DocumentMeta is cached per-document metadata.
type DocumentMeta struct {
	DisplayName string `json:"display_name"`
	Extension   string `json:"extension"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
	ChunkCount  int    `json:"chunk_count"`
	Timestamp   int64  `json:"timestamp"`
}

// Stats summarizes cache contents.
type Stats struct {
	CachedDocuments  int `json:"cached_documents"`
	CachedEmbeddings int `json:"cached_embeddings"`
	CachedMetadata   int `json:"cached_metadata"`
}

func (c *Cache) chunksKey(docID string) string { return c.prefix + "chunks:" + docID }
func (c *Cache) embKey(chunkID string) string  { return c.prefix + "emb:" + chunkID }
func (c *Cache) metaKey(docID string) string   { return c.prefix + "docmeta:" + docID }

// PutChunks stores a document's chunk list keyed by its content digest.
// Persistence failures are logged and swallowed: the cache is an
// optimization, never a source of truth.
func (c *Cache) PutChunks(ctx context.Context, docID string, chunks []string, digest string) {
	now := time.Now()
	rec := chunkRecord{
		Chunks:      chunks,
		ChunkCount:  len(chunks),
		ContentHash: digest,
		CachedAt:    now.Format(time.RFC3339),
		Timestamp:   now.Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("Failed to encode chunk record", zap.String("doc_id", docID), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, c.chunksKey(docID), data); err != nil {
		c.logger.Warn("Failed to cache chunks",
			zap.String("doc_id", docID), zap.Error(fmt.Errorf("%w: %w", domain.ErrCacheIO, err)))
	}
}

// GetChunks returns the cached chunk list for a document. A non-empty
// digest must match the digest stored at PutChunks time; any mismatch,
// absence or I/O failure is a miss.
func (c *Cache) GetChunks(ctx context.Context, docID, digest string) ([]string, bool) {
	data, err := c.store.Get(ctx, c.chunksKey(docID))
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to read cached chunks", zap.String("doc_id", docID), zap.Error(err))
		}
		return nil, false
	}

	var rec chunkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("Corrupt chunk record", zap.String("doc_id", docID), zap.Error(err))
		return nil, false
	}

	if digest != "" && rec.ContentHash != digest {
		c.logger.Debug("Chunk cache invalid: hash mismatch", zap.String("doc_id", docID))
		return nil, false
	}

	return rec.Chunks, true
}

// PutEmbeddings stores chunk embeddings. Empty vectors (placeholders from
// a failed provider batch) are skipped.
func (c *Cache) PutEmbeddings(ctx context.Context, embeddings map[string][]float32) {
	for chunkID, vec := range embeddings {
		if len(vec) == 0 {
			continue
		}
		if err := c.store.Set(ctx, c.embKey(chunkID), vectorToBytes(vec)); err != nil {
			c.logger.Warn("Failed to cache embedding", zap.String("chunk_id", chunkID), zap.Error(err))
		}
	}
}

// GetEmbeddings returns the cached subset of the requested embeddings.
// Callers compute the rest themselves.
func (c *Cache) GetEmbeddings(ctx context.Context, chunkIDs []string) map[string][]float32 {
	found := make(map[string][]float32, len(chunkIDs))
	for _, chunkID := range chunkIDs {
		data, err := c.store.Get(ctx, c.embKey(chunkID))
		if err != nil {
			if !errors.Is(err, db.ErrKeyNotFound) {
				c.logger.Warn("Failed to read cached embedding",
					zap.String("chunk_id", chunkID), zap.Error(err))
			}
			c.incCache("miss")
			continue
		}
		vec, err := bytesToVector(data)
		if err != nil {
			c.logger.Warn("Corrupt cached embedding", zap.String("chunk_id", chunkID), zap.Error(err))
			c.incCache("miss")
			continue
		}
		found[chunkID] = vec
		c.incCache("hit")
	}
	return found
}

// PutDocumentMeta stores per-document metadata.
func (c *Cache) PutDocumentMeta(ctx context.Context, docID string, meta DocumentMeta) {
	meta.Timestamp = time.Now().Unix()
	data, err := json.Marshal(meta)
	if err != nil {
		c.logger.Warn("Failed to encode document meta", zap.String("doc_id", docID), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, c.metaKey(docID), data); err != nil {
		c.logger.Warn("Failed to cache document meta", zap.String("doc_id", docID), zap.Error(err))
	}
}

// GetDocumentMeta returns cached per-document metadata.
func (c *Cache) GetDocumentMeta(ctx context.Context, docID string) (DocumentMeta, bool) {
	data, err := c.store.Get(ctx, c.metaKey(docID))
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to read document meta", zap.String("doc_id", docID), zap.Error(err))
		}
		return DocumentMeta{}, false
	}
	var meta DocumentMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		c.logger.Warn("Corrupt document meta", zap.String("doc_id", docID), zap.Error(err))
		return DocumentMeta{}, false
	}
	return meta, true
}

// Clear removes one document's chunks, its embeddings (matched by
// chunk-id prefix) and metadata.
func (c *Cache) Clear(ctx context.Context, docID string) {
	c.del(ctx, c.chunksKey(docID))
	c.del(ctx, c.metaKey(docID))

	pattern := c.embKey(domain.ChunkKeyPrefix(docID)) + "*"
	keys, err := c.store.Scan(ctx, pattern)
	if err != nil {
		c.logger.Warn("Failed to scan embeddings for clear", zap.String("doc_id", docID), zap.Error(err))
		return
	}
	for _, key := range keys {
		c.del(ctx, key)
	}
}

// ClearAll wipes every cache entry under the configured prefix.
func (c *Cache) ClearAll(ctx context.Context) {
	keys, err := c.store.Scan(ctx, c.prefix+"*")
	if err != nil {
		c.logger.Warn("Failed to scan cache for clear", zap.Error(err))
		return
	}
	for _, key := range keys {
		c.del(ctx, key)
	}
}

// Stats counts cached documents, embeddings and metadata records.
func (c *Cache) Stats(ctx context.Context) Stats {
	return Stats{
		CachedDocuments:  c.count(ctx, c.prefix+"chunks:*"),
		CachedEmbeddings: c.count(ctx, c.prefix+"emb:*"),
		CachedMetadata:   c.count(ctx, c.prefix+"docmeta:*"),
	}
}

// EvictOlderThan removes chunk and metadata records older than maxAge.
// Embeddings for evicted documents are cleared along with them. Returns
// the number of evicted documents.
func (c *Cache) EvictOlderThan(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).Unix()
	keys, err := c.store.Scan(ctx, c.prefix+"chunks:*")
	if err != nil {
		c.logger.Warn("Failed to scan cache for eviction", zap.Error(err))
		return 0
	}

	evicted := 0
	for _, key := range keys {
		data, err := c.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec chunkRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.Timestamp >= cutoff {
			continue
		}
		docID := key[len(c.prefix)+len("chunks:"):]
		c.Clear(ctx, docID)
		evicted++
	}
	return evicted
}

func (c *Cache) del(ctx context.Context, key string) {
	if err := c.store.Del(ctx, key); err != nil {
		c.logger.Warn("Failed to delete cache key", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) count(ctx context.Context, pattern string) int {
	keys, err := c.store.Scan(ctx, pattern)
	if err != nil {
		c.logger.Warn("Failed to count cache keys", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	return len(keys)
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
