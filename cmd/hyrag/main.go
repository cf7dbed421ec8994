package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/config"
	dbRedis "github.com/kailas-cloud/hyrag/internal/db/redis"
	"github.com/kailas-cloud/hyrag/internal/domain"
	"github.com/kailas-cloud/hyrag/internal/index"
	"github.com/kailas-cloud/hyrag/internal/ingest"
	logpkg "github.com/kailas-cloud/hyrag/internal/logger"
	"github.com/kailas-cloud/hyrag/internal/metrics"
	"github.com/kailas-cloud/hyrag/internal/repository/chunkcache"
	remoterepo "github.com/kailas-cloud/hyrag/internal/repository/remote"
	fsstore "github.com/kailas-cloud/hyrag/internal/storage/fs"
	chiTransport "github.com/kailas-cloud/hyrag/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/hyrag/internal/transport/openai"
	retrievaluc "github.com/kailas-cloud/hyrag/internal/usecase/retrieval"
	"github.com/kailas-cloud/hyrag/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting hyrag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.Register()

	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	cache := chunkcache.New(store, cfg.Cache.KeyPrefix, metrics.EmbeddingCacheTotal, logger)

	localIndex := index.New(ctx, store, cfg.Index.KeyPrefix, index.Options{
		UpgradeThreshold: cfg.Index.UpgradeThreshold,
		NProbe:           cfg.Index.NProbe,
		TrainIterations:  cfg.Index.TrainIterations,
	}, metrics.LocalIndexSize, logger)
	logger.Info("Local index ready",
		zap.Int("vectors", localIndex.Stats().Count),
		zap.String("kind", localIndex.Stats().Kind),
	)

	remote := remoterepo.New(store, remoterepo.Config{
		IndexName:       cfg.Remote.IndexName,
		KeyPrefix:       cfg.Remote.KeyPrefix,
		Dimensions:      cfg.Embedding.Dimensions,
		HNSWM:           cfg.Remote.HNSWM,
		HNSWEFConstruct: cfg.Remote.HNSWEFConstruct,
	}, logger)
	if err := remote.EnsureIndex(ctx); err != nil {
		// Remote search degrades to unavailable; local retrieval still works.
		logger.Warn("Remote index unavailable", zap.Error(err))
	}

	blobs, err := fsstore.New(cfg.Storage.RootDir)
	if err != nil {
		logger.Fatal("Failed to open blob storage", zap.Error(err))
	}

	pipeline := ingest.New(
		blobs,
		ingest.TextExtractor{},
		cache,
		embedder,
		localIndex,
		remote,
		ingest.Config{
			ChunkSize:     cfg.Ingest.ChunkSize,
			ChunkOverlap:  cfg.Ingest.ChunkOverlap,
			QueueCapacity: cfg.Ingest.QueueCapacity,
			ScratchDir:    cfg.Ingest.ScratchDir,
		},
		logger,
	)
	pipeline.Start()

	// Bulk-load the pre-existing corpus in the background.
	loader := ingest.NewLoader(blobs, pipeline, cfg.Ingest.LoadBatchSize, logger)
	go func() {
		if _, err := loader.LoadAll(ctx); err != nil {
			logger.Warn("Bulk load failed", zap.Error(err))
		}
	}()

	if cfg.Cache.MaxAgeDays > 0 {
		go runCacheEviction(ctx, cache, time.Duration(cfg.Cache.MaxAgeDays)*24*time.Hour, logger)
	}

	retCfg := domain.RetrievalConfig{
		NumCandidates:      cfg.Retrieval.NumCandidates,
		FinalResults:       cfg.Retrieval.FinalResults,
		LocalWeight:        cfg.Retrieval.LocalWeight,
		RemoteWeight:       cfg.Retrieval.RemoteWeight,
		MinSimilarity:      cfg.Retrieval.MinSimilarity,
		RRFK:               cfg.Retrieval.RRFK,
		EnableReranking:    cfg.Retrieval.Reranking(),
		AdaptiveThreshold:  cfg.Retrieval.AdaptiveThreshold,
		MaxParallelTimeout: cfg.Retrieval.MaxParallelTimeout(),
		CoreTerms:          cfg.Retrieval.CoreTerms,
	}
	retrieval := retrievaluc.NewService(localIndex, remote, embedder, retCfg, cfg.Retrieval.Workers, logger)

	server := chiTransport.NewServer(blobs, pipeline, cache, retrieval, remote, localIndex, loader, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	r.Mount("/", server.Routes())

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during HTTP shutdown", zap.Error(err))
	}
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during pipeline shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// runCacheEviction drops cache records older than maxAge once a day.
func runCacheEviction(ctx context.Context, cache *chunkcache.Cache, maxAge time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := cache.EvictOlderThan(ctx, maxAge)
			if evicted > 0 {
				logger.Info("Evicted stale cache records", zap.Int("documents", evicted))
			}
		}
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
