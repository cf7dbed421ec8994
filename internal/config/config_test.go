package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Config{
		HTTP: HTTPConfig{Port: 0},
		Database: DatabaseConfig{
			Addrs: []string{"localhost:6379"},
		},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingDatabaseAddrs(t *testing.T) {
	cfg := Config{
		HTTP: HTTPConfig{Port: 8080},
		Database: DatabaseConfig{
			Addrs: []string{},
		},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database addrs")
	}
}

func TestValidate_OverlapNotBelowChunkSize(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Ingest:   IngestConfig{ChunkSize: 100, ChunkOverlap: 100},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for overlap >= chunk size")
	}
}

func TestValidate_NegativeWeights(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Retrieval: RetrievalConfig{
			LocalWeight:  -0.1,
			RemoteWeight: 0.4,
		},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative weight")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("expected Dimensions=768, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.BatchSize != 16 {
		t.Errorf("expected BatchSize=16, got %d", cfg.Embedding.BatchSize)
	}
	if cfg.Cache.KeyPrefix != "hyrag:" {
		t.Errorf("expected KeyPrefix='hyrag:', got %q", cfg.Cache.KeyPrefix)
	}
	if cfg.Index.UpgradeThreshold != 500 {
		t.Errorf("expected UpgradeThreshold=500, got %d", cfg.Index.UpgradeThreshold)
	}
	// Index and remote namespaces live outside the cache prefix so a
	// cache-wide clear cannot touch them.
	if cfg.Index.KeyPrefix != "hyrag-index:" {
		t.Errorf("expected Index.KeyPrefix='hyrag-index:', got %q", cfg.Index.KeyPrefix)
	}
	if cfg.Remote.KeyPrefix != "hyrag-dp:" {
		t.Errorf("expected Remote.KeyPrefix='hyrag-dp:', got %q", cfg.Remote.KeyPrefix)
	}
	if strings.HasPrefix(cfg.Index.KeyPrefix, cfg.Cache.KeyPrefix) {
		t.Errorf("index prefix %q must not be inside cache prefix %q",
			cfg.Index.KeyPrefix, cfg.Cache.KeyPrefix)
	}
	if strings.HasPrefix(cfg.Remote.KeyPrefix, cfg.Cache.KeyPrefix) {
		t.Errorf("remote prefix %q must not be inside cache prefix %q",
			cfg.Remote.KeyPrefix, cfg.Cache.KeyPrefix)
	}
	if cfg.Ingest.ChunkSize != 500 || cfg.Ingest.ChunkOverlap != 100 {
		t.Errorf("expected chunking 500/100, got %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Ingest.LoadBatchSize != 5 {
		t.Errorf("expected LoadBatchSize=5, got %d", cfg.Ingest.LoadBatchSize)
	}
	if cfg.Remote.IndexName != "hyrag-remote" {
		t.Errorf("expected IndexName='hyrag-remote', got %q", cfg.Remote.IndexName)
	}
	if cfg.Remote.HNSWM != 32 || cfg.Remote.HNSWEFConstruct != 400 {
		t.Errorf("expected HNSW 32/400, got %d/%d", cfg.Remote.HNSWM, cfg.Remote.HNSWEFConstruct)
	}
	if cfg.Retrieval.LocalWeight != 0.6 || cfg.Retrieval.RemoteWeight != 0.4 {
		t.Errorf("expected weights 0.6/0.4, got %v/%v", cfg.Retrieval.LocalWeight, cfg.Retrieval.RemoteWeight)
	}
	if cfg.Retrieval.RRFK != 60 {
		t.Errorf("expected RRFK=60, got %d", cfg.Retrieval.RRFK)
	}
	if cfg.Retrieval.Workers != 4 {
		t.Errorf("expected Workers=4, got %d", cfg.Retrieval.Workers)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:   HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Index:  IndexConfig{UpgradeThreshold: 1000, NProbe: 16},
		Ingest: IngestConfig{ChunkSize: 200, ChunkOverlap: 50},
		Cache:  CacheConfig{KeyPrefix: "custom:"},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Index.UpgradeThreshold != 1000 {
		t.Errorf("expected UpgradeThreshold=1000, got %d", cfg.Index.UpgradeThreshold)
	}
	if cfg.Ingest.ChunkSize != 200 || cfg.Ingest.ChunkOverlap != 50 {
		t.Errorf("expected chunking 200/50, got %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Cache.KeyPrefix != "custom:" {
		t.Errorf("expected KeyPrefix='custom:', got %q", cfg.Cache.KeyPrefix)
	}
}

func TestValidate_IndexPrefixInsideCachePrefix(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Index:    IndexConfig{KeyPrefix: "hyrag:index:"},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for index prefix inside cache prefix")
	}
}

func TestValidate_RemotePrefixInsideCachePrefix(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Remote:   RemoteConfig{KeyPrefix: "hyrag:dp:"},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for remote prefix inside cache prefix")
	}
}

func TestRetrievalHelpers(t *testing.T) {
	cfg := RetrievalConfig{MaxParallelTimeoutSec: 2.5}
	if got := cfg.MaxParallelTimeout(); got != 2500*time.Millisecond {
		t.Errorf("expected 2.5s timeout, got %v", got)
	}

	if !(&RetrievalConfig{}).Reranking() {
		t.Error("expected reranking to default to true")
	}
	off := false
	cfg.EnableReranking = &off
	if cfg.Reranking() {
		t.Error("expected reranking to be disabled")
	}
}
