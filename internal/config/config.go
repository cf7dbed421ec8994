package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the hyrag service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Index     IndexConfig     `yaml:"index"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Remote    RemoteConfig    `yaml:"remote"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // label for logs and metrics
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// CacheConfig holds chunk/embedding cache settings.
type CacheConfig struct {
	KeyPrefix  string `yaml:"key_prefix"`
	MaxAgeDays int    `yaml:"max_age_days"` // 0 = never evict by age
}

// IndexConfig holds local vector index settings. KeyPrefix must not sit
// inside the cache prefix: clearing the cache scans its whole namespace
// and must never sweep the persisted index with it.
type IndexConfig struct {
	KeyPrefix        string `yaml:"key_prefix"`
	UpgradeThreshold int    `yaml:"upgrade_threshold"` // flat → IVF at this vector count
	NProbe           int    `yaml:"nprobe"`            // clusters probed per IVF search
	TrainIterations  int    `yaml:"train_iterations"`  // k-means iterations
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	QueueCapacity int    `yaml:"queue_capacity"`
	LoadBatchSize int    `yaml:"load_batch_size"` // startup bulk-load concurrency
	ScratchDir    string `yaml:"scratch_dir"`     // "" = os.TempDir()
}

// RemoteConfig holds remote vector search service settings.
type RemoteConfig struct {
	IndexName       string `yaml:"index_name"`
	KeyPrefix       string `yaml:"key_prefix"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
}

// RetrievalConfig holds the initial hybrid retrieval tuning. Runtime
// updates go through the orchestrator, not through this struct.
type RetrievalConfig struct {
	NumCandidates         int      `yaml:"num_candidates"`
	FinalResults          int      `yaml:"final_results"`
	LocalWeight           float64  `yaml:"local_weight"`
	RemoteWeight          float64  `yaml:"remote_weight"`
	MinSimilarity         float64  `yaml:"min_similarity"`
	RRFK                  int      `yaml:"rrf_k"`
	EnableReranking       *bool    `yaml:"enable_reranking"`
	AdaptiveThreshold     int      `yaml:"adaptive_threshold"`
	MaxParallelTimeoutSec float64  `yaml:"max_parallel_timeout_sec"`
	Workers               int      `yaml:"workers"`
	CoreTerms             []string `yaml:"core_terms"`
}

// StorageConfig holds blob storage settings.
type StorageConfig struct {
	RootDir string `yaml:"root_dir"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 16
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "hyrag:"
	}
	if c.Index.KeyPrefix == "" {
		c.Index.KeyPrefix = "hyrag-index:"
	}
	if c.Index.UpgradeThreshold <= 0 {
		c.Index.UpgradeThreshold = 500
	}
	if c.Index.NProbe <= 0 {
		c.Index.NProbe = 8
	}
	if c.Index.TrainIterations <= 0 {
		c.Index.TrainIterations = 20
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 500
	}
	if c.Ingest.ChunkOverlap <= 0 {
		c.Ingest.ChunkOverlap = 100
	}
	if c.Ingest.QueueCapacity <= 0 {
		c.Ingest.QueueCapacity = 128
	}
	if c.Ingest.LoadBatchSize <= 0 {
		c.Ingest.LoadBatchSize = 5
	}
	if c.Remote.IndexName == "" {
		c.Remote.IndexName = "hyrag-remote"
	}
	if c.Remote.KeyPrefix == "" {
		c.Remote.KeyPrefix = "hyrag-dp:"
	}
	if c.Remote.HNSWM <= 0 {
		c.Remote.HNSWM = 32
	}
	if c.Remote.HNSWEFConstruct <= 0 {
		c.Remote.HNSWEFConstruct = 400
	}
	if c.Retrieval.NumCandidates <= 0 {
		c.Retrieval.NumCandidates = 10
	}
	if c.Retrieval.FinalResults <= 0 {
		c.Retrieval.FinalResults = 5
	}
	if c.Retrieval.LocalWeight == 0 && c.Retrieval.RemoteWeight == 0 {
		c.Retrieval.LocalWeight = 0.6
		c.Retrieval.RemoteWeight = 0.4
	}
	if c.Retrieval.MinSimilarity == 0 {
		c.Retrieval.MinSimilarity = 0.3
	}
	if c.Retrieval.RRFK <= 0 {
		c.Retrieval.RRFK = 60
	}
	if c.Retrieval.AdaptiveThreshold <= 0 {
		c.Retrieval.AdaptiveThreshold = 20
	}
	if c.Retrieval.MaxParallelTimeoutSec <= 0 {
		c.Retrieval.MaxParallelTimeoutSec = 5
	}
	if c.Retrieval.Workers <= 0 {
		c.Retrieval.Workers = 4
	}
	if c.Storage.RootDir == "" {
		c.Storage.RootDir = "./data/blobs"
	}
}

// MaxParallelTimeout returns the per-path search timeout as a duration.
func (c *RetrievalConfig) MaxParallelTimeout() time.Duration {
	return time.Duration(c.MaxParallelTimeoutSec * float64(time.Second))
}

// Reranking returns the enable_reranking flag, defaulting to true.
func (c *RetrievalConfig) Reranking() bool {
	if c.EnableReranking == nil {
		return true
	}
	return *c.EnableReranking
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Retrieval.LocalWeight < 0 || c.Retrieval.RemoteWeight < 0 {
		return fmt.Errorf("retrieval weights must be >= 0")
	}
	if strings.HasPrefix(c.Index.KeyPrefix, c.Cache.KeyPrefix) {
		return fmt.Errorf("index.key_prefix %q must not be inside cache.key_prefix %q",
			c.Index.KeyPrefix, c.Cache.KeyPrefix)
	}
	if strings.HasPrefix(c.Remote.KeyPrefix, c.Cache.KeyPrefix) {
		return fmt.Errorf("remote.key_prefix %q must not be inside cache.key_prefix %q",
			c.Remote.KeyPrefix, c.Cache.KeyPrefix)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
