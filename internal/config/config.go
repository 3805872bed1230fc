// Package config loads and validates the semcode configuration record.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/korrel8/semcode/internal/semerr"
)

// Config is the single configuration record loaded at startup. It mirrors the
// recognized options of the external interface exactly: one nested struct per
// dotted option prefix (indexer.*, vector_store.*, hnsw.*, embedding.*,
// scoring.*, compression.*, optimizer.*, router.*, log.*).
type Config struct {
	Indexer     IndexerConfig     `yaml:"indexer" json:"indexer"`
	VectorStore VectorStoreConfig `yaml:"vector_store" json:"vector_store"`
	HNSW        HNSWConfig        `yaml:"hnsw" json:"hnsw"`
	Embedding   EmbeddingConfig   `yaml:"embedding" json:"embedding"`
	Scoring     ScoringConfig     `yaml:"scoring" json:"scoring"`
	Compression CompressionConfig `yaml:"compression" json:"compression"`
	Optimizer   OptimizerConfig   `yaml:"optimizer" json:"optimizer"`
	Router      RouterConfig      `yaml:"router" json:"router"`
	Log         LogConfig         `yaml:"log" json:"log"`
}

type IndexerConfig struct {
	ChunkSize       int      `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap    int      `yaml:"chunk_overlap" json:"chunk_overlap"`
	IncludePatterns []string `yaml:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns" json:"exclude_patterns"`
	MaxFileSize     int64    `yaml:"max_file_size" json:"max_file_size"`
	HonorVCSIgnore  bool     `yaml:"honor_vcs_ignore" json:"honor_vcs_ignore"`
	Workers         int      `yaml:"workers" json:"workers"`
}

type VectorStoreConfig struct {
	Path      string `yaml:"path" json:"path"`
	Dimension int    `yaml:"dimension" json:"dimension"`
}

type HNSWConfig struct {
	M              int `yaml:"m" json:"m"`
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int `yaml:"ef_search" json:"ef_search"`
}

type EmbeddingConfig struct {
	ModelID   string `yaml:"model_id" json:"model_id"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

type ScoringConfig struct {
	Weights             map[string]float64 `yaml:"weights" json:"weights"`
	CacheCapacity       int                `yaml:"cache_capacity" json:"cache_capacity"`
	CacheTTL            time.Duration      `yaml:"cache_ttl" json:"cache_ttl"`
	Parallelism         int                `yaml:"parallelism" json:"parallelism"`
	RecencyHalfLifeDays float64            `yaml:"recency_half_life_days" json:"recency_half_life_days"`
}

type CompressionConfig struct {
	PreserveImports bool    `yaml:"preserve_imports" json:"preserve_imports"`
	PreserveTypes   bool    `yaml:"preserve_types" json:"preserve_types"`
	MaxRatio        float64 `yaml:"max_ratio" json:"max_ratio"`
}

type OptimizerConfig struct {
	TokenBudget  int     `yaml:"token_budget" json:"token_budget"`
	MinRelevance float64 `yaml:"min_relevance" json:"min_relevance"`
	MaxChunks    int     `yaml:"max_chunks" json:"max_chunks"`
}

// RouterTier names a model selection tier.
type RouterTier struct {
	MaxTokens     int     `yaml:"max_tokens" json:"max_tokens"`
	ComplexityCap float64 `yaml:"complexity_cap" json:"complexity_cap"`
	ModelID       string  `yaml:"model_id" json:"model_id"`
}

type RouterConfig struct {
	Thresholds  map[string]RouterTier `yaml:"thresholds" json:"thresholds"`
	PreferLocal bool                  `yaml:"prefer_local" json:"prefer_local"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the configuration used when no file is found, grounded on
// the defaults spec.md Section 4.7 and Section 6 call out explicitly.
func Default() Config {
	return Config{
		Indexer: IndexerConfig{
			ChunkSize:       400,
			ChunkOverlap:    50,
			IncludePatterns: []string{"**/*"},
			ExcludePatterns: []string{"**/.git/**", "**/node_modules/**", "**/vendor/**"},
			MaxFileSize:     1 << 20,
			HonorVCSIgnore:  true,
			Workers:         0, // 0 = runtime.NumCPU()
		},
		VectorStore: VectorStoreConfig{
			Path:      ".semcode/store",
			Dimension: 768,
		},
		HNSW: HNSWConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       64,
		},
		Embedding: EmbeddingConfig{
			ModelID:   "local-static-768",
			BatchSize: 32,
		},
		Scoring: ScoringConfig{
			Weights: map[string]float64{
				"semantic":        0.40,
				"symbol_match":    0.25,
				"file_proximity":  0.20,
				"recency":         0.10,
				"usage_frequency": 0.05,
			},
			CacheCapacity:       5000,
			CacheTTL:            10 * time.Minute,
			Parallelism:         8,
			RecencyHalfLifeDays: 30,
		},
		Compression: CompressionConfig{
			PreserveImports: true,
			PreserveTypes:   true,
			MaxRatio:        30.0,
		},
		Optimizer: OptimizerConfig{
			TokenBudget:  8000,
			MinRelevance: 0.1,
			MaxChunks:    40,
		},
		Router: RouterConfig{
			Thresholds: map[string]RouterTier{
				"small":    {MaxTokens: 4000, ComplexityCap: 0.3, ModelID: "small"},
				"mid":      {MaxTokens: 16000, ComplexityCap: 0.7, ModelID: "mid"},
				"flagship": {MaxTokens: 1 << 30, ComplexityCap: 1.0, ModelID: "flagship"},
			},
			PreferLocal: false,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML configuration file, merges it onto Default(), applies
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, semerr.New(semerr.ErrCodeConfigNotFound, fmt.Sprintf("config file not found: %s", path), err)
			}
			return cfg, semerr.New(semerr.ErrCodeConfigPermission, fmt.Sprintf("cannot read config file: %s", path), err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, semerr.New(semerr.ErrCodeConfigInvalid, fmt.Sprintf("invalid config yaml: %s", path), err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides mirrors the teacher's env-var precedence convention:
// SEMCODE_<OPTION> beats file config, which beats Default().
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SEMCODE_VECTOR_STORE_PATH"); v != "" {
		cfg.VectorStore.Path = v
	}
	if v := os.Getenv("SEMCODE_VECTOR_STORE_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.VectorStore.Dimension = n
		}
	}
	if v := os.Getenv("SEMCODE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SEMCODE_OPTIMIZER_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Optimizer.TokenBudget = n
		}
	}
}

// Validate enforces invariant I7 (scoring weights sum to 1) and other
// ingress-time sanity checks. A config error here is always fatal (spec
// Section 7: "weights not summing to 1" is a Config error kind).
func (c Config) Validate() error {
	const epsilon = 1e-6

	sum := 0.0
	for name, w := range c.Scoring.Weights {
		if w < 0 || w > 1 {
			return semerr.New(semerr.ErrCodeInvalidWeights,
				fmt.Sprintf("scoring weight %q = %f out of range [0,1]", name, w), nil)
		}
		sum += w
	}
	if len(c.Scoring.Weights) > 0 {
		if diff := sum - 1.0; diff > epsilon || diff < -epsilon {
			return semerr.New(semerr.ErrCodeInvalidWeights,
				fmt.Sprintf("scoring weights sum to %f, must sum to 1", sum), nil).
				WithSuggestion("adjust scoring.weights so every value sums to exactly 1.0")
		}
	}

	if c.VectorStore.Dimension <= 0 {
		return semerr.New(semerr.ErrCodeConfigInvalid, "vector_store.dimension must be positive", nil)
	}
	if c.Optimizer.TokenBudget <= 0 {
		return semerr.New(semerr.ErrCodeBudgetTooSmall, "optimizer.token_budget must be positive", nil)
	}

	return nil
}

// StorePath returns the absolute vector store directory.
func (c Config) StorePath() (string, error) {
	abs, err := filepath.Abs(c.VectorStore.Path)
	if err != nil {
		return "", semerr.Wrap(semerr.ErrCodeConfigInvalid, err)
	}
	return abs, nil
}
