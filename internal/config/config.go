// Package config loads and validates the lexrag configuration: YAML file,
// .env, and LEXRAG_* environment overrides, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lexrag/lexrag/internal/search"
)

// ErrInvalidConfiguration wraps every validation failure so callers can
// detect configuration problems as a class.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigFileName is looked up in the data directory, then the working
// directory.
const ConfigFileName = "lexrag.yaml"

// Threshold placement policies. Pre-fusion drops low-similarity candidates
// inside each path before rank fusion; post-fusion filters the fused list.
const (
	ThresholdPreFusion  = "pre_fusion"
	ThresholdPostFusion = "post_fusion"
)

// RetrievalConfig holds the tunable retrieval pipeline parameters.
// All of them are per-call overridable; these are the process defaults.
type RetrievalConfig struct {
	KSemantic           int     `yaml:"k_semantic"`
	KKeyword            int     `yaml:"k_keyword"`
	FinalK              int     `yaml:"final_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ThresholdPolicy     string  `yaml:"threshold_policy"`
	RRFK                int     `yaml:"rrf_k"`
	RRFBeta             float64 `yaml:"rrf_beta"`
	RerankDepth         int     `yaml:"rerank_depth"`

	// Rerank blend weights; must sum to 1.0.
	RerankOriginalWeight float64 `yaml:"rerank_original_weight"`
	RerankOverlapWeight  float64 `yaml:"rerank_overlap_weight"`

	// PathTimeout bounds each retrieval path; a slow path degrades to
	// empty instead of stalling the query.
	PathTimeout time.Duration `yaml:"path_timeout"`
}

// EmbedConfig selects the embedding provider.
type EmbedConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Host       string `yaml:"host"`
	CacheSize  int    `yaml:"cache_size"`
}

// StorageConfig locates the on-disk corpus artifacts.
type StorageConfig struct {
	// DataDir holds the passage store, both indices, and the manifest.
	DataDir string `yaml:"data_dir"`

	// LexicalBackend is "bleve" (default) or "sqlite".
	LexicalBackend string `yaml:"lexical_backend"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Stderr bool   `yaml:"stderr"`
}

// Config is the root configuration.
type Config struct {
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embed     EmbedConfig     `yaml:"embed"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the process-wide defaults.
func Default() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			KSemantic:            10,
			KKeyword:             10,
			FinalK:               5,
			SimilarityThreshold:  0.0,
			ThresholdPolicy:      ThresholdPreFusion,
			RRFK:                 60,
			RRFBeta:              0.7,
			RerankDepth:          20,
			RerankOriginalWeight: 0.7,
			RerankOverlapWeight:  0.3,
			PathTimeout:          3 * time.Second,
		},
		Embed: EmbedConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 0, // auto-detect
		},
		Storage: StorageConfig{
			DataDir:        ".lexrag",
			LexicalBackend: "bleve",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then lexrag.yaml (in
// dataDir or the working directory), then .env, then LEXRAG_* environment
// variables. Validation runs last and fails fast.
func Load(dataDir string) (*Config, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	// .env is optional; missing file is not an error.
	_ = godotenv.Load()

	for _, path := range []string{
		filepath.Join(cfg.Storage.DataDir, ConfigFileName),
		ConfigFileName,
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		break
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from LEXRAG_* environment variables.
func (c *Config) applyEnv() {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("LEXRAG_K_SEMANTIC", &c.Retrieval.KSemantic)
	setInt("LEXRAG_K_KEYWORD", &c.Retrieval.KKeyword)
	setInt("LEXRAG_FINAL_K", &c.Retrieval.FinalK)
	setFloat("LEXRAG_SIMILARITY_THRESHOLD", &c.Retrieval.SimilarityThreshold)
	setString("LEXRAG_THRESHOLD_POLICY", &c.Retrieval.ThresholdPolicy)
	setInt("LEXRAG_RRF_K", &c.Retrieval.RRFK)
	setFloat("LEXRAG_RRF_BETA", &c.Retrieval.RRFBeta)
	setInt("LEXRAG_RERANK_DEPTH", &c.Retrieval.RerankDepth)
	setFloat("LEXRAG_RERANK_ORIGINAL_WEIGHT", &c.Retrieval.RerankOriginalWeight)
	setFloat("LEXRAG_RERANK_OVERLAP_WEIGHT", &c.Retrieval.RerankOverlapWeight)
	if v := os.Getenv("LEXRAG_PATH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Retrieval.PathTimeout = d
		}
	}

	setString("LEXRAG_EMBED_PROVIDER", &c.Embed.Provider)
	setString("LEXRAG_EMBED_MODEL", &c.Embed.Model)
	setInt("LEXRAG_EMBED_DIMENSIONS", &c.Embed.Dimensions)
	setString("LEXRAG_EMBED_HOST", &c.Embed.Host)

	setString("LEXRAG_DATA_DIR", &c.Storage.DataDir)
	setString("LEXRAG_LEXICAL_BACKEND", &c.Storage.LexicalBackend)

	setString("LEXRAG_LOG_LEVEL", &c.Logging.Level)
	setString("LEXRAG_LOG_FILE", &c.Logging.File)
}

// Validate fails fast on invalid parameters. Runs at load time so a bad
// configuration can never surface mid-query.
func (c *Config) Validate() error {
	r := &c.Retrieval

	if r.KSemantic <= 0 {
		return fmt.Errorf("%w: k_semantic must be positive, got %d", ErrInvalidConfiguration, r.KSemantic)
	}
	if r.KKeyword <= 0 {
		return fmt.Errorf("%w: k_keyword must be positive, got %d", ErrInvalidConfiguration, r.KKeyword)
	}
	if r.FinalK <= 0 {
		return fmt.Errorf("%w: final_k must be positive, got %d", ErrInvalidConfiguration, r.FinalK)
	}
	if r.RerankDepth <= 0 {
		return fmt.Errorf("%w: rerank_depth must be positive, got %d", ErrInvalidConfiguration, r.RerankDepth)
	}
	if r.RRFK <= 0 {
		return fmt.Errorf("%w: rrf_k must be positive, got %d", ErrInvalidConfiguration, r.RRFK)
	}
	if r.RRFBeta < 0 || r.RRFBeta > 1 {
		return fmt.Errorf("%w: rrf_beta must be in [0,1], got %g", ErrInvalidConfiguration, r.RRFBeta)
	}
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in [0,1], got %g", ErrInvalidConfiguration, r.SimilarityThreshold)
	}
	if r.ThresholdPolicy != ThresholdPreFusion && r.ThresholdPolicy != ThresholdPostFusion {
		return fmt.Errorf("%w: threshold_policy must be %q or %q, got %q",
			ErrInvalidConfiguration, ThresholdPreFusion, ThresholdPostFusion, r.ThresholdPolicy)
	}
	if r.RerankOriginalWeight < 0 || r.RerankOverlapWeight < 0 {
		return fmt.Errorf("%w: rerank weights must be non-negative, got %g/%g",
			ErrInvalidConfiguration, r.RerankOriginalWeight, r.RerankOverlapWeight)
	}
	if sum := r.RerankOriginalWeight + r.RerankOverlapWeight; math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("%w: rerank weights must sum to 1.0, got %g",
			ErrInvalidConfiguration, sum)
	}
	if r.PathTimeout <= 0 {
		return fmt.Errorf("%w: path_timeout must be positive, got %s", ErrInvalidConfiguration, r.PathTimeout)
	}

	switch c.Storage.LexicalBackend {
	case "", "bleve", "sqlite":
	default:
		return fmt.Errorf("%w: lexical_backend must be \"bleve\" or \"sqlite\", got %q",
			ErrInvalidConfiguration, c.Storage.LexicalBackend)
	}

	switch c.Embed.Provider {
	case "", "ollama", "openai", "static":
	default:
		return fmt.Errorf("%w: embed provider must be \"ollama\", \"openai\" or \"static\", got %q",
			ErrInvalidConfiguration, c.Embed.Provider)
	}

	return nil
}

// Params converts the retrieval configuration into pipeline parameters.
func (r *RetrievalConfig) Params() search.Params {
	return search.Params{
		KSemantic:            r.KSemantic,
		KKeyword:             r.KKeyword,
		FinalK:               r.FinalK,
		SimilarityThreshold:  r.SimilarityThreshold,
		ThresholdPolicy:      r.ThresholdPolicy,
		RRFK:                 r.RRFK,
		RRFBeta:              r.RRFBeta,
		RerankDepth:          r.RerankDepth,
		RerankOriginalWeight: r.RerankOriginalWeight,
		RerankOverlapWeight:  r.RerankOverlapWeight,
		PathTimeout:          r.PathTimeout,
	}
}

// Paths derived from the data directory.

// StorePath is the passage store database file.
func (c *Config) StorePath() string {
	return filepath.Join(c.Storage.DataDir, "passages.db")
}

// VectorIndexPath is the HNSW index file.
func (c *Config) VectorIndexPath() string {
	return filepath.Join(c.Storage.DataDir, "vectors.hnsw")
}

// LexicalIndexPath is the lexical index location (directory for bleve, file
// for sqlite).
func (c *Config) LexicalIndexPath() string {
	if c.Storage.LexicalBackend == "sqlite" {
		return filepath.Join(c.Storage.DataDir, "lexical.db")
	}
	return filepath.Join(c.Storage.DataDir, "lexical.bleve")
}

// ManifestPath is the index manifest file, written last during a rebuild
// and watched for hot reload.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Storage.DataDir, "manifest.json")
}

// LockPath is the rebuild lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.DataDir, ".rebuild.lock")
}
