package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Retrieval.KSemantic)
	assert.Equal(t, 10, cfg.Retrieval.KKeyword)
	assert.Equal(t, 5, cfg.Retrieval.FinalK)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.InDelta(t, 0.7, cfg.Retrieval.RRFBeta, 1e-9)
	assert.Equal(t, ThresholdPreFusion, cfg.Retrieval.ThresholdPolicy)
	assert.Equal(t, 3*time.Second, cfg.Retrieval.PathTimeout)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero k_semantic", func(c *Config) { c.Retrieval.KSemantic = 0 }},
		{"negative k_keyword", func(c *Config) { c.Retrieval.KKeyword = -1 }},
		{"zero final_k", func(c *Config) { c.Retrieval.FinalK = 0 }},
		{"zero rerank_depth", func(c *Config) { c.Retrieval.RerankDepth = 0 }},
		{"zero rrf_k", func(c *Config) { c.Retrieval.RRFK = 0 }},
		{"beta above one", func(c *Config) { c.Retrieval.RRFBeta = 1.1 }},
		{"beta below zero", func(c *Config) { c.Retrieval.RRFBeta = -0.1 }},
		{"threshold above one", func(c *Config) { c.Retrieval.SimilarityThreshold = 1.5 }},
		{"bad threshold policy", func(c *Config) { c.Retrieval.ThresholdPolicy = "mid_fusion" }},
		{"negative rerank weight", func(c *Config) {
			c.Retrieval.RerankOriginalWeight = -0.3
			c.Retrieval.RerankOverlapWeight = 1.3
		}},
		{"weights do not sum to one", func(c *Config) {
			c.Retrieval.RerankOriginalWeight = 0.7
			c.Retrieval.RerankOverlapWeight = 0.4
		}},
		{"zero path timeout", func(c *Config) { c.Retrieval.PathTimeout = 0 }},
		{"bad lexical backend", func(c *Config) { c.Storage.LexicalBackend = "tantivy" }},
		{"bad embed provider", func(c *Config) { c.Embed.Provider = "word2vec" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestValidate_WeightSumTolerance(t *testing.T) {
	// Weights that sum to 1.0 within floating-point noise are accepted.
	cfg := Default()
	cfg.Retrieval.RerankOriginalWeight = 0.6
	cfg.Retrieval.RerankOverlapWeight = 0.4

	assert.NoError(t, cfg.Validate())
}

func TestLoad_ReadsYAMLFromDataDir(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
retrieval:
  k_semantic: 25
  rrf_beta: 0.5
storage:
  lexical_backend: sqlite
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), yaml, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Retrieval.KSemantic)
	assert.InDelta(t, 0.5, cfg.Retrieval.RRFBeta, 1e-9)
	assert.Equal(t, "sqlite", cfg.Storage.LexicalBackend)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10, cfg.Retrieval.KKeyword)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("retrieval:\n  final_k: 3\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), yaml, 0o644))

	t.Setenv("LEXRAG_FINAL_K", "7")
	t.Setenv("LEXRAG_RRF_BETA", "0.9")
	t.Setenv("LEXRAG_PATH_TIMEOUT", "500ms")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retrieval.FinalK)
	assert.InDelta(t, 0.9, cfg.Retrieval.RRFBeta, 1e-9)
	assert.Equal(t, 500*time.Millisecond, cfg.Retrieval.PathTimeout)
}

func TestLoad_InvalidValuesFailFast(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("retrieval:\n  rrf_beta: 2.0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), yaml, 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Retrieval, cfg.Retrieval)
}

func TestParams_MirrorsRetrievalConfig(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.KSemantic = 42

	params := cfg.Retrieval.Params()

	assert.Equal(t, 42, params.KSemantic)
	assert.Equal(t, cfg.Retrieval.RRFK, params.RRFK)
	assert.Equal(t, cfg.Retrieval.PathTimeout, params.PathTimeout)
	assert.Equal(t, cfg.Retrieval.RerankOriginalWeight, params.RerankOriginalWeight)
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/srv/lexrag"

	assert.Equal(t, "/srv/lexrag/passages.db", cfg.StorePath())
	assert.Equal(t, "/srv/lexrag/vectors.hnsw", cfg.VectorIndexPath())
	assert.Equal(t, "/srv/lexrag/lexical.bleve", cfg.LexicalIndexPath())
	assert.Equal(t, "/srv/lexrag/manifest.json", cfg.ManifestPath())

	cfg.Storage.LexicalBackend = "sqlite"
	assert.Equal(t, "/srv/lexrag/lexical.db", cfg.LexicalIndexPath())
}
