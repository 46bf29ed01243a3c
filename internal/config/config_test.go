package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-file.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultConcurrency, cfg.Retrieval.Concurrency)
	assert.Equal(t, DefaultCorroborationN, cfg.Store.CorroborationN)
	assert.Equal(t, DefaultSimilarityThreshold, cfg.Store.SimilarityThreshold)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
retrieval:
  concurrency: 4
  min_hits: 2
store:
  similarity_threshold: 0.9
  corroboration_n: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Retrieval.Concurrency)
	assert.Equal(t, 2, cfg.Retrieval.MinHits)
	assert.Equal(t, 0.9, cfg.Store.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Store.CorroborationN)
	// Untouched fields keep defaults
	assert.Equal(t, DefaultProbeBudget, cfg.Sampling.ProbeBudget)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  concurrency: 0\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RAGLESS_SEARCH_TOOL", "builtin")
	t.Setenv("RAGLESS_CONCURRENCY", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "builtin", cfg.Retrieval.SearchTool)
	assert.Equal(t, 7, cfg.Retrieval.Concurrency)
}
