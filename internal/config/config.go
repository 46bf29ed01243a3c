package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults. The similarity threshold and corroboration count are deliberately
// configuration, not invariants; product requirements haven't fixed them yet.
const (
	DefaultConcurrency         = 10
	DefaultMinHits             = 5
	DefaultKeywordLevels       = 3
	DefaultTopKFiles           = 10
	DefaultTopKEvidence        = 5
	DefaultProbeBudget         = 24
	DefaultTokenBudget         = 8000
	DefaultSimilarityThreshold = 0.82
	DefaultReuseTieBand        = 0.03
	DefaultCorroborationN      = 3
	DefaultHotnessDecayRate    = 0.02
	DefaultMaxRetries          = 3
	DefaultCallTimeout         = 30 * time.Second
	DefaultQueryTimeout        = 5 * time.Minute
	DefaultFilenameTimeout     = time.Second
)

// Retrieval configures the hybrid retriever and the text-search dispatcher.
type Retrieval struct {
	Concurrency   int    `yaml:"concurrency"`    // Concurrent search-tool invocations
	MinHits       int    `yaml:"min_hits"`       // Priority-hit threshold per level
	KeywordLevels int    `yaml:"keyword_levels"` // Number of planner levels
	TopKFiles     int    `yaml:"top_k_files"`
	SearchTool    string `yaml:"search_tool"` // "rg", "grep", or "builtin"
}

// Sampling configures the Monte-Carlo evidence sampler.
type Sampling struct {
	ProbeBudget  int   `yaml:"probe_budget"` // Max probes per document
	TokenBudget  int   `yaml:"token_budget"` // Max LLM tokens per document
	TopKEvidence int   `yaml:"top_k_evidence"`
	BucketSize   int   `yaml:"bucket_size"` // Bytes per weight bucket
	Seed         int64 `yaml:"seed"`        // 0 = time-seeded
}

// Store configures cluster persistence and reuse.
type Store struct {
	Path                string  `yaml:"path"` // Database directory
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ReuseTieBand        float64 `yaml:"reuse_tie_band"`
	CorroborationN      int     `yaml:"corroboration_n"` // Searches to promote EMERGING -> STABLE
	HotnessDecayRate    float64 `yaml:"hotness_decay_rate"`
}

// LLM configures the model endpoint boundary.
type LLM struct {
	BaseURL     string        `yaml:"base_url"` // OpenAI-compatible endpoint
	Model       string        `yaml:"model"`
	MaxRetries  int           `yaml:"max_retries"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	RatePerSec  float64       `yaml:"rate_per_sec"` // 0 = unlimited
}

// Config is the full runtime configuration.
type Config struct {
	Retrieval    Retrieval     `yaml:"retrieval"`
	Sampling     Sampling      `yaml:"sampling"`
	Store        Store         `yaml:"store"`
	LLM          LLM           `yaml:"llm"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Retrieval: Retrieval{
			Concurrency:   DefaultConcurrency,
			MinHits:       DefaultMinHits,
			KeywordLevels: DefaultKeywordLevels,
			TopKFiles:     DefaultTopKFiles,
			SearchTool:    "rg",
		},
		Sampling: Sampling{
			ProbeBudget:  DefaultProbeBudget,
			TokenBudget:  DefaultTokenBudget,
			TopKEvidence: DefaultTopKEvidence,
			BucketSize:   512,
		},
		Store: Store{
			SimilarityThreshold: DefaultSimilarityThreshold,
			ReuseTieBand:        DefaultReuseTieBand,
			CorroborationN:      DefaultCorroborationN,
			HotnessDecayRate:    DefaultHotnessDecayRate,
		},
		LLM: LLM{
			Model:       "gpt-4o-mini",
			MaxRetries:  DefaultMaxRetries,
			CallTimeout: DefaultCallTimeout,
		},
		QueryTimeout: DefaultQueryTimeout,
	}
}

// Load reads a YAML config file, falling back to defaults for absent fields.
// A missing file is not an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		applyEnv(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RAGLESS_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("RAGLESS_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("RAGLESS_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("RAGLESS_SEARCH_TOOL"); v != "" {
		cfg.Retrieval.SearchTool = v
	}
	if v := os.Getenv("RAGLESS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retrieval.Concurrency = n
		}
	}
}

// Validate checks value ranges after loading.
func (c *Config) Validate() error {
	if c.Retrieval.Concurrency < 1 {
		return fmt.Errorf("retrieval.concurrency must be >= 1, got %d", c.Retrieval.Concurrency)
	}
	if c.Retrieval.KeywordLevels < 1 {
		return fmt.Errorf("retrieval.keyword_levels must be >= 1, got %d", c.Retrieval.KeywordLevels)
	}
	if c.Store.SimilarityThreshold < 0 || c.Store.SimilarityThreshold > 1 {
		return fmt.Errorf("store.similarity_threshold must be in [0,1], got %f", c.Store.SimilarityThreshold)
	}
	if c.Store.CorroborationN < 1 {
		return fmt.Errorf("store.corroboration_n must be >= 1, got %d", c.Store.CorroborationN)
	}
	if c.Sampling.ProbeBudget < 0 {
		return fmt.Errorf("sampling.probe_budget must be >= 0, got %d", c.Sampling.ProbeBudget)
	}
	return nil
}

// DefaultPath returns the config file location under the user's home.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ragless", "config.yaml"), nil
}

// DefaultDBDir returns the database directory under the user's home.
func DefaultDBDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ragless", "store"), nil
}
