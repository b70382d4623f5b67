// Package config loads and validates scenedex configuration.
//
// Precedence, lowest to highest:
//  1. Built-in defaults
//  2. Project config (.scenedex.yaml in the project root)
//  3. Environment variables (SCENEDEX_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the project-level configuration file.
const ConfigFileName = ".scenedex.yaml"

// Config is the complete scenedex configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig configures data and document locations.
type PathsConfig struct {
	// DataDir holds the index, embedding blobs, and locks (default: .scenedex).
	DataDir string `yaml:"data_dir"`
	// Include are glob patterns for documents to sync (default: **/*.fountain).
	Include []string `yaml:"include"`
}

// SearchConfig configures the hybrid ranking knobs.
// The weighting constants and boost factors are empirical tuning values with
// no derivation; they are deliberately configuration, not code.
type SearchConfig struct {
	// LexicalWeight is the weight for full-text matching (0.0-1.0).
	LexicalWeight float64 `yaml:"lexical_weight"`

	// VectorWeight is the weight for semantic similarity (0.0-1.0).
	// Must sum to 1.0 with LexicalWeight.
	VectorWeight float64 `yaml:"vector_weight"`

	// BothMatchBoost is the multiplicative boost applied when a scene
	// appears in both the lexical and vector passes (> 1.0).
	BothMatchBoost float64 `yaml:"both_match_boost"`

	// MetadataBoost is the multiplicative boost applied when the raw query
	// matches scene metadata (character names, tags, location).
	MetadataBoost float64 `yaml:"metadata_boost"`

	// SimilarityThreshold discards vector matches below this cosine
	// similarity before normalization (0.0-1.0).
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// MaxResults is the default result limit.
	MaxResults int `yaml:"max_results"`

	// LexicalBackend selects the full-text backend: "sqlite" (default,
	// concurrent access via WAL) or "bleve" (single-process).
	LexicalBackend string `yaml:"lexical_backend"`
}

// EmbeddingsConfig configures the embedding model.
type EmbeddingsConfig struct {
	// Model is the embedding model identifier; embeddings are keyed by
	// (content_hash, model) so changing it never clobbers existing vectors.
	Model string `yaml:"model"`

	// Dimensions is the fixed dimensionality for Model.
	Dimensions int `yaml:"dimensions"`

	// CacheSize is the LRU size for query-embedding caching.
	CacheSize int `yaml:"cache_size"`
}

// SyncConfig configures document synchronization.
type SyncConfig struct {
	// Workers bounds concurrent document syncs in a batch.
	Workers int `yaml:"workers"`

	// MaxTxRetries bounds retries of a failed document transaction.
	MaxTxRetries int `yaml:"max_tx_retries"`

	// WatchDebounce is the settle delay for watcher-driven syncs (e.g. "500ms").
	WatchDebounce string `yaml:"watch_debounce"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: ".scenedex",
			Include: []string{"**/*.fountain"},
		},
		Search: SearchConfig{
			LexicalWeight:       0.3,
			VectorWeight:        0.7,
			BothMatchBoost:      1.2,
			MetadataBoost:       1.15,
			SimilarityThreshold: 0.25,
			MaxResults:          10,
			LexicalBackend:      "sqlite",
		},
		Embeddings: EmbeddingsConfig{
			Model:      "static-256",
			Dimensions: 256,
			CacheSize:  1000,
		},
		Sync: SyncConfig{
			Workers:       4,
			MaxTxRetries:  3,
			WatchDebounce: "500ms",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration for the given project root, applying the project
// file and environment overrides on top of defaults. A missing project file
// is not an error.
func Load(rootPath string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(rootPath, ConfigFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	s := c.Search
	if s.LexicalWeight < 0 || s.VectorWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	sum := s.LexicalWeight + s.VectorWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("lexical_weight + vector_weight must sum to 1.0, got %.3f", sum)
	}
	if s.BothMatchBoost < 1.0 {
		return fmt.Errorf("both_match_boost must be >= 1.0, got %.3f", s.BothMatchBoost)
	}
	if s.MetadataBoost < 1.0 {
		return fmt.Errorf("metadata_boost must be >= 1.0, got %.3f", s.MetadataBoost)
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1], got %.3f", s.SimilarityThreshold)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings dimensions must be positive")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync workers must be positive")
	}
	switch s.LexicalBackend {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("unknown lexical_backend: %q (valid: sqlite, bleve)", s.LexicalBackend)
	}
	return nil
}

// Save writes the configuration to the project root.
func (c *Config) Save(rootPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(rootPath, ConfigFileName), data, 0o644)
}

// FindProjectRoot walks up from start looking for a directory that carries a
// scenedex config file, an existing data directory, or a .git directory.
// Returns the absolute path of the first match, or an error when none is
// found before the filesystem root.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		for _, marker := range []string{ConfigFileName, ".scenedex", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no project root found above %s", start)
		}
		dir = parent
	}
}

// applyEnvOverrides applies SCENEDEX_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCENEDEX_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.LexicalWeight = f
		}
	}
	if v := os.Getenv("SCENEDEX_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.VectorWeight = f
		}
	}
	if v := os.Getenv("SCENEDEX_BOTH_MATCH_BOOST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.BothMatchBoost = f
		}
	}
	if v := os.Getenv("SCENEDEX_LEXICAL_BACKEND"); v != "" {
		cfg.Search.LexicalBackend = v
	}
	if v := os.Getenv("SCENEDEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
