// Package config handles lits configuration: a YAML file, overridden by
// environment variables, on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/catalog"
	"github.com/matsen/litsearch/internal/embedding"
	"github.com/matsen/litsearch/internal/vectorindex"
)

const (
	// AppDir is the directory name under XDG_CONFIG_HOME and XDG_DATA_HOME.
	AppDir = "lits"
	// ConfigFile is the config file name.
	ConfigFile = "config.yml"

	RecordDBFile   = "records.db"
	ArtifactSubdir = "index"
)

// Environment variables that override the file.
const (
	EnvAPIKey          = "LITS_API_KEY"
	EnvOllamaURL       = "LITS_OLLAMA_URL"
	EnvRecordDB        = "LITS_RECORD_DB"
	EnvArtifactDir     = "LITS_ARTIFACT_DIR"
	EnvLogLevel        = "LITS_LOG_LEVEL"
	EnvMirrorAccessKey = "LITS_MIRROR_ACCESS_KEY"
	EnvMirrorSecretKey = "LITS_MIRROR_SECRET_KEY"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
)

// Config is the full configuration.
type Config struct {
	// APIKey is sent as a bearer token to the embedding service.
	APIKey string `yaml:"api_key,omitempty"`

	Embedding EmbeddingConfig       `yaml:"embedding"`
	Index     IndexConfig           `yaml:"index"`
	Build     BuildConfig           `yaml:"build"`
	Query     QueryConfig           `yaml:"query"`
	Paths     PathsConfig           `yaml:"paths"`
	Mirror    artifact.MirrorConfig `yaml:"mirror,omitempty"`
	Log       LogConfig             `yaml:"log"`
}

type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	URL        string        `yaml:"url,omitempty"`
	Model      string        `yaml:"model,omitempty"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`

	// RateLimit caps requests per second to the embedding service; zero
	// means unlimited.
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	// CacheSize is the number of query embeddings kept in memory.
	CacheSize int `yaml:"cache_size"`
}

type IndexConfig struct {
	Backend  string `yaml:"backend"`
	Metric   string `yaml:"metric"`
	M        int    `yaml:"m,omitempty"`
	EfSearch int    `yaml:"ef_search,omitempty"`
}

type BuildConfig struct {
	BatchSize              int     `yaml:"batch_size"`
	Concurrency            int     `yaml:"concurrency"`
	MaxFailedBatchFraction float64 `yaml:"max_failed_batch_fraction"`
	Retain                 int     `yaml:"retain"`
}

type QueryConfig struct {
	DefaultK        int             `yaml:"default_k"`
	OverFetchFactor int             `yaml:"over_fetch_factor"`
	MaxFetch        int             `yaml:"max_fetch"`
	Filters         catalog.Filters `yaml:"filters,omitempty"`
}

type PathsConfig struct {
	RecordDB    string `yaml:"record_db"`
	ArtifactDir string `yaml:"artifact_dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File receives log output instead of stderr when set.
	File string `yaml:"file,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	data := DataDir()
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:   ProviderOllama,
			URL:        embedding.DefaultOllamaURL,
			Model:      embedding.DefaultModel,
			Dimensions: embedding.DefaultDimensions,
			Timeout:    embedding.DefaultTimeout,
			CacheSize:  1024,
		},
		Index: IndexConfig{
			Backend:  string(vectorindex.BackendFlat),
			Metric:   vectorindex.Cosine.String(),
			M:        vectorindex.DefaultM,
			EfSearch: vectorindex.DefaultEfSearch,
		},
		Build: BuildConfig{
			BatchSize:              32,
			Concurrency:            4,
			MaxFailedBatchFraction: 0.2,
			Retain:                 3,
		},
		Query: QueryConfig{
			DefaultK:        10,
			OverFetchFactor: 4,
			MaxFetch:        1000,
		},
		Paths: PathsConfig{
			RecordDB:    filepath.Join(data, RecordDBFile),
			ArtifactDir: filepath.Join(data, ArtifactSubdir),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the config file path.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/lits/config.yml.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, AppDir, ConfigFile)
}

// DataDir returns the default directory for the record database and index.
// Respects XDG_DATA_HOME, defaults to ~/.local/share/lits.
func DataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return AppDir
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, AppDir)
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. An empty path selects DefaultPath, which may be
// absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	cfg.Paths.RecordDB = ExpandPath(cfg.Paths.RecordDB)
	cfg.Paths.ArtifactDir = ExpandPath(cfg.Paths.ArtifactDir)
	cfg.Log.File = ExpandPath(cfg.Log.File)
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.APIKey, EnvAPIKey)
	set(&c.Embedding.URL, EnvOllamaURL)
	set(&c.Paths.RecordDB, EnvRecordDB)
	set(&c.Paths.ArtifactDir, EnvArtifactDir)
	set(&c.Log.Level, EnvLogLevel)
	set(&c.Mirror.AccessKey, EnvMirrorAccessKey)
	set(&c.Mirror.SecretKey, EnvMirrorSecretKey)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	switch c.Embedding.Provider {
	case ProviderOllama:
		if c.Embedding.URL == "" {
			add("embedding.url is required for the ollama provider")
		}
		if c.Embedding.Model == "" {
			add("embedding.model is required for the ollama provider")
		}
	case ProviderHash:
	default:
		add("embedding.provider must be %q or %q, got %q", ProviderOllama, ProviderHash, c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		add("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.Timeout < 0 {
		add("embedding.timeout must not be negative")
	}
	if c.Embedding.RateLimit < 0 {
		add("embedding.rate_limit must not be negative")
	}
	if c.Embedding.CacheSize < 0 {
		add("embedding.cache_size must not be negative")
	}

	if _, err := vectorindex.ParseBackend(c.Index.Backend); err != nil {
		add("index.backend: %w", err)
	}
	if _, err := vectorindex.ParseMetric(c.Index.Metric); err != nil {
		add("index.metric: %w", err)
	}
	if c.Index.M < 0 || c.Index.EfSearch < 0 {
		add("index.m and index.ef_search must not be negative")
	}

	if c.Build.BatchSize <= 0 {
		add("build.batch_size must be positive, got %d", c.Build.BatchSize)
	}
	if c.Build.Concurrency <= 0 {
		add("build.concurrency must be positive, got %d", c.Build.Concurrency)
	}
	if f := c.Build.MaxFailedBatchFraction; f < 0 || f > 1 {
		add("build.max_failed_batch_fraction must be within [0, 1], got %g", f)
	}
	if c.Build.Retain < 1 {
		add("build.retain must be at least 1, got %d", c.Build.Retain)
	}

	if c.Query.DefaultK <= 0 {
		add("query.default_k must be positive, got %d", c.Query.DefaultK)
	}
	if c.Query.OverFetchFactor < 1 {
		add("query.over_fetch_factor must be at least 1, got %d", c.Query.OverFetchFactor)
	}
	if c.Query.MaxFetch < c.Query.DefaultK {
		add("query.max_fetch (%d) must not be below query.default_k (%d)", c.Query.MaxFetch, c.Query.DefaultK)
	}
	if err := c.Query.Filters.Validate(); err != nil {
		add("query.filters: %w", err)
	}

	if c.Paths.RecordDB == "" {
		add("paths.record_db is required")
	}
	if c.Paths.ArtifactDir == "" {
		add("paths.artifact_dir is required")
	}

	if c.Mirror.Enabled() && c.Mirror.Bucket == "" {
		add("mirror.bucket is required when mirror.endpoint is set")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(problems...)
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
