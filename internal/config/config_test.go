package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Build.Retain != 3 {
		t.Errorf("Build.Retain = %d, want 3", cfg.Build.Retain)
	}
	if cfg.Query.OverFetchFactor != 4 || cfg.Query.MaxFetch != 1000 {
		t.Errorf("Query = %+v, want over-fetch 4 and max fetch 1000", cfg.Query)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := DefaultPath(), "/custom/config/lits/config.yml"; got != want {
		t.Errorf("DefaultPath() = %q, want %q", got, want)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}
	if got, want := DefaultPath(), filepath.Join(home, ".config", "lits", "config.yml"); got != want {
		t.Errorf("DefaultPath() = %q, want %q", got, want)
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	if got, want := DataDir(), "/data/lits"; got != want {
		t.Errorf("DataDir() = %q, want %q", got, want)
	}
	cfg := Default()
	if got, want := cfg.Paths.RecordDB, "/data/lits/records.db"; got != want {
		t.Errorf("Paths.RecordDB = %q, want %q", got, want)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAPIKey, EnvOllamaURL, EnvRecordDB, EnvArtifactDir, EnvLogLevel, EnvMirrorAccessKey, EnvMirrorSecretKey} {
		t.Setenv(k, "")
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
api_key: file-key
embedding:
  provider: hash
  dimensions: 128
  timeout: 45s
index:
  backend: hnsw
  metric: cosine
build:
  batch_size: 8
query:
  default_k: 5
  filters:
    year_min: 2015
paths:
  record_db: /tmp/records.db
  artifact_dir: /tmp/index
mirror:
  endpoint: localhost:9000
  bucket: snapshots
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"APIKey", cfg.APIKey, "file-key"},
		{"Provider", cfg.Embedding.Provider, ProviderHash},
		{"Dimensions", cfg.Embedding.Dimensions, 128},
		{"Timeout", cfg.Embedding.Timeout, 45 * time.Second},
		{"Backend", cfg.Index.Backend, "hnsw"},
		{"BatchSize", cfg.Build.BatchSize, 8},
		{"Concurrency kept default", cfg.Build.Concurrency, 4},
		{"DefaultK", cfg.Query.DefaultK, 5},
		{"YearMin", cfg.Query.Filters.YearMin, 2015},
		{"RecordDB", cfg.Paths.RecordDB, "/tmp/records.db"},
		{"Mirror bucket", cfg.Mirror.Bucket, "snapshots"},
		{"Log format", cfg.Log.Format, "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("api_key: file-key\npaths:\n  artifact_dir: /from/file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvArtifactDir, "/from/env")
	t.Setenv(EnvOllamaURL, "http://ollama:11434")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.APIKey)
	}
	if cfg.Paths.ArtifactDir != "/from/env" {
		t.Errorf("ArtifactDir = %q, want /from/env", cfg.Paths.ArtifactDir)
	}
	if cfg.Embedding.URL != "http://ollama:11434" {
		t.Errorf("Embedding.URL = %q", cfg.Embedding.URL)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") with no default file: error = %v", err)
	}
	if cfg.Embedding.Provider != ProviderOllama {
		t.Errorf("Provider = %q, want default", cfg.Embedding.Provider)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("Load() of a missing explicit path should fail")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("build: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"provider", func(c *Config) { c.Embedding.Provider = "openai" }, "embedding.provider"},
		{"backend", func(c *Config) { c.Index.Backend = "ivf" }, "index.backend"},
		{"metric", func(c *Config) { c.Index.Metric = "l2" }, "index.metric"},
		{"batch size", func(c *Config) { c.Build.BatchSize = 0 }, "build.batch_size"},
		{"fraction", func(c *Config) { c.Build.MaxFailedBatchFraction = 1.5 }, "max_failed_batch_fraction"},
		{"retain", func(c *Config) { c.Build.Retain = 0 }, "build.retain"},
		{"max fetch", func(c *Config) { c.Query.MaxFetch = 2 }, "query.max_fetch"},
		{"filters", func(c *Config) { c.Query.Filters.YearMin, c.Query.Filters.YearMax = 2020, 2010 }, "query.filters"},
		{"mirror bucket", func(c *Config) { c.Mirror.Endpoint = "s3.example.com" }, "mirror.bucket"},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
		{"record db", func(c *Config) { c.Paths.RecordDB = "" }, "paths.record_db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Build.BatchSize = 0
	cfg.Build.Concurrency = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"build.batch_size", "build.concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %v, missing %q", err, want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}

	tests := []struct {
		input string
		want  string
	}{
		{"~/lits/index", filepath.Join(home, "lits/index")},
		{"~", home},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ExpandPath(tt.input); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
