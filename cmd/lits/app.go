package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/builder"
	"github.com/matsen/litsearch/internal/config"
	"github.com/matsen/litsearch/internal/embedding"
	"github.com/matsen/litsearch/internal/engine"
	"github.com/matsen/litsearch/internal/metrics"
	"github.com/matsen/litsearch/internal/storage"
	"github.com/matsen/litsearch/internal/vectorindex"
)

// app holds the components a command needs, wired from the config.
type app struct {
	db        *storage.DB
	provider  embedding.Provider
	artifacts *artifact.Store
	engine    *engine.Engine
	builder   *builder.Builder
	registry  *prometheus.Registry
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// openRecordDB opens the record database, creating its directory.
func openRecordDB(c *config.Config) (*storage.DB, error) {
	if err := os.MkdirAll(filepath.Dir(c.Paths.RecordDB), 0755); err != nil {
		return nil, &exitError{code: ExitConfigError, err: fmt.Errorf("creating data directory: %w", err)}
	}
	db, err := storage.OpenDB(c.Paths.RecordDB)
	if err != nil {
		return nil, fmt.Errorf("opening record database: %w", err)
	}
	return db, nil
}

// newProviders builds the configured embedder for index builds and, when
// cache_size is set, the same embedder behind a query cache for the engine.
// Builds bypass the cache so that record texts do not evict query vectors.
func newProviders(c *config.Config) (build, query embedding.Provider) {
	switch c.Embedding.Provider {
	case config.ProviderHash:
		build = embedding.NewHashProvider(c.Embedding.Dimensions)
	default:
		build = embedding.NewOllamaProvider(
			embedding.WithBaseURL(c.Embedding.URL),
			embedding.WithModel(c.Embedding.Model),
			embedding.WithDimensions(c.Embedding.Dimensions),
			embedding.WithTimeout(c.Embedding.Timeout),
			embedding.WithAPIKey(c.APIKey),
			embedding.WithRateLimit(c.Embedding.RateLimit, c.Build.Concurrency),
		)
	}
	query = build
	if c.Embedding.CacheSize > 0 {
		query = embedding.NewCachedProvider(build, c.Embedding.CacheSize)
	}
	return build, query
}

// checkEmbedder verifies an Ollama embedder is reachable and has its model.
func checkEmbedder(ctx context.Context, c *config.Config) error {
	if c.Embedding.Provider != config.ProviderOllama {
		return nil
	}
	p := embedding.NewOllamaProvider(
		embedding.WithBaseURL(c.Embedding.URL),
		embedding.WithModel(c.Embedding.Model),
		embedding.WithAPIKey(c.APIKey),
	)
	if err := p.IsAvailable(ctx); err != nil {
		return &exitError{code: ExitModelNotFound, err: fmt.Errorf("Ollama is not reachable at %s\n\nStart Ollama with 'ollama serve' or set %s", c.Embedding.URL, config.EnvOllamaURL)}
	}
	ok, err := p.HasModel(ctx)
	if err != nil {
		return fmt.Errorf("checking model availability: %w", err)
	}
	if !ok {
		return &exitError{code: ExitModelNotFound, err: fmt.Errorf("embedding model '%s' not found\n\nRun 'ollama pull %s' to download it", c.Embedding.Model, c.Embedding.Model)}
	}
	return nil
}

// openApp wires storage, embedder, artifact store, engine and builder.
// The engine starts with the latest snapshot when one exists.
func openApp(c *config.Config) (*app, error) {
	metric, err := vectorindex.ParseMetric(c.Index.Metric)
	if err != nil {
		return nil, &exitError{code: ExitConfigError, err: err}
	}
	backend, err := vectorindex.ParseBackend(c.Index.Backend)
	if err != nil {
		return nil, &exitError{code: ExitConfigError, err: err}
	}

	db, err := openRecordDB(c)
	if err != nil {
		return nil, err
	}

	opts := []artifact.Option{artifact.WithRetain(c.Build.Retain), artifact.WithLogger(logger)}
	if c.Mirror.Enabled() {
		mirror, err := artifact.NewMinioMirror(c.Mirror)
		if err != nil {
			db.Close()
			return nil, &exitError{code: ExitConfigError, err: err}
		}
		opts = append(opts, artifact.WithMirror(mirror))
	}
	store := artifact.NewStore(c.Paths.ArtifactDir, opts...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	buildProvider, queryProvider := newProviders(c)

	eng := engine.New(queryProvider, store, engine.Options{
		Metric:          metric,
		DefaultK:        c.Query.DefaultK,
		OverFetchFactor: c.Query.OverFetchFactor,
		MaxFetch:        c.Query.MaxFetch,
		DefaultFilters:  c.Query.Filters,
	})
	eng.SetLogger(logger)
	eng.SetMetrics(m)

	b := builder.NewBuilder(db, buildProvider, store, eng, builder.Options{
		Backend:                backend,
		Index:                  vectorindex.Options{M: c.Index.M, EfSearch: c.Index.EfSearch},
		Metric:                 metric,
		BatchSize:              c.Build.BatchSize,
		Concurrency:            c.Build.Concurrency,
		MaxFailedBatchFraction: c.Build.MaxFailedBatchFraction,
	})
	b.SetLogger(logger)
	b.SetMetrics(m)
	eng.SetBuilder(b)

	if err := eng.LoadLatest(); err != nil {
		var (
			mismatch *engine.ModelMismatchError
			corrupt  *artifact.CorruptArtifactError
		)
		switch {
		case errors.Is(err, artifact.ErrNoSnapshot):
			logger.Debug("no index snapshot yet", "dir", c.Paths.ArtifactDir)
		case errors.As(err, &mismatch):
			logger.Warn("index was built with another model; it will be rebuilt in full", "error", err)
		case errors.As(err, &corrupt):
			logger.Error("every index snapshot failed verification; rebuild the index", "error", err)
		default:
			db.Close()
			return nil, fmt.Errorf("loading index: %w", err)
		}
	}

	return &app{db: db, provider: queryProvider, artifacts: store, engine: eng, builder: b, registry: reg}, nil
}

// requireIndex fails when the engine has no snapshot to query.
func (a *app) requireIndex() error {
	if a.engine.Active() != nil {
		return nil
	}
	return &exitError{code: ExitNoIndex, err: errors.New("index not found\n\nRun 'lits index build' to create the index")}
}
