// Package engine answers similarity queries against the active index
// snapshot and swaps in new snapshots as builds publish them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/builder"
	"github.com/matsen/litsearch/internal/catalog"
	"github.com/matsen/litsearch/internal/embedding"
	"github.com/matsen/litsearch/internal/metrics"
	"github.com/matsen/litsearch/internal/vectorindex"
)

const (
	DefaultK               = 10
	DefaultOverFetchFactor = 4
	DefaultMaxFetch        = 1000
)

// ErrNoBuilder is returned by Rebuild on an engine without a builder.
var ErrNoBuilder = errors.New("engine has no index builder")

// ModelMismatchError reports a snapshot embedded with a model other than the
// engine's provider.
type ModelMismatchError struct {
	SnapshotModel string
	Model         string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("snapshot was built with model %q, but the embedder is %q; rebuild the index", e.SnapshotModel, e.Model)
}

// QueryError reports a query that cannot be answered as asked. Callers
// usually show it to the user and ask them to rephrase.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Options tunes query behaviour. Zero values select defaults.
type Options struct {
	Metric          vectorindex.Metric
	DefaultK        int
	OverFetchFactor int
	MaxFetch        int

	// DefaultFilters apply when a query passes zero filters.
	DefaultFilters catalog.Filters
}

func (o Options) withDefaults() Options {
	if o.DefaultK <= 0 {
		o.DefaultK = DefaultK
	}
	if o.OverFetchFactor <= 0 {
		o.OverFetchFactor = DefaultOverFetchFactor
	}
	if o.MaxFetch <= 0 {
		o.MaxFetch = DefaultMaxFetch
	}
	return o
}

// Stats describes the active snapshot.
type Stats struct {
	IndexSize     int       `json:"index_size"`
	LastBuildTime time.Time `json:"last_build_time"`
	ModelVersion  string    `json:"model_version"`
	Backend       string    `json:"backend"`
	Metric        string    `json:"metric"`
	SnapshotID    string    `json:"snapshot_id"`
	Dimensions    int       `json:"dimensions"`
}

// Engine serves queries. It implements builder.Publisher.
type Engine struct {
	provider embedding.Provider
	store    *artifact.Store
	builder  *builder.Builder
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics

	active atomic.Pointer[artifact.Snapshot]
}

// New creates an engine with no active snapshot. Call LoadLatest or Rebuild
// before querying.
func New(provider embedding.Provider, store *artifact.Store, opts Options) *Engine {
	return &Engine{
		provider: provider,
		store:    store,
		opts:     opts.withDefaults(),
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger. A nil logger selects slog.Default.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	e.logger = l
}

// SetMetrics sets the metrics sink.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetBuilder attaches the builder used by Rebuild. The builder should
// publish to e.
func (e *Engine) SetBuilder(b *builder.Builder) {
	e.builder = b
}

// Active returns the snapshot queries currently run against, or nil.
func (e *Engine) Active() *artifact.Snapshot {
	return e.active.Load()
}

// Publish makes snap the active snapshot. Queries in flight keep the
// snapshot they started with.
func (e *Engine) Publish(snap *artifact.Snapshot) {
	e.active.Store(snap)
	if snap != nil {
		if m := e.metricFor(snap); m != e.opts.Metric {
			e.logger.Warn("snapshot metric differs from configured metric; using the snapshot's",
				"snapshot", snap.Manifest.SnapshotID,
				"snapshot_metric", m.String(),
				"configured_metric", e.opts.Metric.String())
		}
		e.metrics.SetIndexSize(snap.Index.Size())
		e.logger.Info("snapshot active",
			"snapshot", snap.Manifest.SnapshotID,
			"records", snap.Index.Size(),
			"model", snap.Manifest.ModelVersion)
	}
}

// metricFor returns the metric snap was built for, or the configured metric
// when its manifest does not name a known one.
func (e *Engine) metricFor(snap *artifact.Snapshot) vectorindex.Metric {
	if snap.Manifest.Metric == "" {
		return e.opts.Metric
	}
	m, err := vectorindex.ParseMetric(snap.Manifest.Metric)
	if err != nil {
		return e.opts.Metric
	}
	return m
}

// LoadLatest loads the newest verified snapshot from the artifact store and
// publishes it. Corrupt snapshots are skipped in favour of older ones.
func (e *Engine) LoadLatest() error {
	snap, err := e.store.LoadLatest()
	if err != nil {
		return err
	}
	if snap.Manifest.ModelVersion != e.provider.ModelName() {
		return &ModelMismatchError{SnapshotModel: snap.Manifest.ModelVersion, Model: e.provider.ModelName()}
	}
	e.Publish(snap)
	return nil
}

// Rebuild runs an index build in the given mode and returns its report.
func (e *Engine) Rebuild(ctx context.Context, mode builder.Mode) (*builder.BuildStats, error) {
	if e.builder == nil {
		return nil, ErrNoBuilder
	}
	return e.builder.Build(ctx, mode)
}

// Stats describes the active snapshot. Without one only the model is set.
func (e *Engine) Stats() Stats {
	snap := e.active.Load()
	if snap == nil {
		return Stats{ModelVersion: e.provider.ModelName(), Dimensions: e.provider.Dimensions()}
	}
	m := snap.Manifest
	return Stats{
		IndexSize:     snap.Index.Size(),
		LastBuildTime: m.BuildTimestamp,
		ModelVersion:  m.ModelVersion,
		Backend:       string(snap.Index.Backend()),
		Metric:        m.Metric,
		SnapshotID:    m.SnapshotID,
		Dimensions:    snap.Index.Dimensions(),
	}
}
