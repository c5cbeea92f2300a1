package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/catalog"
	"github.com/matsen/litsearch/internal/checkpoint"
	"github.com/matsen/litsearch/internal/embedding"
	"github.com/matsen/litsearch/internal/errs"
	"github.com/matsen/litsearch/internal/metrics"
	"github.com/matsen/litsearch/internal/record"
	"github.com/matsen/litsearch/internal/vectorindex"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize              = 32
	DefaultConcurrency            = 4
	DefaultMaxFailedBatchFraction = 0.2
	DefaultCompactThreshold       = 0.25

	// LockFileName guards builds across processes sharing an artifact directory.
	LockFileName = ".build.lock"
)

// Options tunes a Builder. Zero values select defaults.
type Options struct {
	Backend                vectorindex.Backend
	Index                  vectorindex.Options
	Metric                 vectorindex.Metric
	BatchSize              int
	Concurrency            int
	MaxFailedBatchFraction float64
	CompactThreshold       float64
}

func (o Options) withDefaults() Options {
	if o.Backend == "" {
		o.Backend = vectorindex.BackendFlat
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxFailedBatchFraction <= 0 {
		o.MaxFailedBatchFraction = DefaultMaxFailedBatchFraction
	}
	if o.CompactThreshold <= 0 {
		o.CompactThreshold = DefaultCompactThreshold
	}
	return o
}

// Builder is the sole writer of index snapshots.
type Builder struct {
	source    RecordSource
	provider  embedding.Provider
	artifacts *artifact.Store
	pub       Publisher
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics
	progress  ProgressReporter

	mu sync.Mutex
}

// NewBuilder creates a builder writing snapshots to artifacts and handing
// them to pub.
func NewBuilder(source RecordSource, provider embedding.Provider, artifacts *artifact.Store, pub Publisher, opts Options) *Builder {
	return &Builder{
		source:    source,
		provider:  provider,
		artifacts: artifacts,
		pub:       pub,
		opts:      opts.withDefaults(),
		logger:    slog.Default(),
	}
}

// SetLogger sets the logger. A nil logger is ignored.
func (b *Builder) SetLogger(l *slog.Logger) {
	if l != nil {
		b.logger = l
	}
}

// SetMetrics sets the metrics sink.
func (b *Builder) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// SetProgressReporter sets the progress reporter for the builder.
func (b *Builder) SetProgressReporter(reporter ProgressReporter) {
	b.progress = reporter
}

// Build runs a build and publishes the result. An incremental build with no
// active snapshot, or one built with a different model, runs as a full build.
func (b *Builder) Build(ctx context.Context, mode Mode) (*BuildStats, error) {
	if !b.mu.TryLock() {
		return nil, ErrBuildInProgress
	}
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.artifacts.Dir(), 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	lock := flock.New(filepath.Join(b.artifacts.Dir(), LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring build lock: %w", err)
	}
	if !locked {
		return nil, ErrBuildInProgress
	}
	defer lock.Unlock()

	if mode == ModeIncremental {
		active := b.pub.Active()
		switch {
		case active == nil:
			b.logger.Info("no active snapshot, running full build")
			mode = ModeFull
		case active.Manifest.ModelVersion != b.provider.ModelName():
			b.logger.Warn("active snapshot uses another model, running full build",
				"snapshot_model", active.Manifest.ModelVersion, "model", b.provider.ModelName())
			mode = ModeFull
		}
	}

	start := time.Now()
	var stats *BuildStats
	if mode == ModeFull {
		stats, err = b.full(ctx)
	} else {
		stats, err = b.incremental(ctx)
	}

	status := metrics.StatusOK
	failed := 0
	if stats != nil {
		failed = stats.FailedBatches
		stats.Duration = time.Since(start)
	}
	switch {
	case errors.Is(err, errs.ErrCancelled):
		status = metrics.StatusCancelled
	case err != nil:
		status = metrics.StatusError
	}
	b.metrics.ObserveBuild(string(mode), status, time.Since(start), failed)

	if err != nil {
		return stats, err
	}
	b.logger.Info("index build complete",
		"mode", stats.Mode,
		"snapshot", stats.SnapshotID,
		"indexed", stats.Indexed,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
		"failed_batches", stats.FailedBatches,
		"duration", stats.Duration,
	)
	return stats, nil
}

// item is one record on its way into the index.
type item struct {
	rec  record.Record
	text string
	hash string
	vec  []float32
}

func (b *Builder) newItem(rec record.Record) (*item, bool) {
	text := record.CanonicalText(rec)
	if text == "" {
		b.logger.Warn("skipping record with no text", "record", rec.ID)
		return nil, false
	}
	return &item{rec: rec, text: text, hash: record.TextHash(rec)}, true
}

// full embeds every record into a fresh index.
func (b *Builder) full(ctx context.Context) (*BuildStats, error) {
	stats := &BuildStats{Mode: ModeFull}
	watermark := time.Now()

	cp, err := checkpoint.Open(filepath.Join(b.artifacts.Dir(), checkpoint.FileName))
	if err != nil {
		return stats, err
	}
	defer cp.Close()

	st, err := cp.Begin(ctx, b.provider.ModelName(), b.provider.Dimensions(), watermark)
	if err != nil {
		return stats, err
	}
	var staged map[string]checkpoint.Vector
	if st.Resumed {
		if staged, err = cp.Load(ctx); err != nil {
			return stats, err
		}
		b.logger.Info("resuming interrupted build", "staged", len(staged), "last_record", st.LastRecordID)
	}

	var items []*item
	for rec, err := range b.source.ListRecords(ctx, record.ListOptions{}) {
		if err != nil {
			return stats, fmt.Errorf("listing records: %w", errs.Cancelled(err))
		}
		stats.RecordsSeen++
		it, ok := b.newItem(rec)
		if !ok {
			stats.Skipped++
			continue
		}
		if sv, ok := staged[rec.ID]; ok && sv.TextHash == it.hash && len(sv.Vector) == b.provider.Dimensions() {
			it.vec = sv.Vector
			stats.Resumed++
		}
		items = append(items, it)
	}

	err = b.embed(ctx, items, stats, func(batch []*item) error {
		vecs := make([]checkpoint.Vector, len(batch))
		for i, it := range batch {
			vecs[i] = checkpoint.Vector{RecordID: it.rec.ID, TextHash: it.hash, Vector: it.vec}
		}
		return cp.CommitBatch(ctx, batch[len(batch)-1].rec.ID, vecs)
	})
	if err != nil {
		return stats, err
	}

	idx, err := vectorindex.New(b.opts.Backend, b.provider.Dimensions(), b.opts.Index)
	if err != nil {
		return stats, err
	}
	cat := catalog.New()
	for _, it := range items {
		if it.vec == nil {
			continue
		}
		if err := insert(idx, cat, it); err != nil {
			return stats, err
		}
		stats.Indexed++
	}

	// Records lost to failed batches must show up in the next incremental
	// build, so the snapshot claims to reflect nothing.
	if stats.FailedBatches > 0 {
		watermark = time.Time{}
	}
	if err := b.publish(ctx, idx, cat, watermark, stats); err != nil {
		return stats, err
	}
	if err := cp.Clear(ctx); err != nil {
		b.logger.Warn("clearing build checkpoint", "error", err)
	}
	return stats, nil
}

// incremental applies the record store's changes since the active snapshot
// to a copy of it.
func (b *Builder) incremental(ctx context.Context) (*BuildStats, error) {
	stats := &BuildStats{Mode: ModeIncremental}
	active := b.pub.Active()
	since := active.Manifest.Watermark
	watermark := time.Now()

	cs, err := b.source.Changes(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("reading changes: %w", errs.Cancelled(err))
	}
	cs = cs.Normalize()

	idx := active.Index.Clone()
	cat := active.Catalog.Clone()

	drop := func(recordID string) bool {
		id, ok := cat.LookupRecord(recordID)
		if ok {
			idx.Delete(id)
			cat.Delete(id)
		}
		return ok
	}
	for _, rid := range cs.Removed {
		if drop(rid) {
			stats.Deleted++
		}
	}

	var items []*item
	for _, rid := range cs.Upserted {
		rec, err := b.source.GetRecord(ctx, rid)
		if errors.Is(err, errs.ErrNotFound) {
			if drop(rid) {
				stats.Deleted++
			}
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("reading record %s: %w", rid, errs.Cancelled(err))
		}
		stats.RecordsSeen++

		entry := catalog.EntryFromRecord(rec)
		if id, ok := cat.LookupRecord(rid); ok {
			old, err := cat.Get(id)
			if err == nil && old.TextHash == entry.TextHash {
				if err := cat.Put(id, entry); err != nil {
					return stats, err
				}
				stats.Updated++
				continue
			}
			// Text changed: the old vector goes before the new one is embedded.
			drop(rid)
		}

		it, ok := b.newItem(rec)
		if !ok {
			stats.Skipped++
			continue
		}
		items = append(items, it)
	}

	if err := b.embed(ctx, items, stats, nil); err != nil {
		return stats, err
	}
	for _, it := range items {
		if it.vec == nil {
			continue
		}
		if err := insert(idx, cat, it); err != nil {
			return stats, err
		}
		stats.Indexed++
	}

	if h, ok := idx.(*vectorindex.HNSW); ok && h.TombstoneRatio() > b.opts.CompactThreshold {
		stats.Compacted = h.Compact()
		b.logger.Info("compacted index", "purged", stats.Compacted)
	}

	if stats.FailedBatches > 0 {
		watermark = since
	}
	if err := b.publish(ctx, idx, cat, watermark, stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func insert(idx vectorindex.Index, cat *catalog.Catalog, it *item) error {
	id := idx.Allocate()
	if err := idx.Insert(id, it.vec); err != nil {
		return fmt.Errorf("indexing record %s: %w", it.rec.ID, err)
	}
	if err := cat.Put(id, catalog.EntryFromRecord(it.rec)); err != nil {
		idx.Delete(id)
		return fmt.Errorf("cataloging record %s: %w", it.rec.ID, err)
	}
	return nil
}

// embed fills in vectors for items that lack one, BatchSize at a time with
// bounded concurrency. A failed batch is logged and skipped; too many failed
// batches abort the build. onBatch, if set, runs after each successful batch.
func (b *Builder) embed(ctx context.Context, items []*item, stats *BuildStats, onBatch func([]*item) error) error {
	var pending []*item
	for _, it := range items {
		if it.vec == nil {
			pending = append(pending, it)
		}
	}

	var batches [][]*item
	for start := 0; start < len(pending); start += b.opts.BatchSize {
		batches = append(batches, pending[start:min(start+b.opts.BatchSize, len(pending))])
	}
	stats.Batches = len(batches)
	if len(batches) == 0 {
		return nil
	}

	var failed atomic.Int64
	var progressMu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for _, batch := range batches {
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, it := range batch {
				texts[i] = it.text
			}

			embs, err := b.provider.EmbedBatch(gctx, texts)
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, errs.ErrCancelled) {
					return errs.Cancelled(err)
				}
				failed.Add(1)
				for _, it := range batch {
					b.logger.Warn("failed to embed record", "record", it.rec.ID, "error", err)
				}
				return nil
			}
			for i, it := range batch {
				it.vec = embs[i].Vector
			}
			if onBatch != nil {
				if err := onBatch(batch); err != nil {
					return err
				}
			}

			if b.progress != nil {
				progressMu.Lock()
				done += len(batch)
				b.progress.OnProgress(done, len(pending))
				progressMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := errs.CheckContext(ctx); err != nil {
		return err
	}

	stats.FailedBatches = int(failed.Load())
	if float64(stats.FailedBatches)/float64(stats.Batches) > b.opts.MaxFailedBatchFraction {
		return &BuildError{Mode: stats.Mode, FailedBatches: stats.FailedBatches, Batches: stats.Batches}
	}
	return nil
}

// publish persists the snapshot, makes it current and hands it to readers.
func (b *Builder) publish(ctx context.Context, idx vectorindex.Index, cat *catalog.Catalog, watermark time.Time, stats *BuildStats) error {
	if err := errs.CheckContext(ctx); err != nil {
		return err
	}
	snap := &artifact.Snapshot{
		Manifest: artifact.Manifest{
			ModelVersion: b.provider.ModelName(),
			Metric:       b.opts.Metric.String(),
			Watermark:    watermark,
		},
		Index:   idx,
		Catalog: cat,
	}
	if err := b.artifacts.Commit(ctx, snap); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	b.pub.Publish(snap)

	stats.SnapshotID = snap.Manifest.SnapshotID
	stats.IndexSize = idx.Size()
	stats.ByYear = cat.ByYear()
	b.metrics.SetIndexSize(idx.Size())
	return nil
}
