package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/catalog"
	"github.com/matsen/litsearch/internal/embedding"
	"github.com/matsen/litsearch/internal/errs"
	"github.com/matsen/litsearch/internal/metrics"
	"github.com/matsen/litsearch/internal/vectorindex"
)

// QueryResult is one ranked match.
type QueryResult struct {
	RecordID string        `json:"record_id"`
	Score    float64       `json:"score"`
	Rank     int           `json:"rank"`
	Metadata catalog.Entry `json:"metadata"`
}

// Query returns up to k records most similar to text, ranked from 1. A k of
// zero or less selects the configured default. Fewer than k results is not
// an error.
func (e *Engine) Query(ctx context.Context, text string, k int, filters catalog.Filters) (results []QueryResult, err error) {
	start := time.Now()
	defer func() { e.observe(start, results, err) }()

	snap := e.active.Load()
	if snap == nil {
		return nil, &QueryError{Query: text, Err: artifact.ErrNoSnapshot}
	}
	canonical := embedding.Canonicalize(text)
	if canonical == "" {
		return nil, &QueryError{Query: text, Err: embedding.ErrEmptyText}
	}
	if err := filters.Validate(); err != nil {
		return nil, &QueryError{Query: text, Err: err}
	}
	if snap.Index.Size() == 0 {
		return nil, &QueryError{Query: text, Err: vectorindex.ErrEmptyIndex}
	}

	emb, err := e.provider.Embed(ctx, canonical)
	if err != nil {
		if errors.Is(err, embedding.ErrEmptyText) {
			return nil, &QueryError{Query: text, Err: err}
		}
		if cerr := errs.Cancelled(err); errors.Is(cerr, errs.ErrCancelled) {
			return nil, cerr
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err = e.search(ctx, snap, emb.Vector, k, filters, "")
	var dim *vectorindex.DimensionMismatchError
	if errors.As(err, &dim) {
		return nil, &QueryError{Query: text, Err: err}
	}
	return results, err
}

// Similar returns up to k records most similar to an indexed record, which
// is itself excluded.
func (e *Engine) Similar(ctx context.Context, recordID string, k int, filters catalog.Filters) (results []QueryResult, err error) {
	start := time.Now()
	defer func() { e.observe(start, results, err) }()

	snap := e.active.Load()
	if snap == nil {
		return nil, artifact.ErrNoSnapshot
	}
	if err := filters.Validate(); err != nil {
		return nil, &QueryError{Query: recordID, Err: err}
	}
	id, ok := snap.Catalog.LookupRecord(recordID)
	if !ok {
		return nil, fmt.Errorf("record %s: %w", recordID, errs.ErrNotFound)
	}
	vec, ok := snap.Index.Vector(id)
	if !ok {
		return nil, fmt.Errorf("record %s has no vector: %w", recordID, errs.ErrNotFound)
	}
	return e.search(ctx, snap, vec, k, filters, recordID)
}

func (e *Engine) observe(start time.Time, results []QueryResult, err error) {
	status := metrics.StatusOK
	switch {
	case errors.Is(err, errs.ErrCancelled):
		status = metrics.StatusCancelled
	case err != nil:
		status = metrics.StatusError
	}
	e.metrics.ObserveQuery(status, time.Since(start), len(results))
}

// search over-fetches neighbours of vec until k records survive metadata
// resolution, filtering, exclusion and deduplication, or until the index or
// the fetch cap runs out.
func (e *Engine) search(ctx context.Context, snap *artifact.Snapshot, vec []float32, k int, filters catalog.Filters, exclude string) ([]QueryResult, error) {
	if k <= 0 {
		k = e.opts.DefaultK
	}
	if filters.IsZero() {
		filters = e.opts.DefaultFilters
	}

	var allowed *roaring.Bitmap
	if !filters.IsZero() {
		allowed = snap.Catalog.Filter(filters.Predicate())
		if allowed.IsEmpty() {
			return []QueryResult{}, nil
		}
	}

	metric := e.metricFor(snap)
	scale := float32(1)
	if metric == vectorindex.InnerProduct {
		if n := norm(vec); n > 0 {
			scale = 1 / n
		}
	}

	size := snap.Index.Size()
	fetch := k * e.opts.OverFetchFactor
	if exclude != "" {
		fetch++
	}
	limit := max(e.opts.MaxFetch, k)

	var best map[string]candidate
	for {
		fetch = min(fetch, limit, size)

		hits, err := snap.Index.Search(ctx, vec, fetch, metric)
		if err != nil {
			if errors.Is(err, vectorindex.ErrEmptyIndex) {
				return nil, &QueryError{Err: err}
			}
			return nil, errs.Cancelled(err)
		}
		best = e.resolve(snap, hits, allowed, exclude, scale)

		if len(best) >= k || fetch >= size || fetch >= limit {
			break
		}
		fetch *= 2
	}

	ranked := make([]candidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].better(ranked[j]) })
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	results := make([]QueryResult, len(ranked))
	for i, c := range ranked {
		results[i] = c.QueryResult
		results[i].Rank = i + 1
	}
	return results, nil
}

// candidate is a result before ranking. Ordering uses the raw index score;
// Score is only its mapping into [0, 1].
type candidate struct {
	QueryResult
	raw float32
}

func (c candidate) better(o candidate) bool {
	if c.raw != o.raw {
		return c.raw > o.raw
	}
	return c.RecordID < o.RecordID
}

// resolve turns hits into candidates keyed by identity, keeping the best
// scoring record for each work. scale maps a hit score to a cosine.
func (e *Engine) resolve(snap *artifact.Snapshot, hits []vectorindex.Hit, allowed *roaring.Bitmap, exclude string, scale float32) map[string]candidate {
	ids := make([]uint32, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	entries := snap.Catalog.GetMany(ids)

	best := make(map[string]candidate, len(hits))
	for i, h := range hits {
		entry := entries[i]
		if entry == nil {
			e.logger.Warn("index entry has no catalog metadata",
				"snapshot", snap.Manifest.SnapshotID, "id", h.ID)
			continue
		}
		if allowed != nil && !allowed.Contains(h.ID) {
			continue
		}
		if exclude != "" && entry.RecordID == exclude {
			continue
		}

		c := candidate{
			QueryResult: QueryResult{RecordID: entry.RecordID, Score: similarityScore(h.Score * scale), Metadata: *entry},
			raw:         h.Score,
		}
		key := entry.IdentityKey()
		if prev, seen := best[key]; !seen || c.better(prev) {
			best[key] = c
		}
	}
	return best
}

// similarityScore maps a cosine similarity in [-1, 1] to [0, 1].
func similarityScore(cos float32) float64 {
	s := (1 + float64(cos)) / 2
	return min(max(s, 0), 1)
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
