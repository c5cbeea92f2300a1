// Package vectorindex stores L2-normalized embedding vectors under dense
// internal ids and answers k-nearest-neighbour queries over them.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// ErrEmptyIndex is returned when searching an index that holds no vectors.
var ErrEmptyIndex = errors.New("index is empty")

// DimensionMismatchError reports a vector whose length differs from the index dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: index has %d, vector has %d", e.Expected, e.Got)
}

// Metric selects how query vectors are compared with stored vectors.
type Metric int

const (
	// Cosine normalizes the query before taking the inner product.
	Cosine Metric = iota
	// InnerProduct uses the query as given.
	InnerProduct
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case InnerProduct:
		return "inner_product"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric parses a metric name as used in configuration files.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(s) {
	case "", "cosine", "cos":
		return Cosine, nil
	case "inner_product", "ip", "dot":
		return InnerProduct, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", s)
	}
}

// Backend names an index implementation.
type Backend string

const (
	BackendFlat Backend = "flat"
	BackendHNSW Backend = "hnsw"
)

// ParseBackend parses a backend name.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(s)) {
	case "", BackendFlat:
		return BackendFlat, nil
	case BackendHNSW:
		return BackendHNSW, nil
	default:
		return "", fmt.Errorf("unknown index backend %q", s)
	}
}

// Hit is one search result: an internal id and its similarity to the query.
type Hit struct {
	ID    uint32
	Score float32
}

// Index is a mutable nearest-neighbour index over unit vectors.
//
// Each single call is atomic with respect to concurrent searches. Callers
// needing several writes to appear at once build on a Clone and swap.
type Index interface {
	// Allocate reserves the next internal id. Ids are never reused.
	Allocate() uint32

	// Insert stores vec under id, replacing any previous vector for id.
	// The vector is copied and normalized.
	Insert(id uint32, vec []float32) error

	// Delete removes id. Deleting an absent id is a no-op.
	Delete(id uint32)

	// Search returns up to k hits, most similar first, ties broken by
	// ascending id.
	Search(ctx context.Context, query []float32, k int, metric Metric) ([]Hit, error)

	// Vector returns a copy of the stored vector for id.
	Vector(id uint32) ([]float32, bool)

	Contains(id uint32) bool
	Size() int
	Dimensions() int

	// IDs returns all live ids in ascending order.
	IDs() []uint32

	// NextID is the id the next Allocate call will return.
	NextID() uint32

	Backend() Backend

	// Clone returns an independent deep copy.
	Clone() Index

	// WriteTo serializes the index in the LSVX format.
	WriteTo(w io.Writer) (int64, error)
}

// Options tunes index construction. Zero values select defaults.
type Options struct {
	M        int
	EfSearch int
}

// New creates an empty index of the given backend.
func New(backend Backend, dimensions int, opts Options) (Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimensions)
	}
	switch backend {
	case BackendFlat, "":
		return NewFlat(dimensions), nil
	case BackendHNSW:
		return NewHNSW(dimensions, opts), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", backend)
	}
}

// normalized returns a unit-length copy of v.
func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// prepareQuery validates the query and applies the metric.
func prepareQuery(query []float32, dim int, metric Metric) ([]float32, error) {
	if len(query) != dim {
		return nil, &DimensionMismatchError{Expected: dim, Got: len(query)}
	}
	if metric == Cosine {
		return normalized(query), nil
	}
	return query, nil
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
