package vectorindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/coder/hnsw"
	"github.com/matsen/litsearch/internal/errs"
)

const (
	// DefaultM is the HNSW graph degree.
	DefaultM = 16

	// DefaultEfSearch is the HNSW candidate list size during search.
	// With DefaultM this gives recall@10 of at least 0.95 up to ~100k vectors.
	DefaultEfSearch = 64
)

// HNSW is an approximate index backed by a coder/hnsw graph.
//
// Deletes are lazy: the graph node stays but is no longer mapped to an id and
// is skipped at search time. coder/hnsw misbehaves when the last node is
// deleted, so nodes are only ever dropped by Compact rebuilding the graph.
// Hits are re-scored exactly against the stored vectors.
type HNSW struct {
	mu      sync.RWMutex
	dim     int
	opts    Options
	graph   *hnsw.Graph[uint64]
	nextID  uint32
	nextKey uint64
	vecs    map[uint32][]float32
	keys    map[uint32]uint64
	owner   map[uint64]uint32
}

// NewHNSW creates an empty approximate index.
func NewHNSW(dimensions int, opts Options) *HNSW {
	if opts.M <= 0 {
		opts.M = DefaultM
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = DefaultEfSearch
	}
	return &HNSW{
		dim:   dimensions,
		opts:  opts,
		graph: newGraph(opts),
		vecs:  make(map[uint32][]float32),
		keys:  make(map[uint32]uint64),
		owner: make(map[uint64]uint32),
	}
}

func newGraph(opts Options) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = opts.M
	g.EfSearch = opts.EfSearch
	g.Ml = 0.25
	return g
}

func (h *HNSW) Allocate() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	return id
}

func (h *HNSW) Insert(id uint32, vec []float32) error {
	if len(vec) != h.dim {
		return &DimensionMismatchError{Expected: h.dim, Got: len(vec)}
	}
	v := normalized(vec)

	h.mu.Lock()
	defer h.mu.Unlock()

	if id >= h.nextID {
		h.nextID = id + 1
	}
	if old, ok := h.keys[id]; ok {
		delete(h.owner, old)
	}
	h.add(id, v)
	return nil
}

// add places v in the graph under a fresh key. Caller holds the write lock.
func (h *HNSW) add(id uint32, v []float32) {
	key := h.nextKey
	h.nextKey++
	h.graph.Add(hnsw.MakeNode(key, v))
	h.vecs[id] = v
	h.keys[id] = key
	h.owner[key] = id
}

func (h *HNSW) Delete(id uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key, ok := h.keys[id]
	if !ok {
		return
	}
	delete(h.owner, key)
	delete(h.keys, id)
	delete(h.vecs, id)
}

func (h *HNSW) Search(ctx context.Context, query []float32, k int, metric Metric) ([]Hit, error) {
	q, err := prepareQuery(query, h.dim, metric)
	if err != nil {
		return nil, err
	}
	if err := errs.CheckContext(ctx); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	live := len(h.vecs)
	if live == 0 {
		return nil, ErrEmptyIndex
	}
	if k <= 0 {
		return nil, nil
	}

	k = min(k, live)
	top := newTopK(k)

	// Over-fetch so that tombstoned nodes do not crowd out live ones.
	fetch := k + h.graph.Len() - live
	if fetch >= live {
		for id, v := range h.vecs {
			top.offer(Hit{ID: id, Score: dot(q, v)})
		}
		return top.sorted(), nil
	}

	for _, node := range h.graph.Search(q, fetch) {
		id, ok := h.owner[node.Key]
		if !ok {
			continue
		}
		top.offer(Hit{ID: id, Score: dot(q, h.vecs[id])})
	}
	return top.sorted(), nil
}

// Tombstones returns the number of deleted nodes still in the graph.
func (h *HNSW) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph.Len() - len(h.vecs)
}

// TombstoneRatio is Tombstones over total graph nodes.
func (h *HNSW) TombstoneRatio() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := h.graph.Len()
	if n == 0 {
		return 0
	}
	return float64(n-len(h.vecs)) / float64(n)
}

// Compact rebuilds the graph from live vectors only and returns the number of
// tombstones purged.
func (h *HNSW) Compact() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	purged := h.graph.Len() - len(h.vecs)
	h.rebuild()
	return purged
}

// rebuild re-adds all live vectors in id order. Caller holds the write lock.
func (h *HNSW) rebuild() {
	ids := make([]uint32, 0, len(h.vecs))
	for id := range h.vecs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	vecs := h.vecs
	h.graph = newGraph(h.opts)
	h.vecs = make(map[uint32][]float32, len(ids))
	h.keys = make(map[uint32]uint64, len(ids))
	h.owner = make(map[uint64]uint32, len(ids))
	for _, id := range ids {
		h.add(id, vecs[id])
	}
}

func (h *HNSW) Vector(id uint32) ([]float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.vecs[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

func (h *HNSW) Contains(id uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.vecs[id]
	return ok
}

func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vecs)
}

func (h *HNSW) Dimensions() int { return h.dim }

func (h *HNSW) IDs() []uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sortedIDs()
}

func (h *HNSW) sortedIDs() []uint32 {
	ids := make([]uint32, 0, len(h.vecs))
	for id := range h.vecs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (h *HNSW) NextID() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nextID
}

func (h *HNSW) Backend() Backend { return BackendHNSW }

// Clone copies the graph through an export/import round trip, falling back
// to a rebuild if that fails.
func (h *HNSW) Clone() Index {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c := &HNSW{
		dim:     h.dim,
		opts:    h.opts,
		nextID:  h.nextID,
		nextKey: h.nextKey,
		vecs:    make(map[uint32][]float32, len(h.vecs)),
		keys:    make(map[uint32]uint64, len(h.keys)),
		owner:   make(map[uint64]uint32, len(h.owner)),
	}
	for id, v := range h.vecs {
		c.vecs[id] = slices.Clone(v)
	}
	for id, key := range h.keys {
		c.keys[id] = key
	}
	for key, id := range h.owner {
		c.owner[key] = id
	}

	var buf bytes.Buffer
	if err := h.graph.Export(&buf); err == nil {
		g := newGraph(h.opts)
		if err := g.Import(&buf); err == nil {
			g.Distance = hnsw.CosineDistance
			c.graph = g
			return c
		}
	}
	c.rebuild()
	return c
}

func (h *HNSW) WriteTo(w io.Writer) (int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := h.sortedIDs()
	e := newEncoder(w, header{
		Backend: backendCode(BackendHNSW),
		Dim:     uint32(h.dim),
		NextID:  h.nextID,
		Count:   uint32(len(ids)),
	})
	for _, id := range ids {
		e.row(id, h.vecs[id])
	}

	e.write(uint32(h.opts.M))
	e.write(uint32(h.opts.EfSearch))
	e.write(h.nextKey)
	for _, id := range ids {
		e.write(h.keys[id])
	}
	if h.graph.Len() == 0 {
		e.write(uint8(0))
		return e.close()
	}
	e.write(uint8(1))
	e.raw(h.graph.Export)
	return e.close()
}

func readHNSW(r io.Reader, hd header, ids []uint32, rows []float32) (*HNSW, error) {
	var m, ef uint32
	var nextKey uint64
	var hasGraph uint8
	for _, v := range []any{&m, &ef, &nextKey} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: reading graph parameters: %v", ErrBadFormat, err)
		}
	}
	keys := make([]uint64, len(ids))
	if err := binary.Read(r, binary.LittleEndian, keys); err != nil {
		return nil, fmt.Errorf("%w: reading graph keys: %v", ErrBadFormat, err)
	}

	h := NewHNSW(int(hd.Dim), Options{M: int(m), EfSearch: int(ef)})
	h.nextID = hd.NextID
	h.nextKey = nextKey
	dim := int(hd.Dim)
	for i, id := range ids {
		h.vecs[id] = rows[i*dim : (i+1)*dim : (i+1)*dim]
		h.keys[id] = keys[i]
		h.owner[keys[i]] = id
	}

	if err := binary.Read(r, binary.LittleEndian, &hasGraph); err != nil {
		return nil, fmt.Errorf("%w: reading graph marker: %v", ErrBadFormat, err)
	}
	if hasGraph == 0 {
		return h, nil
	}
	if err := h.graph.Import(r); err != nil {
		return nil, fmt.Errorf("%w: importing graph: %v", ErrBadFormat, err)
	}
	h.graph.Distance = hnsw.CosineDistance
	h.graph.EfSearch = h.opts.EfSearch
	return h, nil
}
