package vectorindex

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/matsen/litsearch/internal/errs"
)

// ctxCheckInterval is how many rows a scan covers between context checks.
const ctxCheckInterval = 4096

// Flat is an exact index: vectors live in one row-major slice and every
// search scans all of them.
type Flat struct {
	mu     sync.RWMutex
	dim    int
	nextID uint32
	ids    []uint32
	rows   []float32
	pos    map[uint32]int
}

// NewFlat creates an empty exact index.
func NewFlat(dimensions int) *Flat {
	return &Flat{dim: dimensions, pos: make(map[uint32]int)}
}

func (f *Flat) Allocate() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	return id
}

func (f *Flat) Insert(id uint32, vec []float32) error {
	if len(vec) != f.dim {
		return &DimensionMismatchError{Expected: f.dim, Got: len(vec)}
	}
	v := normalized(vec)

	f.mu.Lock()
	defer f.mu.Unlock()

	if id >= f.nextID {
		f.nextID = id + 1
	}
	if p, ok := f.pos[id]; ok {
		copy(f.row(p), v)
		return nil
	}
	f.pos[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.rows = append(f.rows, v...)
	return nil
}

func (f *Flat) row(p int) []float32 {
	return f.rows[p*f.dim : (p+1)*f.dim]
}

// Delete moves the last row into the freed slot.
func (f *Flat) Delete(id uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pos[id]
	if !ok {
		return
	}
	last := len(f.ids) - 1
	if p != last {
		copy(f.row(p), f.row(last))
		f.ids[p] = f.ids[last]
		f.pos[f.ids[p]] = p
	}
	f.ids = f.ids[:last]
	f.rows = f.rows[:last*f.dim]
	delete(f.pos, id)
}

func (f *Flat) Search(ctx context.Context, query []float32, k int, metric Metric) ([]Hit, error) {
	q, err := prepareQuery(query, f.dim, metric)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.ids) == 0 {
		return nil, ErrEmptyIndex
	}
	if k <= 0 {
		return nil, nil
	}

	top := newTopK(min(k, len(f.ids)))
	for p, id := range f.ids {
		if p%ctxCheckInterval == 0 {
			if err := errs.CheckContext(ctx); err != nil {
				return nil, err
			}
		}
		top.offer(Hit{ID: id, Score: dot(q, f.row(p))})
	}
	return top.sorted(), nil
}

func (f *Flat) Vector(id uint32) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.pos[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(f.row(p)), true
}

func (f *Flat) Contains(id uint32) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.pos[id]
	return ok
}

func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

func (f *Flat) Dimensions() int { return f.dim }

func (f *Flat) IDs() []uint32 {
	f.mu.RLock()
	ids := slices.Clone(f.ids)
	f.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (f *Flat) NextID() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nextID
}

func (f *Flat) Backend() Backend { return BackendFlat }

func (f *Flat) Clone() Index {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c := &Flat{
		dim:    f.dim,
		nextID: f.nextID,
		ids:    slices.Clone(f.ids),
		rows:   slices.Clone(f.rows),
		pos:    make(map[uint32]int, len(f.pos)),
	}
	for id, p := range f.pos {
		c.pos[id] = p
	}
	return c
}

func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	e := newEncoder(w, header{
		Backend: backendCode(BackendFlat),
		Dim:     uint32(f.dim),
		NextID:  f.nextID,
		Count:   uint32(len(f.ids)),
	})
	for p, id := range f.ids {
		e.row(id, f.row(p))
	}
	return e.close()
}
