package vectorindex

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/matsen/litsearch/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends() map[Backend]func(dim int) Index {
	return map[Backend]func(dim int) Index{
		BackendFlat: func(dim int) Index { return NewFlat(dim) },
		BackendHNSW: func(dim int) Index { return NewHNSW(dim, Options{}) },
	}
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

// fill inserts n random vectors under freshly allocated ids.
func fill(t *testing.T, idx Index, rng *rand.Rand, n int) map[uint32][]float32 {
	t.Helper()
	vecs := make(map[uint32][]float32, n)
	for i := 0; i < n; i++ {
		id := idx.Allocate()
		v := randomVector(rng, idx.Dimensions())
		require.NoError(t, idx.Insert(id, v))
		vecs[id] = v
	}
	return vecs
}

func TestIndex_SelfQueryRanksFirst(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			rng := rand.New(rand.NewSource(1))
			idx := mk(16)
			vecs := fill(t, idx, rng, 50)

			for id, v := range vecs {
				hits, err := idx.Search(context.Background(), v, 3, Cosine)
				require.NoError(t, err)
				require.NotEmpty(t, hits)
				assert.Equal(t, id, hits[0].ID)
				assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
			}
		})
	}
}

func TestIndex_Empty(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			idx := mk(4)
			assert.Equal(t, 0, idx.Size())

			_, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5, Cosine)
			assert.ErrorIs(t, err, ErrEmptyIndex)
		})
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			idx := mk(4)

			err := idx.Insert(idx.Allocate(), []float32{1, 2, 3})
			var dm *DimensionMismatchError
			require.ErrorAs(t, err, &dm)
			assert.Equal(t, 4, dm.Expected)
			assert.Equal(t, 3, dm.Got)

			require.NoError(t, idx.Insert(idx.Allocate(), []float32{1, 0, 0, 0}))
			_, err = idx.Search(context.Background(), []float32{1}, 1, Cosine)
			assert.ErrorAs(t, err, &dm)
		})
	}
}

func TestIndex_DeleteLeavesNoGhosts(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			rng := rand.New(rand.NewSource(2))
			idx := mk(8)
			vecs := fill(t, idx, rng, 30)

			var victim uint32 = 7
			idx.Delete(victim)
			idx.Delete(victim)
			idx.Delete(999)

			assert.Equal(t, 29, idx.Size())
			assert.False(t, idx.Contains(victim))
			_, ok := idx.Vector(victim)
			assert.False(t, ok)

			hits, err := idx.Search(context.Background(), vecs[victim], 30, Cosine)
			require.NoError(t, err)
			assert.Len(t, hits, 29)
			for _, h := range hits {
				assert.NotEqual(t, victim, h.ID)
			}
		})
	}
}

func TestIndex_TiesBrokenByID(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			idx := mk(2)
			for i := 0; i < 4; i++ {
				require.NoError(t, idx.Insert(idx.Allocate(), []float32{1, 1}))
			}

			hits, err := idx.Search(context.Background(), []float32{1, 1}, 4, Cosine)
			require.NoError(t, err)
			require.Len(t, hits, 4)
			for i, h := range hits {
				assert.Equal(t, uint32(i), h.ID)
			}
		})
	}
}

func TestIndex_Metrics(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			idx := mk(2)
			require.NoError(t, idx.Insert(idx.Allocate(), []float32{3, 0}))

			hits, err := idx.Search(context.Background(), []float32{2, 0}, 1, Cosine)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

			hits, err = idx.Search(context.Background(), []float32{2, 0}, 1, InnerProduct)
			require.NoError(t, err)
			assert.InDelta(t, 2.0, hits[0].Score, 1e-6)
		})
	}
}

func TestIndex_AllocateNeverReuses(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			idx := mk(2)
			a := idx.Allocate()
			require.NoError(t, idx.Insert(a, []float32{1, 0}))
			idx.Delete(a)
			b := idx.Allocate()
			assert.Greater(t, b, a)

			require.NoError(t, idx.Insert(10, []float32{0, 1}))
			assert.Equal(t, uint32(11), idx.NextID())
		})
	}
}

func TestIndex_InsertReplaces(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			idx := mk(2)
			id := idx.Allocate()
			require.NoError(t, idx.Insert(id, []float32{1, 0}))
			require.NoError(t, idx.Insert(id, []float32{0, 1}))

			assert.Equal(t, 1, idx.Size())
			v, ok := idx.Vector(id)
			require.True(t, ok)
			assert.InDelta(t, 1.0, v[1], 1e-6)
		})
	}
}

func TestIndex_Clone(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			rng := rand.New(rand.NewSource(3))
			idx := mk(8)
			fill(t, idx, rng, 20)

			c := idx.Clone()
			c.Delete(0)
			require.NoError(t, c.Insert(c.Allocate(), randomVector(rng, 8)))

			assert.Equal(t, 20, idx.Size())
			assert.True(t, idx.Contains(0))
			assert.Equal(t, uint32(20), idx.NextID())
			assert.Equal(t, 20, c.Size())
			assert.False(t, c.Contains(0))
			assert.Equal(t, idx.Backend(), c.Backend())
		})
	}
}

func TestIndex_SaveLoad(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			rng := rand.New(rand.NewSource(4))
			idx := mk(16)
			vecs := fill(t, idx, rng, 40)
			idx.Delete(5)
			path := filepath.Join(t.TempDir(), "vectors.lsvx.zst")

			require.NoError(t, Save(idx, path))
			loaded, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, idx.Backend(), loaded.Backend())
			assert.Equal(t, idx.Size(), loaded.Size())
			assert.Equal(t, idx.NextID(), loaded.NextID())
			assert.Equal(t, idx.IDs(), loaded.IDs())

			q := vecs[11]
			want, err := idx.Search(context.Background(), q, 5, Cosine)
			require.NoError(t, err)
			got, err := loaded.Search(context.Background(), q, 5, Cosine)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestIndex_SaveLoadEmpty(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "empty.lsvx.zst")
			require.NoError(t, Save(mk(8), path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 0, loaded.Size())
			assert.Equal(t, 8, loaded.Dimensions())
		})
	}
}

func TestRead_BadFormat(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("definitely not zstd")))
	assert.ErrorIs(t, err, ErrBadFormat)
}

func TestIndex_Cancelled(t *testing.T) {
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			idx := mk(2)
			require.NoError(t, idx.Insert(idx.Allocate(), []float32{1, 0}))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := idx.Search(ctx, []float32{1, 0}, 1, Cosine)
			assert.ErrorIs(t, err, errs.ErrCancelled)
		})
	}
}

func TestParseMetricAndBackend(t *testing.T) {
	m, err := ParseMetric("ip")
	require.NoError(t, err)
	assert.Equal(t, InnerProduct, m)
	_, err = ParseMetric("manhattan")
	assert.Error(t, err)

	b, err := ParseBackend("HNSW")
	require.NoError(t, err)
	assert.Equal(t, BackendHNSW, b)
	_, err = ParseBackend("annoy")
	assert.Error(t, err)

	_, err = New(BackendFlat, 0, Options{})
	assert.Error(t, err)
}

func TestIndex_ConcurrentSearchDuringWrites(t *testing.T) {
	const (
		dim     = 16
		stable  = 32
		readers = 4
	)
	for name, mk := range backends() {
		t.Run(string(name), func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			idx := mk(dim)
			fill(t, idx, rng, stable)

			stop := make(chan struct{})
			var wg sync.WaitGroup
			errc := make(chan error, readers)
			for r := range readers {
				wg.Add(1)
				go func(seed int64) {
					defer wg.Done()
					qrng := rand.New(rand.NewSource(seed))
					for {
						select {
						case <-stop:
							return
						default:
						}
						hits, err := idx.Search(context.Background(), randomVector(qrng, dim), 10, Cosine)
						if err != nil {
							errc <- err
							return
						}
						seen := make(map[uint32]bool, len(hits))
						for _, h := range hits {
							if seen[h.ID] {
								errc <- fmt.Errorf("duplicate id %d in %v", h.ID, hits)
								return
							}
							seen[h.ID] = true
						}
					}
				}(int64(r) + 100)
			}

			var deleted []uint32
			for round := 0; round < 20; round++ {
				var added []uint32
				for i := 0; i < 8; i++ {
					id := idx.Allocate()
					if err := idx.Insert(id, randomVector(rng, dim)); err != nil {
						t.Error(err)
					}
					added = append(added, id)
				}
				for _, id := range added[:4] {
					idx.Delete(id)
					deleted = append(deleted, id)
				}
				if c, ok := idx.(interface{ Compact() int }); ok && round%5 == 4 {
					c.Compact()
				}
			}
			close(stop)
			wg.Wait()
			close(errc)
			for err := range errc {
				t.Error(err)
			}

			gone := make(map[uint32]bool, len(deleted))
			for _, id := range deleted {
				gone[id] = true
			}
			hits, err := idx.Search(context.Background(), randomVector(rng, dim), idx.Size(), Cosine)
			require.NoError(t, err)
			assert.Len(t, hits, stable+20*4)
			for _, h := range hits {
				assert.False(t, gone[h.ID], "deleted id %d returned", h.ID)
			}
		})
	}
}
