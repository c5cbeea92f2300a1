package vectorindex

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHNSW_Compact(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	idx := NewHNSW(8, Options{})
	fill(t, idx, rng, 40)

	for id := uint32(0); id < 20; id++ {
		idx.Delete(id)
	}
	assert.Equal(t, 20, idx.Tombstones())
	assert.InDelta(t, 0.5, idx.TombstoneRatio(), 1e-9)

	assert.Equal(t, 20, idx.Compact())
	assert.Equal(t, 0, idx.Tombstones())
	assert.Equal(t, 20, idx.Size())
	assert.Equal(t, uint32(40), idx.NextID())

	v, ok := idx.Vector(30)
	require.True(t, ok)
	hits, err := idx.Search(context.Background(), v, 1, Cosine)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), hits[0].ID)
}

func TestHNSW_RecallAgainstFlat(t *testing.T) {
	const (
		dim     = 32
		n       = 1500
		queries = 30
		k       = 10
	)
	rng := rand.New(rand.NewSource(6))
	approx := NewHNSW(dim, Options{})
	exact := NewFlat(dim)
	for i := 0; i < n; i++ {
		v := randomVector(rng, dim)
		id := approx.Allocate()
		require.NoError(t, approx.Insert(id, v))
		require.NoError(t, exact.Insert(id, v))
	}

	found := 0
	for i := 0; i < queries; i++ {
		q := randomVector(rng, dim)
		want, err := exact.Search(context.Background(), q, k, Cosine)
		require.NoError(t, err)
		got, err := approx.Search(context.Background(), q, k, Cosine)
		require.NoError(t, err)

		truth := make(map[uint32]bool, k)
		for _, h := range want {
			truth[h.ID] = true
		}
		for _, h := range got {
			if truth[h.ID] {
				found++
			}
		}
	}

	recall := float64(found) / float64(queries*k)
	assert.GreaterOrEqual(t, recall, 0.8, "recall@%d = %.3f", k, recall)
}
