package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestCheckpoint_ResumeAfterReopen(t *testing.T) {
	db, path := openTestDB(t)
	ctx := context.Background()
	watermark := time.Unix(1_700_000_000, 42)

	st, err := db.Begin(ctx, "hash-v1-3", 3, watermark)
	require.NoError(t, err)
	assert.False(t, st.Resumed)

	require.NoError(t, db.CommitBatch(ctx, "r2", []Vector{
		{RecordID: "r1", TextHash: "h1", Vector: []float32{1, 0, 0}},
		{RecordID: "r2", TextHash: "h2", Vector: []float32{0, 0.5, -1.25}},
	}))
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	st, err = reopened.Begin(ctx, "hash-v1-3", 3, time.Now())
	require.NoError(t, err)
	assert.True(t, st.Resumed)
	assert.Equal(t, "r2", st.LastRecordID)
	assert.Equal(t, 2, st.Staged)
	assert.True(t, watermark.Equal(st.Watermark))

	staged, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, staged, 2)
	assert.Equal(t, []float32{0, 0.5, -1.25}, staged["r2"].Vector)
	assert.Equal(t, "h1", staged["r1"].TextHash)
}

func TestCheckpoint_ModelChangeDiscards(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	_, err := db.Begin(ctx, "model-a", 2, time.Now())
	require.NoError(t, err)
	require.NoError(t, db.CommitBatch(ctx, "r1", []Vector{{RecordID: "r1", TextHash: "h", Vector: []float32{1, 0}}}))

	st, err := db.Begin(ctx, "model-b", 2, time.Now())
	require.NoError(t, err)
	assert.False(t, st.Resumed)

	staged, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestCheckpoint_Clear(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	_, err := db.Begin(ctx, "m", 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, db.CommitBatch(ctx, "r1", []Vector{{RecordID: "r1", TextHash: "h", Vector: []float32{1}}}))
	require.NoError(t, db.Clear(ctx))

	st, err := db.Begin(ctx, "m", 1, time.Now())
	require.NoError(t, err)
	assert.False(t, st.Resumed)
}

func TestDecodeVector_BadLength(t *testing.T) {
	_, err := decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
