package artifact

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matsen/litsearch/internal/catalog"
	"github.com/matsen/litsearch/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(t *testing.T, n int, at time.Time) *Snapshot {
	t.Helper()
	idx := vectorindex.NewFlat(4)
	cat := catalog.New()
	for i := 0; i < n; i++ {
		id := idx.Allocate()
		require.NoError(t, idx.Insert(id, []float32{float32(i + 1), 1, 0, 0}))
		require.NoError(t, cat.Put(id, catalog.Entry{RecordID: "r" + string(rune('a'+i)), Year: 2000 + i}))
	}
	return &Snapshot{
		Manifest: Manifest{ModelVersion: "hash-v1-4", Metric: "cosine", BuildTimestamp: at},
		Index:    idx,
		Catalog:  cat,
	}
}

func TestStore_CommitAndLoadLatest(t *testing.T) {
	s := NewStore(t.TempDir())
	snap := testSnapshot(t, 3, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	require.NoError(t, s.Commit(context.Background(), snap))
	assert.Equal(t, "20260102T030405.000000000Z", snap.Manifest.SnapshotID)
	assert.Equal(t, 3, snap.Manifest.RecordCount)
	assert.Equal(t, "flat", snap.Manifest.Backend)
	assert.NotEmpty(t, snap.Manifest.Vectors.SHA256)

	current, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, snap.Manifest.SnapshotID, current)

	loaded, err := s.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, snap.Manifest.SnapshotID, loaded.Manifest.SnapshotID)
	assert.Equal(t, snap.Manifest.Vectors, loaded.Manifest.Vectors)
	assert.Equal(t, snap.Manifest.Catalog, loaded.Manifest.Catalog)
	assert.Equal(t, "hash-v1-4", loaded.Manifest.ModelVersion)
	assert.Equal(t, 3, loaded.Index.Size())
	assert.Equal(t, 3, loaded.Catalog.Len())
}

func TestStore_LoadLatestEmpty(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.LoadLatest()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStore_CorruptFallsBack(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()
	older := testSnapshot(t, 2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := testSnapshot(t, 3, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.Commit(ctx, older))
	require.NoError(t, s.Commit(ctx, newer))

	// Flip a byte in the newest vector blob.
	path := filepath.Join(s.SnapshotDir(newer.Manifest.SnapshotID), VectorsFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = s.Verify(newer.Manifest.SnapshotID)
	var corrupt *CorruptArtifactError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, VectorsFileName, corrupt.File)

	loaded, err := s.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, older.Manifest.SnapshotID, loaded.Manifest.SnapshotID)

	current, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, older.Manifest.SnapshotID, current)
}

func TestStore_AllCorrupt(t *testing.T) {
	s := NewStore(t.TempDir())
	snap := testSnapshot(t, 1, time.Now())
	require.NoError(t, s.Commit(context.Background(), snap))
	require.NoError(t, os.Remove(filepath.Join(s.SnapshotDir(snap.Manifest.SnapshotID), CatalogFileName)))

	_, err := s.LoadLatest()
	var corrupt *CorruptArtifactError
	assert.ErrorAs(t, err, &corrupt)
}

func TestStore_Retention(t *testing.T) {
	s := NewStore(t.TempDir(), WithRetain(2))
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var last string
	for i := 0; i < 4; i++ {
		snap := testSnapshot(t, 1, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.Commit(context.Background(), snap))
		last = snap.Manifest.SnapshotID
	}

	ids, err := s.List()
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, last, ids[0])
}

func TestStore_SnapshotIDsUnique(t *testing.T) {
	s := NewStore(t.TempDir())
	at := time.Date(2026, 5, 5, 5, 5, 5, 5, time.UTC)
	a := testSnapshot(t, 1, at)
	b := testSnapshot(t, 1, at)
	require.NoError(t, s.Save(a))
	require.NoError(t, s.Save(b))
	assert.NotEqual(t, a.Manifest.SnapshotID, b.Manifest.SnapshotID)
	assert.True(t, strings.HasPrefix(b.Manifest.SnapshotID, a.Manifest.SnapshotID))
}

func TestMinioMirror_Upload(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if r.Method == http.MethodPut {
			mu.Lock()
			keys = append(keys, r.URL.Path)
			mu.Unlock()
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mirror, err := NewMinioMirror(MirrorConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		Bucket:    "indexes",
		Prefix:    "lits",
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	s := NewStore(t.TempDir(), WithMirror(mirror))
	snap := testSnapshot(t, 2, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(snap))
	require.NoError(t, mirror.Upload(context.Background(), s.SnapshotDir(snap.Manifest.SnapshotID), snap.Manifest))

	prefix := "/indexes/lits/" + snap.Manifest.SnapshotID + "/"
	assert.Equal(t, []string{
		prefix + VectorsFileName,
		prefix + CatalogFileName,
		prefix + ManifestFileName,
	}, keys)
}

func TestNewMinioMirror_RequiresBucket(t *testing.T) {
	_, err := NewMinioMirror(MirrorConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
