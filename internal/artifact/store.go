package artifact

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/matsen/litsearch/internal/catalog"
	"github.com/matsen/litsearch/internal/vectorindex"
)

// DefaultRetain is how many snapshots are kept on disk.
const DefaultRetain = 3

const tmpPrefix = ".tmp-"

// Snapshot is an index and catalog that are published together.
type Snapshot struct {
	Manifest Manifest
	Index    vectorindex.Index
	Catalog  *catalog.Catalog
}

// Mirror copies a committed snapshot elsewhere.
type Mirror interface {
	Upload(ctx context.Context, dir string, m Manifest) error
}

// Store manages snapshot directories under one artifact directory.
type Store struct {
	dir    string
	retain int
	mirror Mirror
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRetain sets how many snapshots to keep.
func WithRetain(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retain = n
		}
	}
}

// WithMirror uploads every committed snapshot through m.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a store rooted at dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, retain: DefaultRetain, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) snapshotsDir() string {
	return filepath.Join(s.dir, SnapshotsDirName)
}

// SnapshotDir returns the directory of snapshot id.
func (s *Store) SnapshotDir(id string) string {
	return filepath.Join(s.snapshotsDir(), id)
}

// newSnapshotID derives a sortable id from the build time.
func (s *Store) newSnapshotID(t time.Time) string {
	base := t.UTC().Format("20060102T150405.000000000Z")
	id := base
	for n := 1; ; n++ {
		if _, err := os.Stat(s.SnapshotDir(id)); errors.Is(err, os.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// Save writes snap to a new snapshot directory and fills in its manifest.
// The directory appears atomically; CURRENT is not changed.
func (s *Store) Save(snap *Snapshot) error {
	if err := os.MkdirAll(s.snapshotsDir(), 0755); err != nil {
		return fmt.Errorf("creating snapshots directory: %w", err)
	}

	m := &snap.Manifest
	if m.BuildTimestamp.IsZero() {
		m.BuildTimestamp = time.Now()
	}
	m.FormatVersion = FormatVersion
	m.SnapshotID = s.newSnapshotID(m.BuildTimestamp)
	m.Backend = string(snap.Index.Backend())
	m.VectorDimension = snap.Index.Dimensions()
	m.RecordCount = snap.Index.Size()

	tmp := filepath.Join(s.snapshotsDir(), tmpPrefix+m.SnapshotID)
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmp) }

	var err error
	if m.Vectors, err = writeBlob(filepath.Join(tmp, VectorsFileName), snap.Index); err != nil {
		cleanup()
		return fmt.Errorf("writing vectors: %w", err)
	}
	if m.Catalog, err = writeBlob(filepath.Join(tmp, CatalogFileName), snap.Catalog); err != nil {
		cleanup()
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := writeManifest(tmp, *m); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tmp, s.SnapshotDir(m.SnapshotID)); err != nil {
		cleanup()
		return fmt.Errorf("renaming snapshot directory: %w", err)
	}
	return nil
}

// writeBlob streams w to path, returning its size and checksum.
func writeBlob(path string, w io.WriterTo) (FileInfo, error) {
	info := FileInfo{File: filepath.Base(path)}

	f, err := os.Create(path)
	if err != nil {
		return info, err
	}
	defer f.Close()

	h := sha256.New()
	bw := bufio.NewWriter(io.MultiWriter(f, h))
	n, err := w.WriteTo(bw)
	if err != nil {
		return info, err
	}
	if err := bw.Flush(); err != nil {
		return info, err
	}
	if err := f.Sync(); err != nil {
		return info, err
	}

	info.Size = n
	info.SHA256 = hex.EncodeToString(h.Sum(nil))
	return info, f.Close()
}

// Activate points CURRENT at snapshot id.
func (s *Store) Activate(id string) error {
	path := filepath.Join(s.dir, CurrentFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0644); err != nil {
		return fmt.Errorf("writing CURRENT: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming CURRENT: %w", err)
	}
	return nil
}

// Current returns the id named by CURRENT, or ErrNoSnapshot.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, CurrentFileName))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSnapshot
	}
	if err != nil {
		return "", fmt.Errorf("reading CURRENT: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrNoSnapshot
	}
	return id, nil
}

// List returns snapshot ids, newest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.snapshotsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), tmpPrefix) {
			ids = append(ids, e.Name())
		}
	}
	slices.Sort(ids)
	slices.Reverse(ids)
	return ids, nil
}

// Commit saves snap, makes it current, prunes old snapshots and mirrors it.
// Pruning and mirroring failures are logged, not returned.
func (s *Store) Commit(ctx context.Context, snap *Snapshot) error {
	if err := s.Save(snap); err != nil {
		return err
	}
	if err := s.Activate(snap.Manifest.SnapshotID); err != nil {
		return err
	}

	if err := s.Prune(); err != nil {
		s.logger.Warn("pruning snapshots", "error", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, s.SnapshotDir(snap.Manifest.SnapshotID), snap.Manifest); err != nil {
			s.logger.Warn("mirroring snapshot", "snapshot", snap.Manifest.SnapshotID, "error", err)
		}
	}
	return nil
}

// Prune removes all but the newest retained snapshots. The current snapshot
// and leftover temp directories are handled too.
func (s *Store) Prune() error {
	current, _ := s.Current()
	ids, err := s.List()
	if err != nil {
		return err
	}

	var errs []error
	for i, id := range ids {
		if i < s.retain || id == current {
			continue
		}
		if err := os.RemoveAll(s.SnapshotDir(id)); err != nil {
			errs = append(errs, err)
		}
	}

	entries, _ := os.ReadDir(s.snapshotsDir())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			os.RemoveAll(filepath.Join(s.snapshotsDir(), e.Name()))
		}
	}
	return errors.Join(errs...)
}
