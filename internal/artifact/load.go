package artifact

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/matsen/litsearch/internal/catalog"
	"github.com/matsen/litsearch/internal/vectorindex"
)

// ReadManifest reads and checks the manifest of snapshot id.
func (s *Store) ReadManifest(id string) (Manifest, error) {
	return readManifest(s.SnapshotDir(id), id)
}

// Verify checks the size and checksum of every blob of snapshot id.
func (s *Store) Verify(id string) (Manifest, error) {
	m, err := s.ReadManifest(id)
	if err != nil {
		return m, err
	}
	dir := s.SnapshotDir(id)
	for _, fi := range []FileInfo{m.Vectors, m.Catalog} {
		if err := verifyBlob(dir, id, fi); err != nil {
			return m, err
		}
	}
	return m, nil
}

func verifyBlob(dir, id string, fi FileInfo) error {
	f, err := os.Open(filepath.Join(dir, fi.File))
	if err != nil {
		return &CorruptArtifactError{SnapshotID: id, File: fi.File, Reason: "missing", Err: err}
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return &CorruptArtifactError{SnapshotID: id, File: fi.File, Reason: "unreadable", Err: err}
	}
	if n != fi.Size {
		return &CorruptArtifactError{
			SnapshotID: id,
			File:       fi.File,
			Reason:     fmt.Sprintf("size %d, manifest says %d", n, fi.Size),
		}
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != fi.SHA256 {
		return &CorruptArtifactError{SnapshotID: id, File: fi.File, Reason: "checksum mismatch"}
	}
	return nil
}

// Load verifies and decodes snapshot id.
func (s *Store) Load(id string) (*Snapshot, error) {
	m, err := s.Verify(id)
	if err != nil {
		return nil, err
	}
	dir := s.SnapshotDir(id)

	idx, err := vectorindex.Load(filepath.Join(dir, m.Vectors.File))
	if err != nil {
		return nil, &CorruptArtifactError{SnapshotID: id, File: m.Vectors.File, Reason: "undecodable", Err: err}
	}
	if idx.Dimensions() != m.VectorDimension {
		return nil, &CorruptArtifactError{
			SnapshotID: id,
			File:       m.Vectors.File,
			Reason:     fmt.Sprintf("dimension %d, manifest says %d", idx.Dimensions(), m.VectorDimension),
		}
	}

	f, err := os.Open(filepath.Join(dir, m.Catalog.File))
	if err != nil {
		return nil, &CorruptArtifactError{SnapshotID: id, File: m.Catalog.File, Reason: "missing", Err: err}
	}
	defer f.Close()
	cat, err := catalog.Read(bufio.NewReader(f))
	if err != nil {
		return nil, &CorruptArtifactError{SnapshotID: id, File: m.Catalog.File, Reason: "undecodable", Err: err}
	}

	return &Snapshot{Manifest: m, Index: idx, Catalog: cat}, nil
}

// LoadLatest loads the current snapshot. If it is corrupt the newest older
// snapshot that verifies is loaded instead and made current. It returns
// ErrNoSnapshot when there is nothing to load, or the first corruption error
// when every snapshot is damaged.
func (s *Store) LoadLatest() (*Snapshot, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}

	current, err := s.Current()
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return nil, err
	}
	candidates := ids
	if current != "" {
		candidates = append([]string{current}, filterOut(ids, current)...)
	}
	if len(candidates) == 0 {
		return nil, ErrNoSnapshot
	}

	var firstErr error
	for _, id := range candidates {
		snap, err := s.Load(id)
		if err == nil {
			if id != current {
				s.logger.Warn("falling back to older snapshot", "snapshot", id, "current", current)
				if err := s.Activate(id); err != nil {
					s.logger.Warn("repointing CURRENT", "error", err)
				}
			}
			return snap, nil
		}

		var corrupt *CorruptArtifactError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		s.logger.Error("snapshot failed verification", "snapshot", id, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func filterOut(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
