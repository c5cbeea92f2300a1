// Package artifact persists index snapshots: a vector blob, a catalog blob
// and a manifest with checksums, one directory per snapshot, plus a CURRENT
// file naming the active one.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// FormatVersion is the manifest layout version.
	FormatVersion = 2

	ManifestFileName = "manifest.json"
	VectorsFileName  = "vectors.lsvx.zst"
	CatalogFileName  = "catalog.jsonl.lz4"
	CurrentFileName  = "CURRENT"
	SnapshotsDirName = "snapshots"
)

// ErrNoSnapshot is returned when the artifact directory holds no usable snapshot.
var ErrNoSnapshot = errors.New("no index snapshot")

// CorruptArtifactError reports a snapshot that fails verification.
type CorruptArtifactError struct {
	SnapshotID string
	File       string
	Reason     string
	Err        error
}

func (e *CorruptArtifactError) Error() string {
	msg := fmt.Sprintf("snapshot %s: %s is corrupt: %s", e.SnapshotID, e.File, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptArtifactError) Unwrap() error {
	return e.Err
}

// FileInfo describes one blob of a snapshot.
type FileInfo struct {
	File   string `json:"file"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest describes a snapshot.
type Manifest struct {
	FormatVersion   int       `json:"format_version"`
	SnapshotID      string    `json:"snapshot_id"`
	ModelVersion    string    `json:"model_version"`
	Backend         string    `json:"backend"`
	Metric          string    `json:"metric"`
	VectorDimension int       `json:"vector_dimension"`
	RecordCount     int       `json:"record_count"`
	BuildTimestamp  time.Time `json:"build_timestamp"`

	// Watermark is the record store time the snapshot reflects; the next
	// incremental build asks for changes after it.
	Watermark time.Time `json:"watermark"`

	Vectors FileInfo `json:"vectors"`
	Catalog FileInfo `json:"catalog"`
}

func readManifest(dir, id string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return m, &CorruptArtifactError{SnapshotID: id, File: ManifestFileName, Reason: "unreadable", Err: err}
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, &CorruptArtifactError{SnapshotID: id, File: ManifestFileName, Reason: "invalid JSON", Err: err}
	}
	if m.FormatVersion != FormatVersion {
		return m, &CorruptArtifactError{
			SnapshotID: id,
			File:       ManifestFileName,
			Reason:     fmt.Sprintf("unsupported format version %d", m.FormatVersion),
		}
	}
	if m.SnapshotID != id {
		return m, &CorruptArtifactError{
			SnapshotID: id,
			File:       ManifestFileName,
			Reason:     fmt.Sprintf("names snapshot %q", m.SnapshotID),
		}
	}
	return m, nil
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFileName), append(data, '\n'), 0644)
}
