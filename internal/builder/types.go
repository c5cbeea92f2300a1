// Package builder constructs and incrementally maintains index snapshots
// from the record store.
package builder

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/record"
)

// ErrBuildInProgress is returned when another build holds the build lock.
var ErrBuildInProgress = errors.New("index build already in progress")

// Mode selects a full or incremental build.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ParseMode parses a build mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", fmt.Errorf("unknown build mode %q", s)
	}
}

// BuildError reports a build abandoned because too many embedding batches failed.
type BuildError struct {
	Mode          Mode
	FailedBatches int
	Batches       int
	Err           error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s build failed: %d of %d embedding batches failed", e.Mode, e.FailedBatches, e.Batches)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// RecordSource is the read side of the record store.
type RecordSource interface {
	ListRecords(ctx context.Context, opts record.ListOptions) iter.Seq2[record.Record, error]
	GetRecord(ctx context.Context, id string) (record.Record, error)
	Changes(ctx context.Context, since time.Time) (record.Changeset, error)
}

// Publisher holds the active snapshot. Publish must make snap visible to
// readers atomically.
type Publisher interface {
	Active() *artifact.Snapshot
	Publish(snap *artifact.Snapshot)
}

// ProgressReporter receives progress updates during index building.
type ProgressReporter interface {
	// OnProgress is called with the current progress.
	OnProgress(current, total int)
}

// ProgressFunc is a function adapter for ProgressReporter.
type ProgressFunc func(current, total int)

// OnProgress implements ProgressReporter.
func (f ProgressFunc) OnProgress(current, total int) {
	f(current, total)
}

// BuildStats summarizes a build.
type BuildStats struct {
	Mode          Mode          `json:"mode"`
	RecordsSeen   int           `json:"records_seen"`
	Indexed       int           `json:"indexed"`
	Updated       int           `json:"updated"`
	Deleted       int           `json:"deleted"`
	Skipped       int           `json:"skipped"`
	Resumed       int           `json:"resumed"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Compacted     int           `json:"compacted"`
	IndexSize     int           `json:"index_size"`
	SnapshotID    string        `json:"snapshot_id"`
	Duration      time.Duration `json:"duration"`
	ByYear        map[int]int   `json:"by_year"`
}
