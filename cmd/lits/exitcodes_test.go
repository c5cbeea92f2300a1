package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/builder"
	"github.com/matsen/litsearch/internal/embedding"
	"github.com/matsen/litsearch/internal/engine"
	"github.com/matsen/litsearch/internal/errs"
	"github.com/matsen/litsearch/internal/vectorindex"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"explicit", &exitError{code: ExitConfigError, err: errors.New("bad config")}, ExitConfigError},
		{"wrapped explicit", fmt.Errorf("setup: %w", &exitError{code: ExitNoIndex, err: errors.New("x")}), ExitNoIndex},
		{"cancelled", errs.Cancelled(context.Canceled), ExitCancelled},
		{"no snapshot", artifact.ErrNoSnapshot, ExitNoIndex},
		{"query error", &engine.QueryError{Query: "q", Err: vectorindex.ErrEmptyIndex}, ExitQueryError},
		{"query without snapshot", &engine.QueryError{Query: "q", Err: artifact.ErrNoSnapshot}, ExitNoIndex},
		{"model mismatch", &engine.ModelMismatchError{SnapshotModel: "a", Model: "b"}, ExitIndexStale},
		{"in progress", fmt.Errorf("building index: %w", builder.ErrBuildInProgress), ExitBuildInProgress},
		{"corrupt", &artifact.CorruptArtifactError{SnapshotID: "s", File: "f", Reason: "r"}, ExitCorruptIndex},
		{"not found", fmt.Errorf("record x: %w", errs.ErrNotFound), ExitDataError},
		{"build failed", &builder.BuildError{Mode: builder.ModeFull, FailedBatches: 2, Batches: 3}, ExitModelNotFound},
		{"embedder", &embedding.EmbeddingError{Model: "m", Err: errors.New("refused")}, ExitModelNotFound},
		{"other", errors.New("boom"), ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
