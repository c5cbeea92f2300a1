package main

import (
	"errors"

	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/builder"
	"github.com/matsen/litsearch/internal/embedding"
	"github.com/matsen/litsearch/internal/engine"
	"github.com/matsen/litsearch/internal/errs"
)

// Exit codes
const (
	ExitSuccess         = 0   // Success
	ExitError           = 1   // General error (invalid arguments, runtime failure)
	ExitConfigError     = 2   // Configuration error (invalid config file or paths)
	ExitDataError       = 3   // Data error (malformed input, record not found)
	ExitNoIndex         = 4   // No index snapshot has been built
	ExitModelNotFound   = 5   // Embedding model not found or embedder unreachable
	ExitIndexStale      = 6   // Index is out of date or built with another model
	ExitBuildInProgress = 7   // Another build holds the lock
	ExitCorruptIndex    = 8   // Snapshot failed verification
	ExitQueryError      = 9   // Query cannot be answered as asked
	ExitCancelled       = 130 // Interrupted
)

// exitError carries an explicit exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitCodeFor classifies err.
func exitCodeFor(err error) int {
	var (
		exitErr    *exitError
		queryErr   *engine.QueryError
		mismatch   *engine.ModelMismatchError
		buildErr   *builder.BuildError
		corruptErr *artifact.CorruptArtifactError
		embedErr   *embedding.EmbeddingError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.code
	case errors.Is(err, errs.ErrCancelled):
		return ExitCancelled
	case errors.Is(err, artifact.ErrNoSnapshot):
		return ExitNoIndex
	case errors.As(err, &queryErr):
		return ExitQueryError
	case errors.As(err, &mismatch):
		return ExitIndexStale
	case errors.Is(err, builder.ErrBuildInProgress):
		return ExitBuildInProgress
	case errors.As(err, &corruptErr):
		return ExitCorruptIndex
	case errors.Is(err, errs.ErrNotFound):
		return ExitDataError
	case errors.As(err, &buildErr), errors.As(err, &embedErr):
		return ExitModelNotFound
	default:
		return ExitError
	}
}
