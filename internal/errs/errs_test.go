package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelled(t *testing.T) {
	t.Run("wraps context canceled", func(t *testing.T) {
		err := Cancelled(context.Canceled)
		assert.ErrorIs(t, err, ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("wraps deadline exceeded", func(t *testing.T) {
		err := Cancelled(fmt.Errorf("embedding: %w", context.DeadlineExceeded))
		assert.ErrorIs(t, err, ErrCancelled)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("leaves other errors alone", func(t *testing.T) {
		other := errors.New("boom")
		assert.Same(t, other, Cancelled(other))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Cancelled(nil))
	})

	t.Run("does not double wrap", func(t *testing.T) {
		once := Cancelled(context.Canceled)
		assert.Equal(t, once, Cancelled(once))
	})
}

func TestCheckContext(t *testing.T) {
	require.NoError(t, CheckContext(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, CheckContext(ctx), ErrCancelled)
}
