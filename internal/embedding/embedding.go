// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrEmptyText is returned when asked to embed text with no content.
var ErrEmptyText = errors.New("empty text")

// Embedding represents a vector embedding of text.
type Embedding struct {
	Vector []float32
}

// Dimensions returns the dimensionality of the embedding.
func (e Embedding) Dimensions() int {
	return len(e.Vector)
}

// EmbeddingError reports a failed embedding request.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding with %s: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Canonicalize trims text and collapses internal whitespace so that
// equivalent inputs embed identically.
func Canonicalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Normalize scales v to unit length in place. Zero vectors are left untouched.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
