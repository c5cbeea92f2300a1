package embedding

import (
	"errors"
	"math"
	"testing"
)

func TestEmbedding_Dimensions(t *testing.T) {
	tests := []struct {
		name     string
		vector   []float32
		expected int
	}{
		{
			name:     "384 dimensions",
			vector:   make([]float32, 384),
			expected: 384,
		},
		{
			name:     "empty vector",
			vector:   []float32{},
			expected: 0,
		},
		{
			name:     "small vector",
			vector:   []float32{1.0, 2.0, 3.0},
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := Embedding{Vector: tt.vector}
			if got := emb.Dimensions(); got != tt.expected {
				t.Errorf("Dimensions() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  hello   world ", "hello world"},
		{"line\none\ttab", "line one tab"},
		{"   ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Canonicalize(tt.input); got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize() = %v, want [0.6 0.8]", v)
	}

	zero := []float32{0, 0}
	Normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("Normalize(zero) = %v, want unchanged", zero)
	}
}

func TestEmbeddingError(t *testing.T) {
	err := error(&EmbeddingError{Model: "m", Err: ErrEmptyText})
	if !errors.Is(err, ErrEmptyText) {
		t.Error("EmbeddingError should unwrap to ErrEmptyText")
	}
	var ee *EmbeddingError
	if !errors.As(err, &ee) || ee.Model != "m" {
		t.Errorf("errors.As failed: %v", err)
	}
}
