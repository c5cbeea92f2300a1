package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/matsen/litsearch/internal/errs"
)

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// HashProvider is a deterministic feature-hashing embedder: word tokens and
// character trigrams are hashed into buckets and the result L2-normalized.
// It needs no network and is used offline and in tests.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a hashing embedder with the given dimension.
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashProvider{dimensions: dimensions}
}

// Embed generates an embedding for the given text.
func (h *HashProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	if err := errs.CheckContext(ctx); err != nil {
		return Embedding{}, &EmbeddingError{Model: h.ModelName(), Err: err}
	}
	texts, err := checkTexts(h.ModelName(), []string{text})
	if err != nil {
		return Embedding{}, err
	}
	return Embedding{Vector: h.vector(texts[0])}, nil
}

// EmbedBatch embeds each text in order.
func (h *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if err := errs.CheckContext(ctx); err != nil {
		return nil, &EmbeddingError{Model: h.ModelName(), Err: err}
	}
	texts, err := checkTexts(h.ModelName(), texts)
	if err != nil {
		return nil, err
	}
	out := make([]Embedding, len(texts))
	for i, t := range texts {
		out[i] = Embedding{Vector: h.vector(t)}
	}
	return out, nil
}

func (h *HashProvider) vector(text string) []float32 {
	v := make([]float32, h.dimensions)
	lower := strings.ToLower(text)

	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		v[h.bucket(tok)] += tokenWeight
	}

	runes := []rune(lower)
	if len(runes) < ngramSize {
		v[h.bucket(lower)] += ngramWeight
	}
	for i := 0; i+ngramSize <= len(runes); i++ {
		v[h.bucket(string(runes[i:i+ngramSize]))] += ngramWeight
	}

	Normalize(v)
	return v
}

func (h *HashProvider) bucket(s string) int {
	f := fnv.New32a()
	f.Write([]byte(s))
	return int(f.Sum32() % uint32(h.dimensions))
}

// ModelName identifies the hashing scheme and dimension.
func (h *HashProvider) ModelName() string {
	return fmt.Sprintf("hash-v1-%d", h.dimensions)
}

// Dimensions returns the vector dimension.
func (h *HashProvider) Dimensions() int {
	return h.dimensions
}
