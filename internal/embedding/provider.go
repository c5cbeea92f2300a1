package embedding

import "context"

// Provider generates embeddings from text.
type Provider interface {
	// Embed generates an embedding for the given text.
	Embed(ctx context.Context, text string) (Embedding, error)

	// EmbedBatch generates embeddings for several texts. The result has one
	// entry per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)

	// ModelName returns the name of the embedding model. Vectors from
	// different model names must never share an index.
	ModelName() string

	// Dimensions returns the expected vector dimensions.
	Dimensions() int
}

// checkTexts canonicalizes texts and rejects empty ones.
func checkTexts(model string, texts []string) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Canonicalize(t)
		if out[i] == "" {
			return nil, &EmbeddingError{Model: model, Err: ErrEmptyText}
		}
	}
	return out, nil
}
