// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// The visit archive embeds each finished visit's summary and transcript so
// later visits can be retrieved by meaning rather than keyword ("last time we
// discussed her knee"). OpenAI's text-embedding-3 family and local Ollama
// models both sit behind this interface.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// Every vector a single Provider returns has the same length, reported by
// Dimensions. Vectors from different providers, or from the same provider
// configured with different models, must never be compared in one similarity
// computation.
type Provider interface {
	// Embed returns the vector for one text, of length Dimensions(). The text
	// is passed to the model verbatim; any model-specific prefix formatting is
	// the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call. The result has the same
	// length and order as texts. On error no partial results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length this provider produces.
	Dimensions() int

	// ModelID names the underlying model, for logging and for checking that
	// an archive index and its query embedder agree.
	ModelID() string
}
