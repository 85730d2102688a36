// Package embeddings defines the Provider interface for vector embedding
// backends and the view framing that turns one text into six semantically
// distinct vectors.
//
// A provider wraps a service that maps text to dense float32 vectors (OpenAI
// text-embedding-3, a local Ollama model, …). The memory layer stores six
// named views per record; all six come from the same model, differentiated by
// the textual frame applied before embedding (see [FrameView]).
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different Provider
// instances must not be mixed in one similarity computation unless both use
// the same model and space.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails
	// or ctx is cancelled. The text is passed through verbatim; view framing
	// is the caller's concern (see FrameView).
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call. The returned slice has the same length as texts and the
	// i-th element corresponds to texts[i]. Partial results are not
	// returned — on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider, constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g., "text-embedding-3-small", "nomic-embed-text").
	ModelID() string
}
