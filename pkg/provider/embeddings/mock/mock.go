// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to return pre-canned or per-text vectors without a live model
// and to verify which framed texts were submitted for embedding.
package mock

import (
	"context"
	"sync"

	"github.com/reverie-chat/reverie/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
//
// When EmbedFunc is set it drives every Embed and EmbedBatch result, which
// lets a test hand out distinct vectors per framed view text. Otherwise
// EmbedResult / EmbedBatchResult are returned as-is.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, when non-nil, computes the vector for each text.
	EmbedFunc func(text string) ([]float32, error)

	// EmbedResult is returned by Embed when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedBatchResult is returned by EmbedBatch when EmbedFunc is nil.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records every text passed to Embed, in order.
	EmbedCalls []string

	// EmbedBatchCalls records every slice passed to EmbedBatch, in order.
	EmbedBatchCalls [][]string
}

// Embed records the call and returns the configured vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	fn, res, err := p.EmbedFunc, p.EmbedResult, p.EmbedErr
	p.mu.Unlock()

	if fn != nil {
		return fn(text)
	}
	return res, err
}

// EmbedBatch records the call and returns the configured vectors. When
// EmbedFunc is set it is applied per text; the first failure aborts the batch.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	cp := make([]string, len(texts))
	copy(cp, texts)

	p.mu.Lock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, cp)
	fn, res, err := p.EmbedFunc, p.EmbedBatchResult, p.EmbedBatchErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			vec, err := fn(t)
			if err != nil {
				return nil, err
			}
			out[i] = vec
		}
		return out, nil
	}
	if res != nil {
		return res, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }
