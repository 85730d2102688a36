// Package mock provides a test double for the llm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is a mock implementation of llm.Provider. The zero value replies
// with an empty completion; set CompleteResult or CompleteFunc to drive
// responses.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, when non-nil, handles each Complete call.
	CompleteFunc func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteResult is returned by Complete when CompleteFunc is nil.
	CompleteResult *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// TokensPerMessage fixes the per-message cost reported by CountTokens.
	// Zero falls back to a ~4 chars per token estimate.
	TokensPerMessage int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// CompleteCalls records every request passed to Complete, in order.
	CompleteCalls []llm.CompletionRequest
}

// Complete records the call and returns the configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	fn, res, err := p.CompleteFunc, p.CompleteResult, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	return &llm.CompletionResponse{}, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []chat.Message) (int, error) {
	p.mu.Lock()
	per := p.TokensPerMessage
	p.mu.Unlock()

	total := 0
	for _, m := range messages {
		if per > 0 {
			total += per
			continue
		}
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// ModelID implements llm.Provider.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// LastRequest returns the most recent Complete request, or nil.
func (p *Provider) LastRequest() *llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return nil
	}
	req := p.CompleteCalls[len(p.CompleteCalls)-1]
	return &req
}
