// Package llm defines the Provider interface for Large Language Model
// backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, …) behind a uniform completion surface so the reply
// pipeline never couples to any specific SDK. Replies are delivered whole;
// chunking for the transport happens downstream.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/reverie-chat/reverie/pkg/chat"
)

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically user-role and drives the response.
	Messages []chat.Message

	// SystemPrompt is injected before the history. Providers without a
	// dedicated system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the full, non-streamed model reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
//
// Each method must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the tokens the given messages would consume in
	// the model's context window. The prompt composer uses it to enforce the
	// context budget before sending. The result need not be exact but should
	// not undercount.
	CountTokens(messages []chat.Message) (int, error)

	// ModelID returns the model identifier used for completions.
	ModelID() string
}
