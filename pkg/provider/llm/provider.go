// Package llm defines the Provider interface for the language-model backends
// used by the attribution arbitration stage.
//
// A Provider wraps a model-serving API — in practice a local inference
// server such as Ollama, llama.cpp, or any OpenAI-compatible endpoint — and
// exposes a uniform non-streaming completion call. The attribution engine
// issues exactly one completion per escalated span attempt, so streaming and
// tool calling are deliberately out of the contract.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly: when ctx is cancelled or its deadline passes,
// Complete must return as quickly as possible.
package llm

import "context"

// Message is a single message in a completion conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// text.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce a
// response. A zero-value request is invalid; at minimum Messages must be
// non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. For attribution requests this is
	// a single user message carrying the span and its context window.
	Messages []Message

	// SystemPrompt is a high-priority instruction injected before the
	// conversation. Providers without a dedicated system field prepend it as
	// a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. The engine runs
	// low temperatures (0.0–0.4) so repeated arbitrations stay consistent.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the full, non-streaming model reply.
type CompletionResponse struct {
	// Content is the text of the reply. The validator parses it as strict
	// JSON; the provider performs no interpretation.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over a model backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is done first. A non-nil
	// error always means the response never arrived (transport, timeout,
	// cancellation) — a malformed but delivered payload is returned as a
	// normal response for the caller to judge.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
