// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the inference client sends
// correct CompletionRequests and to feed controlled responses without a live
// model server. All fields are safe to set before calling any method;
// mutating them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"speaker":"MARY"}`},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/narravox/narravox/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Step is one scripted Complete outcome. Exactly one of Response or Err is
// normally set; both zero yields (nil, nil).
type Step struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider is a mock implementation of llm.Provider.
//
// When Script is non-empty, calls consume steps in order; once the script is
// exhausted the final step repeats. Otherwise every call returns
// CompleteResponse, CompleteErr.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// CompleteResponse is returned by Complete when Script is empty.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete when
	// Script is empty.
	CompleteErr error

	// Script, when non-empty, drives per-call outcomes in order.
	Script []Step

	// --- Call records (read after test) ---

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	next int
}

// Complete records the call and returns the next scripted outcome, or the
// static CompleteResponse/CompleteErr pair when no script is set.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if len(p.Script) > 0 {
		i := p.next
		if i >= len(p.Script) {
			i = len(p.Script) - 1
		} else {
			p.next++
		}
		step := p.Script[i]
		return step.Response, step.Err
	}
	return p.CompleteResponse, p.CompleteErr
}

// Reset clears all recorded calls and rewinds the script. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.next = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
