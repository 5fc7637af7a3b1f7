// Package infer implements the inference client for LLM arbitration.
//
// The client owns prompt assembly (the versioned attribution prompt plus
// the roster and context window), per-attempt timeouts, and a small retry
// budget with linear backoff on transport failures. It never retries a
// delivered-but-invalid payload — judging payloads is the validator's job.
package infer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/narravox/narravox/internal/cache"
	"github.com/narravox/narravox/pkg/provider/llm"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 2
	defaultBackoff     = 500 * time.Millisecond
	defaultTemperature = 0.2
)

// systemPromptTemplate is the base arbitration prompt. The roster and the
// prompt version tag are appended at call time. The version tag rides in
// the prompt itself so cache keys and audit trails track prompt evolution.
const systemPromptTemplate = `You are a dialogue attribution assistant for narrative text.

Your task: decide which character speaks the quoted dialogue span, using the surrounding context.

Rules:
- The speaker MUST be one of the candidate characters listed below. Never invent a name.
- Use narration cues ("said X", "X replied"), conversational turn-taking, and content to decide.
- If the context strongly implies a speaker, report high confidence; if you are guessing between candidates, report low confidence.

Candidate characters:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "speaker": "<candidate name>",
  "confidence": <0.0-1.0>,
  "rationale": "<one short sentence>"
}

Prompt-Version: %s`

// TransportError indicates the model endpoint was unreachable or an attempt
// timed out, after the retry budget was spent. Runs never fail on it; the
// orchestrator routes the span to the fallback resolver.
type TransportError struct {
	// Attempts is the total number of attempts made.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("infer: transport failure after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Request carries one arbitration request: the span under question, its
// rendered context window, and the candidate roster.
type Request struct {
	SpanText      string
	ContextWindow string
	Roster        []string
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTimeout sets the per-attempt timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets the number of additional attempts after a transport
// failure. Default: 2.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the linear backoff unit between attempts (attempt n
// waits n units). Default: 500ms.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithTemperature sets the sampling temperature. Low values keep repeated
// arbitrations consistent. Default: 0.2.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

// Client issues arbitration completions against an [llm.Provider]. Safe for
// concurrent use.
type Client struct {
	provider llm.Provider

	// model is the identifier recorded in cache keys and run metadata. The
	// provider already knows which model it serves; this string must match
	// it or cached resolutions will be misattributed.
	model         string
	promptVersion string

	timeout     time.Duration
	maxRetries  int
	backoff     time.Duration
	temperature float64
}

// New returns a Client. model and promptVersion participate in every cache
// key and must be non-empty.
func New(provider llm.Provider, model, promptVersion string, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("infer: provider must not be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("infer: model must not be empty")
	}
	if promptVersion == "" {
		return nil, fmt.Errorf("infer: promptVersion must not be empty")
	}
	c := &Client{
		provider:      provider,
		model:         model,
		promptVersion: promptVersion,
		timeout:       defaultTimeout,
		maxRetries:    defaultMaxRetries,
		backoff:       defaultBackoff,
		temperature:   defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// PromptVersion returns the configured prompt version tag.
func (c *Client) PromptVersion() string { return c.promptVersion }

// CachePayload returns the normalized payload whose hash addresses prior
// resolutions of req.
func (c *Client) CachePayload(req Request) cache.Payload {
	return cache.Payload{
		SpanText:      strings.TrimSpace(req.SpanText),
		ContextWindow: strings.TrimSpace(req.ContextWindow),
		PromptVersion: c.promptVersion,
		Model:         c.model,
	}
}

// Complete sends req to the model and returns the raw response text along
// with the number of attempts made. On failure the error is a
// *TransportError; attempts still reports how many round-trips were tried.
//
// An attempt that exceeds its timeout counts as a transport failure and is
// retried like any other; a cancelled parent ctx stops retrying
// immediately.
func (c *Client) Complete(ctx context.Context, req Request) (raw string, attempts int, err error) {
	creq := llm.CompletionRequest{
		SystemPrompt: c.systemPrompt(req.Roster),
		Temperature:  c.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: c.userMessage(req)},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		attempts = attempt

		actx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, cerr := c.provider.Complete(actx, creq)
		cancel()

		if cerr == nil {
			return resp.Content, attempts, nil
		}
		lastErr = cerr

		if ctx.Err() != nil {
			// Parent cancelled; the failed attempt was not transient.
			break
		}
		if attempt <= c.maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * c.backoff):
			case <-ctx.Done():
				return "", attempts, &TransportError{Attempts: attempts, Err: ctx.Err()}
			}
		}
	}

	return "", attempts, &TransportError{Attempts: attempts, Err: lastErr}
}

// systemPrompt renders the versioned system prompt with the roster list.
func (c *Client) systemPrompt(roster []string) string {
	var sb strings.Builder
	for _, name := range roster {
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String(), c.promptVersion)
}

// userMessage renders the span and its context window.
func (c *Client) userMessage(req Request) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	sb.WriteString(strings.TrimSpace(req.ContextWindow))
	sb.WriteString("\n\nDialogue span to attribute:\n")
	sb.WriteString(strings.TrimSpace(req.SpanText))
	return sb.String()
}
