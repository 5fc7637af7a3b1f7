package infer_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/narravox/narravox/internal/infer"
	"github.com/narravox/narravox/pkg/provider/llm"
	"github.com/narravox/narravox/pkg/provider/llm/mock"
)

func request() infer.Request {
	return infer.Request{
		SpanText:      `"Where are you?" she asked.`,
		ContextWindow: "Mary entered the hall.\n\"Where are you?\" she asked.",
		Roster:        []string{"Mary", "John"},
	}
}

func TestNew_RequiredFields(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	if _, err := infer.New(nil, "m", "v1"); err == nil {
		t.Error("New(nil provider) accepted")
	}
	if _, err := infer.New(p, "", "v1"); err == nil {
		t.Error("New with empty model accepted")
	}
	if _, err := infer.New(p, "m", ""); err == nil {
		t.Error("New with empty prompt version accepted")
	}
}

func TestComplete_PromptCarriesRosterAndVersion(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"speaker": "Mary", "confidence": 0.9}`},
	}
	c, err := infer.New(p, "qwen2.5:7b", "v3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, attempts, err := c.Complete(context.Background(), request())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts=%d, want 1", attempts)
	}
	if !strings.Contains(raw, "Mary") {
		t.Errorf("raw=%q, want mock content", raw)
	}

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("Complete calls=%d, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	for _, name := range []string{"Mary", "John"} {
		if !strings.Contains(req.SystemPrompt, name) {
			t.Errorf("system prompt missing candidate %q", name)
		}
	}
	if !strings.Contains(req.SystemPrompt, "Prompt-Version: v3") {
		t.Error("system prompt missing version tag")
	}
	if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "Where are you?") {
		t.Errorf("user message missing span text: %+v", req.Messages)
	}
	if req.Temperature != 0.2 {
		t.Errorf("temperature=%v, want default 0.2", req.Temperature)
	}
}

func TestComplete_RetriesTransportFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	p := &mock.Provider{
		Script: []mock.Step{
			{Err: boom},
			{Err: boom},
			{Response: &llm.CompletionResponse{Content: "ok"}},
		},
	}
	c, err := infer.New(p, "m", "v1", infer.WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, attempts, err := c.Complete(context.Background(), request())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if raw != "ok" {
		t.Errorf("raw=%q, want ok", raw)
	}
	if attempts != 3 {
		t.Errorf("attempts=%d, want 3", attempts)
	}
}

func TestComplete_TransportErrorAfterBudget(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	p := &mock.Provider{CompleteErr: boom}
	c, err := infer.New(p, "m", "v1", infer.WithMaxRetries(2), infer.WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, attempts, err := c.Complete(context.Background(), request())
	if err == nil {
		t.Fatal("Complete returned nil error with a dead endpoint")
	}
	var terr *infer.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error type %T, want *TransportError", err)
	}
	if terr.Attempts != 3 {
		t.Errorf("TransportError.Attempts=%d, want 3 (1 initial + 2 retries)", terr.Attempts)
	}
	if attempts != 3 {
		t.Errorf("attempts=%d, want 3", attempts)
	}
	if !errors.Is(err, boom) {
		t.Error("TransportError must wrap the final attempt error")
	}
	if len(p.CompleteCalls) != 3 {
		t.Errorf("provider calls=%d, want 3", len(p.CompleteCalls))
	}
}

func TestComplete_ParentCancellationStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := &mock.Provider{CompleteErr: context.Canceled}
	c, err := infer.New(p, "m", "v1", infer.WithBackoff(time.Minute))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cancel()
	start := time.Now()
	_, _, err = c.Complete(ctx, request())
	if err == nil {
		t.Fatal("Complete returned nil error on cancelled context")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Complete took %v; cancellation must not wait out the backoff", elapsed)
	}
	if len(p.CompleteCalls) != 1 {
		t.Errorf("provider calls=%d, want 1 (no retries after parent cancel)", len(p.CompleteCalls))
	}
}

func TestCachePayload_NormalizesAndTags(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	c, err := infer.New(p, "qwen2.5:7b", "v3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := request()
	req.SpanText = "  " + req.SpanText + "\n"
	payload := c.CachePayload(req)

	if payload.SpanText != strings.TrimSpace(req.SpanText) {
		t.Errorf("SpanText=%q, want trimmed", payload.SpanText)
	}
	if payload.Model != "qwen2.5:7b" || payload.PromptVersion != "v3" {
		t.Errorf("payload=%+v, want model and prompt version stamped", payload)
	}
}
