package resolve_test

import (
	"testing"

	"github.com/narravox/narravox/internal/resolve"
)

func TestTransition_LegalPaths(t *testing.T) {
	t.Parallel()

	// Every terminal path a span can take through the machine.
	paths := [][]struct {
		event resolve.Event
		want  resolve.State
	}{
		// Pass-through.
		{
			{resolve.EventPass, resolve.StatePassThrough},
			{resolve.EventResolved, resolve.StateResolved},
		},
		// Cache hit.
		{
			{resolve.EventEscalate, resolve.StateNeedsEscalation},
			{resolve.EventCacheHit, resolve.StateResolved},
		},
		// Cached failed arbitration.
		{
			{resolve.EventEscalate, resolve.StateNeedsEscalation},
			{resolve.EventExhausted, resolve.StateFallback},
			{resolve.EventResolved, resolve.StateResolved},
		},
		// Inference success after one retry.
		{
			{resolve.EventEscalate, resolve.StateNeedsEscalation},
			{resolve.EventCacheMiss, resolve.StateInference},
			{resolve.EventRetry, resolve.StateInference},
			{resolve.EventValid, resolve.StateResolved},
		},
		// Inference exhausted.
		{
			{resolve.EventEscalate, resolve.StateNeedsEscalation},
			{resolve.EventCacheMiss, resolve.StateInference},
			{resolve.EventRetry, resolve.StateInference},
			{resolve.EventRetry, resolve.StateInference},
			{resolve.EventExhausted, resolve.StateFallback},
			{resolve.EventResolved, resolve.StateResolved},
		},
	}

	for i, path := range paths {
		state := resolve.StateScored
		for _, step := range path {
			next, err := resolve.Transition(state, step.event)
			if err != nil {
				t.Fatalf("path %d: %s + %s: %v", i, state, step.event, err)
			}
			if next != step.want {
				t.Fatalf("path %d: %s + %s = %s, want %s", i, state, step.event, next, step.want)
			}
			state = next
		}
		if state != resolve.StateResolved {
			t.Errorf("path %d ended at %s, want resolved", i, state)
		}
	}
}

func TestTransition_IllegalPairs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state resolve.State
		event resolve.Event
	}{
		{resolve.StateScored, resolve.EventValid},
		{resolve.StateScored, resolve.EventCacheHit},
		{resolve.StatePassThrough, resolve.EventEscalate},
		{resolve.StateNeedsEscalation, resolve.EventValid},
		{resolve.StateInference, resolve.EventCacheMiss},
		{resolve.StateFallback, resolve.EventRetry},
		{resolve.StateResolved, resolve.EventPass},
		{resolve.StateResolved, resolve.EventResolved},
	}
	for _, tc := range cases {
		if _, err := resolve.Transition(tc.state, tc.event); err == nil {
			t.Errorf("Transition(%s, %s) legal, want error", tc.state, tc.event)
		}
	}
}

func TestState_Strings(t *testing.T) {
	t.Parallel()

	if got := resolve.StateNeedsEscalation.String(); got != "needs_escalation" {
		t.Errorf("String()=%q, want needs_escalation", got)
	}
	if got := resolve.EventCacheMiss.String(); got != "cache_miss" {
		t.Errorf("String()=%q, want cache_miss", got)
	}
}
