package resolve

import "fmt"

// State is a span's position in the resolution state machine. Every span
// starts at StateScored and must terminate at StateResolved; the transition
// table below admits no other terminal state, which is how the
// no-span-left-unresolved contract is enforced structurally rather than by
// convention.
type State uint8

const (
	// StateScored: deterministic confidence has been computed.
	StateScored State = iota

	// StatePassThrough: confidence clears the threshold; the heuristic
	// attribution stands.
	StatePassThrough

	// StateNeedsEscalation: confidence is too low; arbitration required.
	StateNeedsEscalation

	// StateInference: an arbitration round-trip is in flight or being
	// retried.
	StateInference

	// StateFallback: arbitration is exhausted; the deterministic chain
	// decides.
	StateFallback

	// StateResolved: terminal. The span carries a non-empty speaker.
	StateResolved
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateScored:
		return "scored"
	case StatePassThrough:
		return "pass_through"
	case StateNeedsEscalation:
		return "needs_escalation"
	case StateInference:
		return "inference"
	case StateFallback:
		return "fallback"
	case StateResolved:
		return "resolved"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Event is an input to the state machine.
type Event uint8

const (
	// EventPass: deterministic score meets the pass-through policy.
	EventPass Event = iota

	// EventEscalate: deterministic score is below the escalation threshold.
	EventEscalate

	// EventCacheHit: a prior resolution exists for the request payload.
	EventCacheHit

	// EventCacheMiss: no prior resolution; inference is required.
	EventCacheMiss

	// EventValid: the model response validated.
	EventValid

	// EventRetry: the model response was invalid and retry budget remains.
	EventRetry

	// EventExhausted: retries are spent (schema or transport).
	EventExhausted

	// EventResolved: the fallback chain or pass-through finished.
	EventResolved
)

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e {
	case EventPass:
		return "pass"
	case EventEscalate:
		return "escalate"
	case EventCacheHit:
		return "cache_hit"
	case EventCacheMiss:
		return "cache_miss"
	case EventValid:
		return "valid"
	case EventRetry:
		return "retry"
	case EventExhausted:
		return "exhausted"
	case EventResolved:
		return "resolved"
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// transitions is the complete machine. Absence means the pair is illegal.
var transitions = map[State]map[Event]State{
	StateScored: {
		EventPass:     StatePassThrough,
		EventEscalate: StateNeedsEscalation,
	},
	StatePassThrough: {
		EventResolved: StateResolved,
	},
	StateNeedsEscalation: {
		EventCacheHit: StateResolved,
		// A cached failed arbitration routes straight to fallback: the
		// model already refused this exact payload and the outcome must be
		// cache-stable.
		EventExhausted: StateFallback,
		EventCacheMiss: StateInference,
	},
	StateInference: {
		EventValid:     StateResolved,
		EventRetry:     StateInference,
		EventExhausted: StateFallback,
	},
	StateFallback: {
		EventResolved: StateResolved,
	},
}

// Transition returns the state that follows (s, e). An illegal pair is a
// programming error and returns a non-nil error; the orchestrator treats it
// as a bug worth failing loudly over in tests, never in production paths.
func Transition(s State, e Event) (State, error) {
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, fmt.Errorf("resolve: illegal transition %s + %s", s, e)
}
