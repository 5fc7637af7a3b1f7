package resolve

import "github.com/narravox/narravox/internal/span"

// needsEscalation decides whether a scored span goes to arbitration.
//
// Policy: only spans whose classification includes dialogue ever escalate.
// A score at or above the skip threshold passes through untouched; a score
// below the low-confidence threshold escalates; the band in between passes
// through as heuristic — confident enough to stand, not confident enough
// to have been worth an expensive arbitration.
func (r *Resolver) needsEscalation(s span.Span, score float64) bool {
	if !s.Class.HasDialogue() {
		return false
	}
	if score >= r.cfg.SkipThreshold {
		return false
	}
	return score < r.cfg.LowConfThreshold
}

// partition splits the scored batch into pass-through and escalation sets,
// returning the indices that need escalation in input order.
func (r *Resolver) partition(provs []provisional) []int {
	var escalated []int
	for i := range provs {
		if provs[i].escalate {
			escalated = append(escalated, i)
		}
	}
	return escalated
}
