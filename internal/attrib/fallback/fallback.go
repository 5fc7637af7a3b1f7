// Package fallback implements the deterministic last-resort resolution
// chain. It is the total-function tail of the engine: given a non-empty
// candidate set it always produces a named speaker, so no span can leave
// the orchestrator unresolved no matter how the model or the transport
// misbehave.
//
// Rules are tried in order, first success wins:
//
//  1. continuity — the nearest preceding attributed dialogue speaker.
//  2. best_cue — the candidate with the strongest single feature signal.
//  3. block_speaker — the most consistent speaker across the preceding
//     dialogue block.
//  4. chapter_frequency — the most-mentioned character in the chapter,
//     flagged for mandatory review. A policy decision, not a silent
//     failure: a placeholder speaker is never acceptable output.
package fallback

import (
	"github.com/narravox/narravox/internal/attrib/feature"
	"github.com/narravox/narravox/internal/span"
)

// Rule names, recorded in evidence tags and run logs.
const (
	RuleContinuity       = "continuity"
	RuleBestCue          = "best_cue"
	RuleBlockSpeaker     = "block_speaker"
	RuleChapterFrequency = "chapter_frequency"
)

// Input is everything the chain may consult for one span.
type Input struct {
	// Target is the span being resolved.
	Target span.Span

	// Neighborhood is the same bounded window the feature extractor saw.
	// PrevDialogue doubles as the continuity and block views: entries are
	// limited to the orchestrator's context radius.
	Neighborhood feature.Neighborhood

	// Vectors are the deterministic feature vectors per candidate, in
	// roster order. Must be non-empty.
	Vectors []feature.Vector
}

// Result is the chain's decision.
type Result struct {
	// Speaker is the chosen canonical name. Never empty when Input.Vectors
	// is non-empty.
	Speaker string

	// Rule names the rule that fired.
	Rule string

	// Signal is set when Rule is best_cue: the feature signal that decided.
	Signal string

	// MandatoryReview is true when the chapter-frequency rule fired.
	MandatoryReview bool

	// Vector is the chosen candidate's feature vector, for confidence
	// bookkeeping by the caller.
	Vector feature.Vector
}

// Resolve runs the chain. Callers must guarantee a non-empty Vectors slice
// (i.e., a non-empty roster); with one, Resolve always returns a named
// speaker.
func Resolve(in Input) Result {
	if r, ok := byContinuity(in); ok {
		return r
	}
	if r, ok := byBestCue(in); ok {
		return r
	}
	if r, ok := byBlockSpeaker(in); ok {
		return r
	}
	return byChapterFrequency(in)
}

// byContinuity picks the nearest preceding attributed dialogue speaker.
func byContinuity(in Input) (Result, bool) {
	prev := in.Neighborhood.PrevDialogue
	if len(prev) == 0 {
		return Result{}, false
	}
	name := prev[len(prev)-1]
	v, ok := vectorFor(in.Vectors, name)
	if !ok {
		return Result{}, false
	}
	return Result{Speaker: name, Rule: RuleContinuity, Vector: v}, true
}

// byBestCue picks the candidate with the strongest single feature signal,
// even if it sits below the escalation threshold. Quote regularity is
// candidate-independent and is skipped. Ties resolve to the earlier roster
// position — stable because Vectors follow roster order.
func byBestCue(in Input) (Result, bool) {
	best := Result{}
	bestVal := 0.0
	for _, v := range in.Vectors {
		s := strongestCandidateCue(v)
		if s.Value > bestVal {
			bestVal = s.Value
			best = Result{Speaker: v.Candidate, Rule: RuleBestCue, Signal: s.Name, Vector: v}
		}
	}
	if bestVal <= 0 {
		return Result{}, false
	}
	return best, true
}

// strongestCandidateCue is like Vector.Best but ignores the
// candidate-independent quote signal, which says nothing about who speaks.
func strongestCandidateCue(v feature.Vector) feature.Signal {
	best := feature.Signal{}
	for _, s := range v.Signals() {
		if s.Name == feature.SignalQuoteRegularity {
			continue
		}
		if s.Value > best.Value {
			best = s
		}
	}
	return best
}

// byBlockSpeaker picks the most consistent speaker across the preceding
// dialogue block. Ties resolve to the speaker seen most recently.
func byBlockSpeaker(in Input) (Result, bool) {
	prev := in.Neighborhood.PrevDialogue
	if len(prev) == 0 {
		return Result{}, false
	}
	counts := make(map[string]int, len(prev))
	for _, name := range prev {
		counts[name]++
	}
	winner := ""
	winnerCount := 0
	for i := len(prev) - 1; i >= 0; i-- {
		name := prev[i]
		if counts[name] > winnerCount {
			winner = name
			winnerCount = counts[name]
		}
	}
	v, ok := vectorFor(in.Vectors, winner)
	if !ok {
		return Result{}, false
	}
	return Result{Speaker: winner, Rule: RuleBlockSpeaker, Vector: v}, true
}

// byChapterFrequency picks the most-mentioned chapter character and flags
// the span for mandatory review. Ties resolve to roster order.
func byChapterFrequency(in Input) Result {
	winner := in.Vectors[0]
	winnerMentions := in.Neighborhood.Mentions[winner.Candidate]
	for _, v := range in.Vectors[1:] {
		if m := in.Neighborhood.Mentions[v.Candidate]; m > winnerMentions {
			winner = v
			winnerMentions = m
		}
	}
	return Result{
		Speaker:         winner.Candidate,
		Rule:            RuleChapterFrequency,
		MandatoryReview: true,
		Vector:          winner,
	}
}

func vectorFor(vectors []feature.Vector, name string) (feature.Vector, bool) {
	for _, v := range vectors {
		if v.Candidate == name {
			return v, true
		}
	}
	return feature.Vector{}, false
}
