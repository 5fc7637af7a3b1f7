// Package feature derives deterministic attribution signals for a dialogue
// span from its bounded neighborhood. Extraction is a pure function of the
// span, its neighborhood, and the static roster — no side effects, no
// randomness — so the downstream score is reproducible bit-for-bit.
//
// Six signals are produced per candidate speaker:
//
//   - name_proximity: token distance to the nearest mention of the candidate.
//   - continuity: the candidate spoke the immediately preceding dialogue
//     span, discounted for unbroken runs longer than the configured cap.
//   - utterance_verb: an utterance verb ("said", "asked", …) adjacent to a
//     mention of the candidate next to the span.
//   - quote_regularity: well-formed quote boundaries on the span itself
//     (candidate-independent).
//   - alternation: the candidate is the expected next voice in a
//     two-speaker alternating block.
//   - frequency_prior: Laplace-smoothed share of chapter mentions.
//
// All signal values are in [0,1].
package feature

import (
	"strings"

	"github.com/narravox/narravox/internal/roster"
	"github.com/narravox/narravox/internal/span"
)

// Signal names, used as evidence tags all the way to the output artifact.
const (
	SignalNameProximity   = "name_proximity"
	SignalContinuity      = "continuity"
	SignalUtteranceVerb   = "utterance_verb"
	SignalQuoteRegularity = "quote_regularity"
	SignalAlternation     = "alternation"
	SignalFrequencyPrior  = "frequency_prior"
)

const (
	// defaultRunCap is the continuity run length beyond which the continuity
	// signal is discounted, so one early attribution cannot drag an entire
	// scene behind it.
	defaultRunCap = 4

	// verbWindow is how many tokens around a name mention are searched for
	// an utterance verb.
	verbWindow = 3
)

// utteranceVerbs is the static narration-verb lexicon. Lowercase; matched
// after token normalization.
var utteranceVerbs = map[string]struct{}{
	"said": {}, "asked": {}, "replied": {}, "answered": {}, "whispered": {},
	"shouted": {}, "muttered": {}, "cried": {}, "exclaimed": {}, "murmured": {},
	"called": {}, "demanded": {}, "added": {}, "continued": {}, "observed": {},
	"remarked": {}, "snapped": {}, "sighed": {}, "yelled": {}, "hissed": {},
	"growled": {}, "stammered": {}, "began": {}, "interrupted": {}, "repeated": {},
}

// Vector is the feature vector for one candidate speaker.
type Vector struct {
	Candidate string

	NameProximity   float64
	Continuity      float64
	UtteranceVerb   float64
	QuoteRegularity float64
	Alternation     float64
	FrequencyPrior  float64
}

// Signal pairs a named signal with its value.
type Signal struct {
	Name  string
	Value float64
}

// Signals returns the vector's named values in declaration order.
func (v Vector) Signals() []Signal {
	return []Signal{
		{SignalNameProximity, v.NameProximity},
		{SignalContinuity, v.Continuity},
		{SignalUtteranceVerb, v.UtteranceVerb},
		{SignalQuoteRegularity, v.QuoteRegularity},
		{SignalAlternation, v.Alternation},
		{SignalFrequencyPrior, v.FrequencyPrior},
	}
}

// Best returns the single strongest signal in the vector. Used by the
// fallback resolver's best-cue rule.
func (v Vector) Best() Signal {
	best := Signal{Name: SignalNameProximity, Value: v.NameProximity}
	for _, s := range v.Signals()[1:] {
		if s.Value > best.Value {
			best = s
		}
	}
	return best
}

// Neighborhood bundles everything the extractor may read about a target
// span's surroundings. It is assembled by the orchestrator during the
// ordered scan pass.
type Neighborhood struct {
	// Before holds up to the configured radius of preceding spans, nearest
	// last. After holds the following spans, nearest first.
	Before []span.Span
	After  []span.Span

	// PrevDialogue is the attributed speakers of preceding dialogue spans in
	// chapter order (nearest last), as resolved so far.
	PrevDialogue []string

	// Mentions is the per-chapter mention count per canonical roster name.
	Mentions map[string]int
}

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithRunCap sets the continuity run length beyond which the continuity
// signal decays. Default: 4.
func WithRunCap(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.runCap = n
		}
	}
}

// Extractor computes feature vectors. Read-only after construction and safe
// for concurrent use.
type Extractor struct {
	roster *roster.Roster
	runCap int
}

// New returns an Extractor over the given roster.
func New(r *roster.Roster, opts ...Option) *Extractor {
	e := &Extractor{
		roster: r,
		runCap: defaultRunCap,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract computes one Vector per roster candidate for the target span.
// The returned slice follows roster order, which is stable across runs.
func (e *Extractor) Extract(target span.Span, nb Neighborhood) []Vector {
	names := e.roster.Names()
	vectors := make([]Vector, 0, len(names))

	quoteReg := quoteRegularity(target.Text)
	totalMentions := 0
	for _, n := range names {
		totalMentions += nb.Mentions[n]
	}

	for _, name := range names {
		v := Vector{
			Candidate:       name,
			QuoteRegularity: quoteReg,
		}

		v.NameProximity = nameProximity(name, target, nb)
		v.Continuity = continuity(name, nb.PrevDialogue, e.runCap)
		v.UtteranceVerb = utteranceVerbCue(name, target, nb)
		v.Alternation = alternation(name, nb.PrevDialogue)
		// Laplace smoothing keeps unseen names at a small non-zero prior.
		v.FrequencyPrior = float64(nb.Mentions[name]+1) / float64(totalMentions+len(names))

		vectors = append(vectors, v)
	}
	return vectors
}

// CountMentions tallies roster-name mentions across the given spans. The
// orchestrator calls this once per chapter to seed the frequency prior.
func (e *Extractor) CountMentions(spans []span.Span) map[string]int {
	mentions := make(map[string]int, e.roster.Len())
	for _, s := range spans {
		tokens := tokenize(s.Text)
		for _, name := range e.roster.Names() {
			mentions[name] += countNameHits(tokens, nameTokens(name))
		}
	}
	return mentions
}

// nameProximity returns 1/(1+d) where d is the token distance from the
// target span to the nearest mention of name. A mention inside the target
// itself is distance 0; otherwise distance accumulates token counts across
// neighboring spans, nearest first.
func nameProximity(name string, target span.Span, nb Neighborhood) float64 {
	nt := nameTokens(name)

	if countNameHits(tokenize(target.Text), nt) > 0 {
		return 1.0
	}

	best := -1

	// Preceding spans, nearest last in Before.
	dist := 0
	for i := len(nb.Before) - 1; i >= 0; i-- {
		tokens := tokenize(nb.Before[i].Text)
		if idx := lastNameHit(tokens, nt); idx >= 0 {
			d := dist + (len(tokens) - idx)
			if best < 0 || d < best {
				best = d
			}
			break
		}
		dist += len(tokens)
	}

	// Following spans, nearest first in After.
	dist = 0
	for _, s := range nb.After {
		tokens := tokenize(s.Text)
		if idx := firstNameHit(tokens, nt); idx >= 0 {
			d := dist + idx + 1
			if best < 0 || d < best {
				best = d
			}
			break
		}
		dist += len(tokens)
	}

	if best < 0 {
		return 0
	}
	return 1.0 / float64(1+best)
}

// continuity returns 1 when name spoke the immediately preceding dialogue
// span, decayed by runCap/run once the unbroken run exceeds runCap.
func continuity(name string, prevDialogue []string, runCap int) float64 {
	n := len(prevDialogue)
	if n == 0 || prevDialogue[n-1] != name {
		return 0
	}
	run := 1
	for i := n - 2; i >= 0 && prevDialogue[i] == name; i-- {
		run++
	}
	if run <= runCap {
		return 1.0
	}
	return float64(runCap) / float64(run)
}

// utteranceVerbCue reports whether an utterance verb sits within verbWindow
// tokens of a mention of name, in the target span or its immediate
// neighbors.
func utteranceVerbCue(name string, target span.Span, nb Neighborhood) float64 {
	nt := nameTokens(name)

	texts := []string{target.Text}
	if n := len(nb.Before); n > 0 {
		texts = append(texts, nb.Before[n-1].Text)
	}
	if len(nb.After) > 0 {
		texts = append(texts, nb.After[0].Text)
	}

	for _, text := range texts {
		tokens := tokenize(text)
		for i := range tokens {
			if !nameHitAt(tokens, nt, i) {
				continue
			}
			lo := i - verbWindow
			if lo < 0 {
				lo = 0
			}
			hi := i + len(nt) + verbWindow
			if hi > len(tokens) {
				hi = len(tokens)
			}
			for j := lo; j < hi; j++ {
				if _, ok := utteranceVerbs[tokens[j]]; ok {
					return 1.0
				}
			}
		}
	}
	return 0
}

// alternation returns 1 when the last two attributed dialogue speakers are
// distinct and name is the earlier of the two — the expected next voice in
// an A/B exchange.
func alternation(name string, prevDialogue []string) float64 {
	n := len(prevDialogue)
	if n < 2 {
		return 0
	}
	last, prior := prevDialogue[n-1], prevDialogue[n-2]
	if last != prior && prior == name {
		return 1.0
	}
	return 0
}

// quoteRegularity scores how well-formed the span's quote boundaries are:
// 1.0 for a span that opens and closes with balanced quotes, 0.5 when
// quotes are present but irregular, 0 when there are none.
func quoteRegularity(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	count := 0
	for _, r := range trimmed {
		if isQuote(r) {
			count++
		}
	}
	if count == 0 {
		return 0
	}
	first := []rune(trimmed)[0]
	if count%2 == 0 && isQuote(first) {
		// Closing quote may precede trailing punctuation ("…?" she asked.),
		// so only the opening boundary is required to be the quote itself.
		return 1.0
	}
	return 0.5
}

func isQuote(r rune) bool {
	switch r {
	case '"', '“', '”', '‘', '’', '\'':
		return true
	}
	return false
}

// tokenize lowercases text and splits it into tokens with surrounding
// punctuation stripped. Empty tokens are dropped.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.Trim(f, ".,;:!?\"'()“”‘’—-")
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func nameTokens(name string) []string {
	return tokenize(name)
}

// nameHitAt reports whether the name token sequence occurs at position i.
func nameHitAt(tokens, nt []string, i int) bool {
	if len(nt) == 0 || i+len(nt) > len(tokens) {
		return false
	}
	for j, t := range nt {
		if tokens[i+j] != t {
			return false
		}
	}
	return true
}

func firstNameHit(tokens, nt []string) int {
	for i := range tokens {
		if nameHitAt(tokens, nt, i) {
			return i
		}
	}
	return -1
}

func lastNameHit(tokens, nt []string) int {
	for i := len(tokens) - 1; i >= 0; i-- {
		if nameHitAt(tokens, nt, i) {
			return i
		}
	}
	return -1
}

func countNameHits(tokens, nt []string) int {
	count := 0
	for i := range tokens {
		if nameHitAt(tokens, nt, i) {
			count++
		}
	}
	return count
}
