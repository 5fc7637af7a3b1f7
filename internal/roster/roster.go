// Package roster holds the set of known candidate speakers for a chapter
// and resolves free-form names against it.
//
// Canonicalization proceeds in three stages:
//
//  1. Exact match after case/whitespace normalization.
//  2. Declared alias lookup ("Liz" → "Elizabeth Bennet").
//  3. Phonetic candidate filtering (Double Metaphone) ranked by
//     Jaro-Winkler similarity, with a pure-similarity fallback at a higher
//     threshold when no phonetic candidate exists.
//
// Stage 3 exists because local models frequently return near-miss spellings
// of roster names; rejecting "Elizabet" outright would waste an otherwise
// correct arbitration. A name that fails all three stages is not on the
// roster and must be treated as a hallucination by the caller.
//
// A Roster is read-only after construction and safe for concurrent use.
package roster

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/narravox/narravox/internal/span"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Roster].
type Option func(*Roster)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(r *Roster) {
		r.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and matching falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Roster) {
		r.fuzzyThreshold = threshold
	}
}

// Roster is the chapter's candidate-speaker set.
type Roster struct {
	names []string          // canonical names in artifact order
	canon map[string]string // normalized name or alias → canonical name

	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New builds a Roster from artifact entries. Duplicate canonical names are
// collapsed (first occurrence wins); aliases that collide with a canonical
// name are ignored, and a canonical name reclaims its key from any alias an
// earlier entry declared for it.
func New(entries []span.RosterEntry, opts ...Option) *Roster {
	r := &Roster{
		canon:             make(map[string]string, len(entries)*2),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}

	canonKeys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		key := normalize(name)
		if _, dup := canonKeys[key]; dup {
			continue
		}
		canonKeys[key] = struct{}{}
		r.names = append(r.names, name)
		r.canon[key] = name
		for _, alias := range e.Aliases {
			ak := normalize(alias)
			if ak == "" {
				continue
			}
			if _, isCanon := canonKeys[ak]; isCanon {
				continue
			}
			if _, taken := r.canon[ak]; !taken {
				r.canon[ak] = name
			}
		}
	}
	return r
}

// Names returns the canonical names in artifact order. The returned slice
// must not be modified.
func (r *Roster) Names() []string {
	return r.names
}

// Len returns the number of canonical names.
func (r *Roster) Len() int {
	return len(r.names)
}

// Contains reports whether name resolves exactly (case/whitespace
// insensitive, aliases included) to a roster member.
func (r *Roster) Contains(name string) bool {
	_, ok := r.canon[normalize(name)]
	return ok
}

// Canonicalize resolves a free-form name to a canonical roster name.
// ok is false when the name matches nothing on the roster even fuzzily;
// callers must then treat it as a hallucination.
func (r *Roster) Canonicalize(name string) (canonical string, ok bool) {
	key := normalize(name)
	if key == "" {
		return "", false
	}
	if c, exact := r.canon[key]; exact {
		return c, true
	}
	if c, score, matched := r.fuzzyMatch(key); matched && score > 0 {
		return c, true
	}
	return "", false
}

// fuzzyMatch finds the roster name most phonetically similar to word.
// Grounded on two-stage matching: Double Metaphone overlap gates the lower
// phonetic threshold; otherwise pure Jaro-Winkler must clear the higher
// fuzzy threshold.
func (r *Roster) fuzzyMatch(word string) (string, float64, bool) {
	wordTokens := strings.Fields(word)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, name := range r.names {
		nameLower := normalize(name)
		nameTokens := strings.Fields(nameLower)

		nameCodes := codesForTokens(nameTokens)
		phonetic := codesOverlap(inputCodes, nameCodes)

		jw := bestJWScore(wordTokens, nameTokens, word, nameLower)

		if phonetic {
			if jw >= r.phoneticThreshold {
				if !best.phonetic || jw > best.score {
					best = candidate{name: name, score: jw, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jw >= r.fuzzyThreshold && jw > best.score {
				best = candidate{name: name, score: jw, phonetic: false}
			}
		}
	}

	if best.name != "" {
		return best.name, best.score, true
	}
	return "", 0, false
}

// normalize lowercases s, strips leading/trailing punctuation, and collapses
// internal whitespace.
func normalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.Trim(s, ".,;:!?\"'()")
	return strings.Join(strings.Fields(s), " ")
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the roster name, comparing full strings, space-stripped strings, and
// the best pairwise token score. Multi-word names ("Tower of Whispers")
// need the pairwise pass to survive partial mentions.
func bestJWScore(inputTokens, nameTokens []string, inputFull, nameFull string) float64 {
	score := matchr.JaroWinkler(inputFull, nameFull, false)

	if len(inputTokens) > 1 || len(nameTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(nameTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(it, nt, false); s > score {
				score = s
			}
		}
	}

	return score
}
