// Package score combines feature vectors into normalized confidence scores
// with a reproducible tie-break.
//
// The combination is a weighted mean of the six feature signals squashed
// through a fixed logistic curve. The logistic constants and the tie-break
// epsilon are compile-time constants: reproducibility depends on them being
// stable across runs, so they are not configurable at runtime. The weight
// set may be overridden via configuration; the calibration tag names the
// fixed squash, and the effective weights travel in the run metadata's
// config snapshot.
package score

import (
	"hash/fnv"
	"math"
	"sort"

	"github.com/narravox/narravox/internal/attrib/feature"
	"github.com/narravox/narravox/internal/span"
)

// Calibration is the tag stamped into every confidence record produced by
// this scorer.
const Calibration = "deterministic_v1"

const (
	// Logistic squash constants: score = 1/(1+exp(-steepness*(x-midpoint))).
	// Fixed forever for deterministic_v1.
	steepness = 8.0
	midpoint  = 0.45

	// epsilon is the score distance within which two candidates are
	// considered tied and the hash tie-break applies.
	epsilon = 0.02
)

// Weights is a versioned weight configuration for the six feature signals.
// All weights must be non-negative and sum to a positive value.
type Weights struct {
	NameProximity   float64 `yaml:"name_proximity"`
	Continuity      float64 `yaml:"continuity"`
	UtteranceVerb   float64 `yaml:"utterance_verb"`
	QuoteRegularity float64 `yaml:"quote_regularity"`
	Alternation     float64 `yaml:"alternation"`
	FrequencyPrior  float64 `yaml:"frequency_prior"`
}

// DefaultWeights returns the deterministic_v1 weight set.
func DefaultWeights() Weights {
	return Weights{
		NameProximity:   0.20,
		Continuity:      0.25,
		UtteranceVerb:   0.20,
		QuoteRegularity: 0.10,
		Alternation:     0.10,
		FrequencyPrior:  0.15,
	}
}

func (w Weights) total() float64 {
	return w.NameProximity + w.Continuity + w.UtteranceVerb +
		w.QuoteRegularity + w.Alternation + w.FrequencyPrior
}

// contribution pairs a signal name with its weighted contribution to the
// raw score.
type contribution struct {
	name  string
	value float64
}

// Scorer scores feature vectors. Read-only after construction and safe for
// concurrent use.
type Scorer struct {
	weights Weights
	total   float64
}

// New returns a Scorer over the given weight set. Zero-total weights fall
// back to [DefaultWeights].
func New(w Weights) *Scorer {
	if w.total() <= 0 {
		w = DefaultWeights()
	}
	return &Scorer{weights: w, total: w.total()}
}

// Score computes the confidence record for a single candidate's vector.
// Evidence lists the non-zero contributing signals, strongest first; equal
// contributions order alphabetically so repeated runs emit identical
// artifacts.
func (s *Scorer) Score(v feature.Vector) span.Confidence {
	contribs := []contribution{
		{feature.SignalNameProximity, s.weights.NameProximity * v.NameProximity},
		{feature.SignalContinuity, s.weights.Continuity * v.Continuity},
		{feature.SignalUtteranceVerb, s.weights.UtteranceVerb * v.UtteranceVerb},
		{feature.SignalQuoteRegularity, s.weights.QuoteRegularity * v.QuoteRegularity},
		{feature.SignalAlternation, s.weights.Alternation * v.Alternation},
		{feature.SignalFrequencyPrior, s.weights.FrequencyPrior * v.FrequencyPrior},
	}

	raw := 0.0
	for _, c := range contribs {
		raw += c.value
	}
	raw /= s.total

	sort.SliceStable(contribs, func(i, j int) bool {
		if contribs[i].value != contribs[j].value {
			return contribs[i].value > contribs[j].value
		}
		return contribs[i].name < contribs[j].name
	})

	evidence := make([]string, 0, len(contribs))
	for _, c := range contribs {
		if c.value > 0 {
			evidence = append(evidence, c.name)
		}
	}

	return span.Confidence{
		Score:       squash(raw),
		Evidence:    evidence,
		Calibration: Calibration,
	}
}

// Pick scores every candidate vector and selects the winner. Candidates
// whose scores fall within epsilon of the maximum are tied; the tie resolves
// to the lowest FNV-1a hash of (spanID, bookID, candidate) — never via
// slice order — so the choice is bit-identical across runs regardless of
// how the vectors were assembled.
//
// ok is false only when vectors is empty.
func (s *Scorer) Pick(spanID, bookID string, vectors []feature.Vector) (best feature.Vector, conf span.Confidence, ok bool) {
	if len(vectors) == 0 {
		return feature.Vector{}, span.Confidence{}, false
	}

	confs := make([]span.Confidence, len(vectors))
	maxScore := -1.0
	for i, v := range vectors {
		confs[i] = s.Score(v)
		if confs[i].Score > maxScore {
			maxScore = confs[i].Score
		}
	}

	winner := -1
	var winnerHash uint64
	for i, v := range vectors {
		if maxScore-confs[i].Score > epsilon {
			continue
		}
		h := tieHash(spanID, bookID, v.Candidate)
		if winner < 0 || h < winnerHash {
			winner = i
			winnerHash = h
		}
	}

	return vectors[winner], confs[winner], true
}

// squash maps the raw weighted mean through the fixed logistic curve.
func squash(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-steepness*(x-midpoint)))
}

// tieHash is the stable tie-break hash. FNV-1a rather than maphash: maphash
// is seeded per process and would break cross-run reproducibility.
func tieHash(spanID, bookID, candidate string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(spanID))
	h.Write([]byte{0})
	h.Write([]byte(bookID))
	h.Write([]byte{0})
	h.Write([]byte(candidate))
	return h.Sum64()
}
