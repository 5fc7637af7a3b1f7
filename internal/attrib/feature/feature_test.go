package feature_test

import (
	"testing"

	"github.com/narravox/narravox/internal/attrib/feature"
	"github.com/narravox/narravox/internal/roster"
	"github.com/narravox/narravox/internal/span"
)

func twoSpeakerRoster() *roster.Roster {
	return roster.New([]span.RosterEntry{
		{Name: "Mary"},
		{Name: "John"},
	})
}

func dialogue(id string, idx int, text string) span.Span {
	return span.Span{ID: id, Index: idx, Text: text, Class: span.ClassDialogue, Chapter: 1}
}

func narration(id string, idx int, text string) span.Span {
	return span.Span{ID: id, Index: idx, Text: text, Class: span.ClassNarration, Chapter: 1}
}

func vectorFor(t *testing.T, vectors []feature.Vector, name string) feature.Vector {
	t.Helper()
	for _, v := range vectors {
		if v.Candidate == name {
			return v
		}
	}
	t.Fatalf("no vector for %q", name)
	return feature.Vector{}
}

func TestExtract_NameProximityInTarget(t *testing.T) {
	t.Parallel()

	e := feature.New(twoSpeakerRoster())
	target := dialogue("s1", 0, `"I will not go," Mary said.`)

	vectors := e.Extract(target, feature.Neighborhood{Mentions: map[string]int{}})

	mary := vectorFor(t, vectors, "Mary")
	if mary.NameProximity != 1.0 {
		t.Errorf("Mary NameProximity=%v, want 1.0 (mention inside target)", mary.NameProximity)
	}
	john := vectorFor(t, vectors, "John")
	if john.NameProximity != 0 {
		t.Errorf("John NameProximity=%v, want 0 (never mentioned)", john.NameProximity)
	}
}

func TestExtract_NameProximityDecaysWithDistance(t *testing.T) {
	t.Parallel()

	e := feature.New(twoSpeakerRoster())
	target := dialogue("s2", 1, `"Where are you going?"`)
	nb := feature.Neighborhood{
		// "mary turned away" → 3 tokens, mention at index 0, distance 3.
		Before:   []span.Span{narration("s1", 0, "Mary turned away.")},
		Mentions: map[string]int{},
	}

	vectors := e.Extract(target, nb)
	mary := vectorFor(t, vectors, "Mary")
	want := 1.0 / 4.0
	if mary.NameProximity != want {
		t.Errorf("Mary NameProximity=%v, want %v", mary.NameProximity, want)
	}
}

func TestExtract_Continuity(t *testing.T) {
	t.Parallel()

	e := feature.New(twoSpeakerRoster())
	target := dialogue("s3", 2, `"And then?"`)

	vectors := e.Extract(target, feature.Neighborhood{
		PrevDialogue: []string{"John", "Mary"},
		Mentions:     map[string]int{},
	})

	if v := vectorFor(t, vectors, "Mary").Continuity; v != 1.0 {
		t.Errorf("Mary Continuity=%v, want 1.0", v)
	}
	if v := vectorFor(t, vectors, "John").Continuity; v != 0 {
		t.Errorf("John Continuity=%v, want 0", v)
	}
}

func TestExtract_ContinuityDecaysPastRunCap(t *testing.T) {
	t.Parallel()

	e := feature.New(twoSpeakerRoster())
	target := dialogue("s9", 8, `"Still me."`)

	// Mary has an unbroken run of 6 with the default cap of 4.
	prev := []string{"Mary", "Mary", "Mary", "Mary", "Mary", "Mary"}
	vectors := e.Extract(target, feature.Neighborhood{PrevDialogue: prev, Mentions: map[string]int{}})

	want := 4.0 / 6.0
	if v := vectorFor(t, vectors, "Mary").Continuity; v != want {
		t.Errorf("Mary Continuity=%v, want %v", v, want)
	}
}

func TestExtract_UtteranceVerbCue(t *testing.T) {
	t.Parallel()

	e := feature.New(twoSpeakerRoster())
	target := dialogue("s2", 1, `"Nothing at all."`)
	nb := feature.Neighborhood{
		After:    []span.Span{narration("s3", 2, "John asked her again.")},
		Mentions: map[string]int{},
	}

	vectors := e.Extract(target, nb)
	if v := vectorFor(t, vectors, "John").UtteranceVerb; v != 1.0 {
		t.Errorf("John UtteranceVerb=%v, want 1.0", v)
	}
	if v := vectorFor(t, vectors, "Mary").UtteranceVerb; v != 0 {
		t.Errorf("Mary UtteranceVerb=%v, want 0", v)
	}
}

func TestExtract_Alternation(t *testing.T) {
	t.Parallel()

	e := feature.New(twoSpeakerRoster())
	target := dialogue("s4", 3, `"Your turn."`)

	vectors := e.Extract(target, feature.Neighborhood{
		PrevDialogue: []string{"Mary", "John"},
		Mentions:     map[string]int{},
	})

	// A/B exchange: Mary spoke before John, so Mary is the expected next voice.
	if v := vectorFor(t, vectors, "Mary").Alternation; v != 1.0 {
		t.Errorf("Mary Alternation=%v, want 1.0", v)
	}
	if v := vectorFor(t, vectors, "John").Alternation; v != 0 {
		t.Errorf("John Alternation=%v, want 0", v)
	}
}

func TestExtract_QuoteRegularity(t *testing.T) {
	t.Parallel()

	e := feature.New(twoSpeakerRoster())

	cases := []struct {
		text string
		want float64
	}{
		{`"Where are you?" she asked.`, 1.0},
		{`"Balanced quotes here."`, 1.0},
		{`He said "something.`, 0.5},
		{`No quotes at all.`, 0},
	}
	for _, tc := range cases {
		vectors := e.Extract(dialogue("s", 0, tc.text), feature.Neighborhood{Mentions: map[string]int{}})
		if got := vectors[0].QuoteRegularity; got != tc.want {
			t.Errorf("QuoteRegularity(%q)=%v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestExtract_FrequencyPriorLaplace(t *testing.T) {
	t.Parallel()

	e := feature.New(twoSpeakerRoster())
	target := dialogue("s1", 0, `"Hm."`)

	vectors := e.Extract(target, feature.Neighborhood{
		Mentions: map[string]int{"Mary": 8, "John": 0},
	})

	if got, want := vectorFor(t, vectors, "Mary").FrequencyPrior, 9.0/10.0; got != want {
		t.Errorf("Mary FrequencyPrior=%v, want %v", got, want)
	}
	if got, want := vectorFor(t, vectors, "John").FrequencyPrior, 1.0/10.0; got != want {
		t.Errorf("John FrequencyPrior=%v, want %v (Laplace keeps it non-zero)", got, want)
	}
}

func TestCountMentions(t *testing.T) {
	t.Parallel()

	e := feature.New(twoSpeakerRoster())
	spans := []span.Span{
		narration("s1", 0, "Mary looked at John. Mary frowned."),
		dialogue("s2", 1, `"John!" cried Mary.`),
	}

	mentions := e.CountMentions(spans)
	if mentions["Mary"] != 3 {
		t.Errorf("Mary mentions=%d, want 3", mentions["Mary"])
	}
	if mentions["John"] != 2 {
		t.Errorf("John mentions=%d, want 2", mentions["John"])
	}
}

func TestExtract_RosterOrderStable(t *testing.T) {
	t.Parallel()

	r := roster.New([]span.RosterEntry{{Name: "Zoe"}, {Name: "Adam"}})
	e := feature.New(r)

	vectors := e.Extract(dialogue("s1", 0, `"Hi."`), feature.Neighborhood{Mentions: map[string]int{}})
	if vectors[0].Candidate != "Zoe" || vectors[1].Candidate != "Adam" {
		t.Errorf("vector order %q,%q, want roster order Zoe,Adam", vectors[0].Candidate, vectors[1].Candidate)
	}
}
