// Package span defines the data model shared across the attribution engine:
// input spans, attributions, confidence records, and the resolved batch with
// its run metadata. It also implements the artifact codec (see artifact.go).
//
// Spans are produced by the upstream ingestion stage and are read-only here;
// the engine only ever attaches attributions to them.
package span

// ArtifactVersion identifies the schema of resolved-batch artifacts. Bump it
// whenever the serialized shape changes; downstream consumers gate on it.
const ArtifactVersion = "narravox/1"

// Class tags what kind of text a span holds.
type Class string

const (
	ClassDialogue  Class = "dialogue"
	ClassNarration Class = "narration"
	ClassMixed     Class = "mixed"
)

// IsValid reports whether c is a recognised classification.
func (c Class) IsValid() bool {
	switch c {
	case ClassDialogue, ClassNarration, ClassMixed:
		return true
	}
	return false
}

// HasDialogue reports whether spans of this class carry speakable dialogue
// and therefore need a speaker.
func (c Class) HasDialogue() bool {
	return c == ClassDialogue || c == ClassMixed
}

// Span is an immutable unit of text with a stable, content-derived
// identifier and positional metadata. Created upstream; read-only here.
type Span struct {
	// ID is the stable span identifier assigned by the ingestion stage.
	ID string `json:"id"`

	// Text is the raw span text, quotes included.
	Text string `json:"text"`

	// Class tags the span as dialogue, narration, or mixed.
	Class Class `json:"class"`

	// Chapter is the 1-based chapter number the span belongs to.
	Chapter int `json:"chapter"`

	// Index is the 0-based position of the span within the chapter.
	Index int `json:"index"`

	// PrevID and NextID reference the neighbouring spans, empty at the
	// chapter boundaries.
	PrevID string `json:"prev_id,omitempty"`
	NextID string `json:"next_id,omitempty"`
}

// Method records which resolution path produced an attribution.
type Method string

const (
	MethodHeuristic Method = "heuristic"
	MethodLLM       Method = "llm"
	MethodFallback  Method = "fallback"
)

// Confidence is the auditable confidence record attached to an attribution.
type Confidence struct {
	// Score is in [0,1]. Deterministic for identical (span, neighborhood,
	// config version) when the method is heuristic.
	Score float64 `json:"score"`

	// Evidence lists the contributing feature/reason tags, ordered by
	// contribution magnitude.
	Evidence []string `json:"evidence"`

	// Calibration names the scoring calibration that produced Score
	// (e.g., "deterministic_v1").
	Calibration string `json:"calibration"`
}

// Attribution assigns a speaker to a dialogue span.
type Attribution struct {
	// Speaker is the canonical roster name. Never empty after resolution.
	Speaker string `json:"speaker"`

	// Method is the resolution path that produced this attribution.
	Method Method `json:"method"`

	// Confidence is the auditable confidence record.
	Confidence Confidence `json:"confidence"`
}

// FlagMandatoryReview marks a span whose speaker was chosen by the absolute
// last-resort frequency rule and must be reviewed by a human.
const FlagMandatoryReview = "MANDATORY_REVIEW"

// Resolved is an input span augmented with its attribution. Narration spans
// pass through with a nil Attribution.
type Resolved struct {
	Span

	// Attribution is set for every span whose class includes dialogue.
	Attribution *Attribution `json:"attribution,omitempty"`

	// QAFlags carries review markers such as [FlagMandatoryReview].
	QAFlags []string `json:"qa_flags,omitempty"`
}

// RosterEntry is one known speaker for a chapter, with optional aliases
// ("Liz", "Mrs. Bennet") that map to the canonical name.
type RosterEntry struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// Document is the input artifact consumed by the engine: an ordered span
// sequence plus the candidate-speaker roster for the chapter.
type Document struct {
	BookID  string        `json:"book_id"`
	Chapter int           `json:"chapter"`
	Roster  []RosterEntry `json:"roster"`
	Spans   []Span        `json:"spans"`
}

// RetryStats aggregates the retry behaviour observed during a run.
type RetryStats struct {
	// TransportRetries counts inference attempts repeated after a transport
	// failure or timeout.
	TransportRetries int `json:"transport_retries"`

	// SchemaRetries counts inference attempts repeated after a malformed or
	// roster-violating response.
	SchemaRetries int `json:"schema_retries"`
}

// RunMeta is the per-run metadata sidecar. Owned exclusively by the
// orchestrator for the duration of a run and written once at the end.
type RunMeta struct {
	ArtifactVersion string `json:"artifact_version"`

	// CountsByMethod maps resolution method to the number of spans resolved
	// by it.
	CountsByMethod map[Method]int `json:"counts_by_method"`

	CacheHits     int     `json:"cache_hits"`
	CacheMisses   int     `json:"cache_misses"`
	CacheHitRatio float64 `json:"cache_hit_ratio"`

	// InferenceCalls counts completed model round-trips, successful or not.
	InferenceCalls int `json:"inference_calls"`

	Retries RetryStats `json:"retry_stats"`

	// FallbackLastResort counts spans resolved by the frequency rule and
	// flagged for mandatory review.
	FallbackLastResort int `json:"fallback_last_resort"`

	// ConfigSnapshot is the effective configuration the run used, embedded
	// verbatim so artifacts are self-describing.
	ConfigSnapshot any `json:"config_snapshot,omitempty"`
}

// Batch is the finished output of an orchestrator run: every input span in
// original order, each dialogue span carrying a non-empty speaker.
type Batch struct {
	BookID  string     `json:"book_id"`
	Chapter int        `json:"chapter"`
	Version string     `json:"artifact_version"`
	Spans   []Resolved `json:"spans"`
}
