// Package validate parses and validates arbitration responses.
//
// The model is instructed to answer with a single strict JSON object. This
// package enforces that: markdown fences are stripped (local models love
// them), unknown fields are rejected, the speaker must canonicalize against
// the roster, and out-of-range confidences are clamped rather than
// rejected. A name that cannot be canonicalized — not on the roster even
// after phonetic matching — is a hallucination and fails validation; the
// orchestrator's retry budget and fallback chain take it from there.
package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/narravox/narravox/internal/roster"
)

// SchemaError indicates a delivered-but-invalid model response. It is
// retryable up to the configured budget with an unchanged prompt.
type SchemaError struct {
	// Reason describes what failed.
	Reason string

	// Raw is the offending response text, kept for audit trails.
	Raw string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("validate: %s", e.Reason)
}

// Parsed is a validated arbitration result. Speaker is always a canonical
// roster name; Confidence is clamped into [0,1].
type Parsed struct {
	Speaker    string
	Confidence float64
	Rationale  string
}

// response is the expected JSON shape.
type response struct {
	Speaker    string   `json:"speaker"`
	Confidence *float64 `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

// Validator validates raw responses against a roster. Read-only after
// construction and safe for concurrent use.
type Validator struct {
	roster *roster.Roster
}

// New returns a Validator over the given roster.
func New(r *roster.Roster) *Validator {
	return &Validator{roster: r}
}

// Validate parses raw and returns the validated result. Every failure is a
// *SchemaError.
func (v *Validator) Validate(raw string) (*Parsed, error) {
	cleaned := stripMarkdown(raw)
	if cleaned == "" {
		return nil, &SchemaError{Reason: "empty response", Raw: raw}
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()

	var r response
	if err := dec.Decode(&r); err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("not valid JSON: %v", err), Raw: raw}
	}
	// Exactly one JSON value; trailing garbage means the model kept talking.
	if dec.More() {
		return nil, &SchemaError{Reason: "trailing content after JSON object", Raw: raw}
	}
	if err := expectEOF(dec); err != nil {
		return nil, &SchemaError{Reason: "trailing content after JSON object", Raw: raw}
	}

	if strings.TrimSpace(r.Speaker) == "" {
		return nil, &SchemaError{Reason: "missing required field \"speaker\"", Raw: raw}
	}

	canonical, ok := v.roster.Canonicalize(r.Speaker)
	if !ok {
		return nil, &SchemaError{
			Reason: fmt.Sprintf("speaker %q is not on the roster (hallucination)", r.Speaker),
			Raw:    raw,
		}
	}

	conf := 0.0
	if r.Confidence != nil {
		conf = clamp01(*r.Confidence)
	}

	return &Parsed{
		Speaker:    canonical,
		Confidence: conf,
		Rationale:  strings.TrimSpace(r.Rationale),
	}, nil
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected token")
	}
	return nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// stripMarkdown removes optional markdown code fences (```json ... ```)
// that some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
