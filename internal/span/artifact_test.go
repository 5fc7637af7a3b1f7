package span_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/narravox/narravox/internal/span"
)

func writeDoc(t *testing.T, doc span.Document) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "chapter.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func validDoc() span.Document {
	return span.Document{
		BookID:  "pride",
		Chapter: 3,
		Roster:  []span.RosterEntry{{Name: "Mary"}},
		Spans: []span.Span{
			{ID: "s1", Index: 0, Text: "Mary entered.", Class: span.ClassNarration, Chapter: 3},
			{ID: "s2", Index: 1, Text: `"Hello."`, Class: span.ClassDialogue, Chapter: 3},
		},
	}
}

func TestReadDocument_Valid(t *testing.T) {
	t.Parallel()

	doc, err := span.ReadDocument(writeDoc(t, validDoc()))
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if doc.BookID != "pride" || len(doc.Spans) != 2 {
		t.Errorf("doc=%+v, want pride with 2 spans", doc)
	}
}

func TestReadDocument_Rejections(t *testing.T) {
	t.Parallel()

	empty := validDoc()
	empty.Spans = nil

	dupID := validDoc()
	dupID.Spans[1].ID = "s1"

	badClass := validDoc()
	badClass.Spans[0].Class = "verse"

	outOfOrder := validDoc()
	outOfOrder.Spans[1].Index = 0

	noID := validDoc()
	noID.Spans[0].ID = ""

	cases := []struct {
		name string
		doc  span.Document
	}{
		{"no spans", empty},
		{"duplicate id", dupID},
		{"invalid class", badClass},
		{"unordered index", outOfOrder},
		{"empty id", noID},
	}
	for _, tc := range cases {
		if _, err := span.ReadDocument(writeDoc(t, tc.doc)); err == nil {
			t.Errorf("%s: accepted, want error", tc.name)
		}
	}
}

func TestReadDocument_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := span.ReadDocument(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestWriteBatch_RoundTripWithSidecar(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "resolved.json")
	batch := &span.Batch{
		BookID:  "pride",
		Chapter: 3,
		Version: span.ArtifactVersion,
		Spans: []span.Resolved{
			{Span: span.Span{ID: "s1", Text: "Mary entered.", Class: span.ClassNarration}},
			{
				Span: span.Span{ID: "s2", Text: `"Hello."`, Class: span.ClassDialogue},
				Attribution: &span.Attribution{
					Speaker: "Mary",
					Method:  span.MethodHeuristic,
					Confidence: span.Confidence{
						Score:       0.91,
						Evidence:    []string{"continuity"},
						Calibration: "deterministic_v1",
					},
				},
			},
		},
	}
	meta := &span.RunMeta{
		ArtifactVersion: span.ArtifactVersion,
		CountsByMethod:  map[span.Method]int{span.MethodHeuristic: 1},
	}

	if err := span.WriteBatch(out, batch, meta); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read batch: %v", err)
	}
	var got span.Batch
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if got.Version != span.ArtifactVersion {
		t.Errorf("Version=%q, want %q", got.Version, span.ArtifactVersion)
	}
	if got.Spans[1].Attribution == nil || got.Spans[1].Attribution.Speaker != "Mary" {
		t.Errorf("attribution lost in round trip: %+v", got.Spans[1])
	}
	if got.Spans[0].Attribution != nil {
		t.Error("narration span gained an attribution")
	}

	metaData, err := os.ReadFile(span.MetaPath(out))
	if err != nil {
		t.Fatalf("read meta sidecar: %v", err)
	}
	var gotMeta span.RunMeta
	if err := json.Unmarshal(metaData, &gotMeta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if gotMeta.CountsByMethod[span.MethodHeuristic] != 1 {
		t.Errorf("meta counts=%v, want heuristic:1", gotMeta.CountsByMethod)
	}
}

func TestMetaPath(t *testing.T) {
	t.Parallel()

	if got := span.MetaPath("out/resolved.json"); got != "out/resolved.meta.json" {
		t.Errorf("MetaPath=%q, want out/resolved.meta.json", got)
	}
}

func TestWriteBatch_OverwritesAtomically(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "resolved.json")
	batch := &span.Batch{BookID: "b", Version: span.ArtifactVersion, Spans: []span.Resolved{{Span: span.Span{ID: "s1", Class: span.ClassNarration}}}}
	meta := &span.RunMeta{ArtifactVersion: span.ArtifactVersion}

	if err := span.WriteBatch(out, batch, meta); err != nil {
		t.Fatalf("first WriteBatch: %v", err)
	}
	batch.BookID = "b2"
	if err := span.WriteBatch(out, batch, meta); err != nil {
		t.Fatalf("second WriteBatch: %v", err)
	}

	data, _ := os.ReadFile(out)
	var got span.Batch
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.BookID != "b2" {
		t.Errorf("BookID=%q, want b2", got.BookID)
	}

	// No temp droppings left behind.
	entries, err := os.ReadDir(filepath.Dir(out))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "resolved.json" && e.Name() != "resolved.meta.json" {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}
