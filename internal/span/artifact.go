package span

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadDocument loads and minimally validates an input artifact. The span
// sequence must be non-empty, ordered by Index, and free of duplicate IDs;
// anything else indicates a broken upstream stage and is rejected up front.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("span: read %q: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("span: decode %q: %w", path, err)
	}

	if len(doc.Spans) == 0 {
		return nil, fmt.Errorf("span: %q contains no spans", path)
	}
	seen := make(map[string]int, len(doc.Spans))
	for i, s := range doc.Spans {
		if s.ID == "" {
			return nil, fmt.Errorf("span: spans[%d] has an empty id", i)
		}
		if prev, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("span: spans[%d] duplicates id %q of spans[%d]", i, s.ID, prev)
		}
		seen[s.ID] = i
		if !s.Class.IsValid() {
			return nil, fmt.Errorf("span: spans[%d] class %q is invalid; valid values: dialogue, narration, mixed", i, s.Class)
		}
		if i > 0 && s.Index <= doc.Spans[i-1].Index {
			return nil, fmt.Errorf("span: spans[%d] index %d is not after spans[%d] index %d", i, s.Index, i-1, doc.Spans[i-1].Index)
		}
	}
	return &doc, nil
}

// WriteBatch persists the resolved batch to path and the run metadata to a
// sidecar next to it (output.json → output.meta.json). Both writes are
// atomic: content goes to a temp file in the destination directory first and
// is renamed into place, so a crashed run never corrupts a prior artifact.
func WriteBatch(path string, batch *Batch, meta *RunMeta) error {
	if err := writeAtomic(path, batch); err != nil {
		return fmt.Errorf("span: write batch: %w", err)
	}
	if err := writeAtomic(MetaPath(path), meta); err != nil {
		return fmt.Errorf("span: write meta: %w", err)
	}
	return nil
}

// MetaPath returns the sidecar path for a batch artifact path.
func MetaPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".meta" + ext
}

func writeAtomic(dest string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Temp file must live in the destination directory: rename is only
	// atomic within a filesystem.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}
