// Package cache implements the content-addressed resolution cache.
//
// Keys are SHA-256 digests over the canonical JSON encoding of the
// normalized request payload: span text, context window, prompt version,
// model identifier, and the engine schema version. Any change to prompt
// wording, model, or schema therefore lands in a fresh key space — old
// entries become unreachable without a manual purge.
//
// The store is append-only: a key, once written, always maps to the same
// value. Put on an existing key is a no-op. Entries live as JSON files in
// directories sharded by the first two hex digits of the key, with a
// bounded in-process LRU in front for repeated reads; the file store
// remains the source of truth.
//
// Callers must treat every error from Get and Put as a cache miss — the
// cache accelerates a run, it never fails one.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SchemaVersion participates in every key so that entry-format changes
// invalidate old entries implicitly.
const SchemaVersion = "narravox-cache/1"

// defaultLRUSize bounds the in-process read-front.
const defaultLRUSize = 4096

// Payload is the normalized request payload a key is derived from. Field
// order is fixed; changing it is a schema change.
type Payload struct {
	SpanText      string `json:"span_text"`
	ContextWindow string `json:"context_window"`
	PromptVersion string `json:"prompt_version"`
	Model         string `json:"model"`
	SchemaVersion string `json:"schema_version"`
}

// Key derives the stable cache key for a payload. The SchemaVersion field
// is always overwritten with the package constant.
func Key(p Payload) string {
	p.SchemaVersion = SchemaVersion
	data, err := json.Marshal(p)
	if err != nil {
		// Payload is a flat struct of strings; Marshal cannot fail.
		panic(fmt.Sprintf("cache: marshal payload: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Resolution is the parsed structured result stored alongside the raw
// response. Nil when the response never validated — kept anyway so failed
// arbitrations are auditable without replaying them.
type Resolution struct {
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Entry is one immutable cache record.
type Entry struct {
	Key         string      `json:"key"`
	RawResponse string      `json:"raw_response"`
	Resolution  *Resolution `json:"resolution"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Store is the cache contract the orchestrator depends on. Implementations
// must support concurrent idempotent writes.
type Store interface {
	// Get returns the entry for key, or found=false when absent. An error
	// means the lookup itself failed and must be treated as a miss.
	Get(key string) (entry *Entry, found bool, err error)

	// Put records entry under key. Writing an existing key is a no-op; the
	// first write wins and the stored value never changes.
	Put(key string, entry *Entry) error
}

// FileStore is the file-backed Store. Safe for concurrent use across
// processes: writes rely on atomic create-if-absent, never on locks.
type FileStore struct {
	root string
	mem  *lru.Cache[string, *Entry]
}

// Option is a functional option for configuring a [FileStore].
type Option func(*fileStoreConfig)

type fileStoreConfig struct {
	lruSize int
}

// WithLRUSize sets the capacity of the in-process read-front. Default: 4096.
func WithLRUSize(n int) Option {
	return func(c *fileStoreConfig) {
		if n > 0 {
			c.lruSize = n
		}
	}
}

// NewFileStore opens (and creates if needed) a cache rooted at root.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("cache: root must not be empty")
	}
	cfg := &fileStoreConfig{lruSize: defaultLRUSize}
	for _, o := range opts {
		o(cfg)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root %q: %w", root, err)
	}
	mem, err := lru.New[string, *Entry](cfg.lruSize)
	if err != nil {
		return nil, fmt.Errorf("cache: lru: %w", err)
	}
	return &FileStore{root: root, mem: mem}, nil
}

// Get implements Store.
func (s *FileStore) Get(key string) (*Entry, bool, error) {
	if e, ok := s.mem.Get(key); ok {
		return e, true, nil
	}

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: read %q: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A torn or corrupt file is indistinguishable from absence for the
		// caller; the next Put will not overwrite it, so surface it as an
		// error rather than silently caching garbage.
		return nil, false, fmt.Errorf("cache: decode %q: %w", key, err)
	}

	s.mem.Add(key, &e)
	return &e, true, nil
}

// Put implements Store. The entry is serialized to a temp file and hard-
// linked into place: link fails with EEXIST when the key is already
// present, which gives atomic first-write-wins without any locking.
func (s *FileStore) Put(key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache: nil entry for key %q", key)
	}
	entry.Key = key

	dest := s.path(key)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: create shard dir: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("cache: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("cache: chmod temp: %w", err)
	}

	if err := os.Link(tmpName, dest); err != nil {
		if errors.Is(err, os.ErrExist) {
			// Append-only: someone (possibly another process) got here
			// first. Their value stands.
			return nil
		}
		return fmt.Errorf("cache: link %q: %w", key, err)
	}

	s.mem.Add(key, entry)
	return nil
}

// path maps a key to its sharded file location.
func (s *FileStore) path(key string) string {
	shard := "00"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return filepath.Join(s.root, shard, key+".json")
}

// Ensure FileStore implements Store at compile time.
var _ Store = (*FileStore)(nil)
