// Package trend persists finalized evaluations per file as an append-only
// ledger and renders a size-bounded digest of it.
package trend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/metrics"
	"github.com/sprite-ai/revloop/internal/model"
)

// ErrInvalidIdentity is returned for identities that cannot name a ledger.
var ErrInvalidIdentity = errors.New("invalid trend identity")

// DefaultDigestBytes is the digest size used when none is configured.
const DefaultDigestBytes = 500

// Identity names the ledger of one file.
type Identity string

var (
	identityPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,199}$`)
	unsafeChars     = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// IdentityFor derives the identity of the file at path: its base name plus a
// short hash of the absolute path, so equal base names in different
// directories never share a ledger.
func IdentityFor(path string) (Identity, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidIdentity)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	abs = filepath.Clean(abs)
	sum := sha256.Sum256([]byte(filepath.ToSlash(abs)))

	base := unsafeChars.ReplaceAllString(filepath.Base(abs), "_")
	base = strings.TrimLeft(base, "._-")
	if base == "" {
		base = "file"
	}
	if len(base) > 120 {
		base = base[:120]
	}
	return Identity(base + "-" + hex.EncodeToString(sum[:])[:12]), nil
}

// Validate checks that id is safe to use as a file name and key segment.
func (id Identity) Validate() error {
	if !identityPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, string(id))
	}
	return nil
}

func (id Identity) String() string { return string(id) }

// Entry is one persisted evaluation. Entries are never mutated once appended.
type Entry struct {
	Identity   Identity               `json:"identity"`
	File       string                 `json:"file"`
	RunID      string                 `json:"run_id"`
	Iterations int                    `json:"iterations"`
	Evaluation model.EvaluationRecord `json:"evaluation"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// Store is an append-only ledger keyed by identity.
type Store interface {
	// Append adds entry to the end of the ledger for id.
	Append(ctx context.Context, id Identity, entry Entry) error
	// Load returns the ledger for id, oldest first. An unknown id yields an
	// empty ledger.
	Load(ctx context.Context, id Identity) ([]Entry, error)
	Close() error
}

// Digest serializes entries oldest-first and truncates the result to at most
// maxBytes bytes without splitting a UTF-8 sequence. An empty ledger yields
// an empty digest.
func Digest(entries []Entry, maxBytes int) (string, error) {
	if len(entries) == 0 || maxBytes <= 0 {
		return "", nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encoding trend digest: %w", err)
	}
	return truncateUTF8(string(raw), maxBytes), nil
}

// LoadDigest loads the ledger for id and returns its digest.
func LoadDigest(ctx context.Context, s Store, id Identity, maxBytes int) (string, error) {
	entries, err := s.Load(ctx, id)
	if err != nil {
		return "", err
	}
	return Digest(entries, maxBytes)
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// prepare validates id and fills defaults on entry before it is stored.
func prepare(id Identity, entry Entry) (Entry, error) {
	if err := id.Validate(); err != nil {
		return Entry{}, err
	}
	if entry.Identity == "" {
		entry.Identity = id
	}
	if entry.Identity != id {
		return Entry{}, fmt.Errorf("%w: entry identity %q does not match %q", ErrInvalidIdentity, entry.Identity, id)
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	return entry, nil
}

func observeAppend(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.TrendAppends.WithLabelValues(backend, result).Inc()
}

// Backends accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Dir     string
	Logger  *logging.Logger
}

// Open returns the store named by cfg.Backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(cfg.Dir)
	case BackendBadger:
		return NewBadgerStore(BadgerConfig{Dir: cfg.Dir, Logger: cfg.Logger})
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown trend backend %q", cfg.Backend)
	}
}
