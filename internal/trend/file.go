package trend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nightlyone/lockfile"
)

// FileStore keeps one JSON array file per identity. Appends rewrite the file
// through a temporary file and an atomic rename, so readers always see a
// complete ledger. Writers for the same ledger are serialized by a
// process-wide mutex keyed by its absolute path, shared by every FileStore
// on that directory, and by a lock file shared with other processes.
// lockfile treats a lock held by the current PID as free, so the mutex is
// the only guard between writers inside one process.
type FileStore struct {
	dir       string
	lockRetry time.Duration
}

// ledgerLocks serializes writers per ledger path across all FileStores.
var ledgerLocks keyedMutex

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("trend directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create trend directory %s: %w", abs, err)
	}
	return &FileStore{dir: abs, lockRetry: 10 * time.Millisecond}, nil
}

// Dir returns the absolute store directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id Identity) string {
	return filepath.Join(s.dir, string(id)+".json")
}

func (s *FileStore) Append(ctx context.Context, id Identity, entry Entry) (err error) {
	defer func() { observeAppend(BackendFile, err) }()

	entry, err = prepare(id, entry)
	if err != nil {
		return err
	}

	unlock := ledgerLocks.Lock(s.path(id))
	defer unlock()

	lf, err := lockfile.New(filepath.Join(s.dir, string(id)+".lock"))
	if err != nil {
		return fmt.Errorf("lock for %s: %w", id, err)
	}
	if err := s.acquire(ctx, lf); err != nil {
		return err
	}
	defer func() {
		if uerr := lf.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("unlock %s: %w", id, uerr)
		}
	}()

	entries, err := s.read(id)
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger %s: %w", id, err)
	}
	return s.writeAtomic(s.path(id), raw)
}

func (s *FileStore) Load(ctx context.Context, id Identity) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return s.read(id)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read(id Identity) ([]Entry, error) {
	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", id, err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decoding ledger %s: %w", id, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// acquire polls the lock file until it is ours or ctx is done.
func (s *FileStore) acquire(ctx context.Context, lf lockfile.Lockfile) error {
	for {
		err := lf.TryLock()
		if err == nil {
			return nil
		}
		var temp interface{ Temporary() bool }
		if !errors.As(err, &temp) || !temp.Temporary() {
			return fmt.Errorf("locking %s: %w", string(lf), err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.lockRetry):
		}
	}
}

func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	if d, err := os.Open(s.dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
