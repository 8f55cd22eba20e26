package trend

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/sprite-ai/revloop/internal/logging"
)

const maxConflictRetries = 8

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	Dir      string
	InMemory bool
	Logger   *logging.Logger
}

// BadgerStore keeps ledgers in an embedded Badger database. Entries are
// keyed trend/<identity>/e/<seq> with a per-identity sequence counter
// updated in the same transaction.
type BadgerStore struct {
	db    *badger.DB
	locks keyedMutex
}

// badgerLogger adapts zap to badger's logger interface.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.sugar.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.sugar.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.sugar.Debugf(format, args...) }

// NewBadgerStore opens the database described by cfg.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{sugar: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func seqKey(id Identity) []byte {
	return []byte("trend/" + string(id) + "/seq")
}

func entryPrefix(id Identity) []byte {
	return []byte("trend/" + string(id) + "/e/")
}

func entryKey(id Identity, seq uint64) []byte {
	return []byte(fmt.Sprintf("trend/%s/e/%020d", id, seq))
}

func (s *BadgerStore) Append(ctx context.Context, id Identity, entry Entry) (err error) {
	defer func() { observeAppend(BackendBadger, err) }()

	entry, err = prepare(id, entry)
	if err != nil {
		return err
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	unlock := s.locks.Lock(string(id))
	defer unlock()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			var seq uint64
			item, err := txn.Get(seqKey(id))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				raw, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if len(raw) != 8 {
					return fmt.Errorf("corrupt sequence for %s", id)
				}
				seq = binary.BigEndian.Uint64(raw)
			}
			seq++

			next := make([]byte, 8)
			binary.BigEndian.PutUint64(next, seq)
			if err := txn.Set(entryKey(id, seq), value); err != nil {
				return err
			}
			return txn.Set(seqKey(id), next)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("append to %s: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) Load(ctx context.Context, id Identity) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	entries := []Entry{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := entryPrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return entries, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
