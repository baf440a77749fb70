// ABOUTME: Run history persisted in BadgerDB, one record per pipeline run
// ABOUTME: Time-ordered keys with a run ID index; supports newest-first listing and pruning

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/pipeline"
)

const (
	runPrefix   = "run:"
	runIDPrefix = "run-id:"
)

// ErrNilResult is returned when recording a nil result.
var ErrNilResult = errors.New("run result is nil")

// Config holds configuration for the history store.
type Config struct {
	// Path to the database directory. Required unless InMemory is true.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites enables synchronous writes (slower but safer).
	SyncWrites bool

	// Logger for BadgerDB operations. Nil silences badger.
	Logger badger.Logger
}

// Store persists run results. It never stores feed records or identity keys.
type Store struct {
	db *badger.DB
}

// Open opens or creates the history database.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	if cfg.SyncWrites {
		opts = opts.WithSyncWrites(true)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(cfg.Logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// runKey orders runs by start time; the run ID breaks ties.
func runKey(r *pipeline.Result) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", runPrefix, r.StartedAt.UnixNano(), r.RunID))
}

// RecordRun stores result. Recording the same run ID again replaces it.
func (s *Store) RecordRun(ctx context.Context, result *pipeline.Result) error {
	if result == nil {
		return ErrNilResult
	}
	if result.RunID == "" {
		return fmt.Errorf("run result has no run ID")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	key := runKey(result)
	return s.db.Update(func(txn *badger.Txn) error {
		idKey := []byte(runIDPrefix + result.RunID)

		// Drop a previous entry for this run ID if its start time changed.
		item, err := txn.Get(idKey)
		switch {
		case err == nil:
			old, verr := item.ValueCopy(nil)
			if verr != nil {
				return fmt.Errorf("reading run index: %w", verr)
			}
			if string(old) != string(key) {
				if err := txn.Delete(old); err != nil {
					return fmt.Errorf("deleting previous run: %w", err)
				}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("getting run index: %w", err)
		}

		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("setting run key: %w", err)
		}
		if err := txn.Set(idKey, key); err != nil {
			return fmt.Errorf("setting run index: %w", err)
		}
		return nil
	})
}

// Get retrieves a run by ID.
// Returns nil if the run doesn't exist.
func (s *Store) Get(ctx context.Context, runID string) (*pipeline.Result, error) {
	var result *pipeline.Result

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runIDPrefix + runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting run index: %w", err)
		}

		key, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("reading run index: %w", err)
		}

		item, err = txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting run: %w", err)
		}

		return item.Value(func(val []byte) error {
			result = &pipeline.Result{}
			if err := json.Unmarshal(val, result); err != nil {
				return fmt.Errorf("unmarshaling run: %w", err)
			}
			return nil
		})
	})

	return result, err
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]*pipeline.Result, error) {
	var runs []*pipeline.Result

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key under the prefix.
		seek := append([]byte(runPrefix), 0xff)
		for it.Seek(seek); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(runs) >= limit {
				break
			}

			err := it.Item().Value(func(val []byte) error {
				var r pipeline.Result
				if err := json.Unmarshal(val, &r); err != nil {
					return nil // Skip malformed entries.
				}
				runs = append(runs, &r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return runs, err
}

// Latest returns the most recent run, or nil when there is none.
func (s *Store) Latest(ctx context.Context) (*pipeline.Result, error) {
	runs, err := s.List(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// Count returns the number of stored runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return ctx.Err()
	})
	return count, err
}

// Prune deletes all but the newest keep runs and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	type victim struct {
		key   []byte
		runID string
	}
	var victims []victim

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seen := 0
		seek := append([]byte(runPrefix), 0xff)
		for it.Seek(seek); it.Valid(); it.Next() {
			seen++
			if seen <= keep {
				continue
			}

			item := it.Item()
			v := victim{key: item.KeyCopy(nil)}
			_ = item.Value(func(val []byte) error {
				var r pipeline.Result
				if json.Unmarshal(val, &r) == nil {
					v.runID = r.RunID
				}
				return nil
			})
			victims = append(victims, v)
		}
		return ctx.Err()
	})
	if err != nil {
		return 0, err
	}

	// Delete in batches to stay under badger's transaction limits.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, v := range victims {
		if err := wb.Delete(v.key); err != nil {
			return 0, fmt.Errorf("deleting run: %w", err)
		}
		if v.runID != "" {
			if err := wb.Delete([]byte(runIDPrefix + v.runID)); err != nil {
				return 0, fmt.Errorf("deleting run index: %w", err)
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flushing deletes: %w", err)
	}

	return len(victims), nil
}

// Compact runs value log garbage collection.
func (s *Store) Compact() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}
