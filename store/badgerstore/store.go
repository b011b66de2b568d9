// Package badgerstore implements store.Store on BadgerDB.
//
// Objects are kept under one key per entity and ID, with attributes
// gob-encoded as the value. Fetches scan the entity prefix, which yields
// objects in ascending ID order.
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/acksell/datastack/store"
	"github.com/dgraph-io/badger/v4"
)

// Store is a store.Store backed by BadgerDB.
// It provides ACID guarantees for each call to Apply.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Options configures the BadgerDB store.
type Options struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger receives BadgerDB's own log output. If nil, logging is disabled.
	Logger *slog.Logger
}

// New opens a BadgerDB-backed store.
func New(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)

	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(slogAdapter{opts.Logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the object stored under key, or nil.
func (s *Store) Get(ctx context.Context, key store.Key) (*store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var obj *store.Object
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			attrs, err := store.DecodeItem(val)
			if err != nil {
				return err
			}
			obj = &store.Object{Entity: key.Entity, ID: key.ID, Attributes: attrs}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return obj, nil
}

// Fetch scans every object of the entity and keeps those matching the predicate.
func (s *Store) Fetch(ctx context.Context, q store.Query) ([]store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Entity == "" {
		return nil, fmt.Errorf("%w: entity name is required", store.ErrInvalidKey)
	}

	prefix := entityPrefix(q.Entity)
	var objs []store.Object

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !bytes.HasPrefix(it.Item().Key(), prefix) {
				break
			}
			key, err := decodeKey(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}

			var attrs store.Item
			if err := it.Item().Value(func(val []byte) error {
				var err error
				attrs, err = store.DecodeItem(val)
				return err
			}); err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}

			obj := store.Object{Entity: key.Entity, ID: key.ID, Attributes: attrs}
			matches, err := q.Match(obj)
			if err != nil {
				return fmt.Errorf("evaluate predicate: %w", err)
			}
			if matches {
				objs = append(objs, obj)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objs, nil
}

// Apply writes the changes in a single read-write transaction.
func (s *Store) Apply(ctx context.Context, changes []store.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateChanges(changes); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, c := range changes {
			key := encodeKey(c.Object.Key())
			switch c.Op {
			case store.OpPut:
				val, err := store.EncodeItem(c.Object.Attributes)
				if err != nil {
					return fmt.Errorf("encode %s: %w", c.Object.Key(), err)
				}
				if err := txn.Set(key, val); err != nil {
					return fmt.Errorf("put %s: %w", c.Object.Key(), err)
				}
			case store.OpDelete:
				if err := txn.Delete(key); err != nil {
					return fmt.Errorf("delete %s: %w", c.Object.Key(), err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply %d changes: %w", len(changes), err)
	}
	s.logger.Debug("applied changes", slog.Int("changes", len(changes)))
	return nil
}

// slogAdapter routes BadgerDB's printf-style logger into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

// Infof is demoted to debug.
func (a slogAdapter) Infof(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}
