// Package sqlitestore provides a SQLite-backed store.Store.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/acksell/datastack/store"
	"github.com/acksell/datastack/store/sqlitestore/migrations"
	_ "modernc.org/sqlite"
)

// Store persists objects in a single SQLite table, attributes as JSON.
type Store struct {
	sqlDB  *sql.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Debug("opened sqlite store", slog.String("path", path))
	return &Store{sqlDB: sqlDB, logger: logger}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, key store.Key) (*store.Object, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT attributes FROM objects WHERE entity = ? AND id = ?`,
		key.Entity, key.ID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	attrs, err := store.DecodeItemJSON(data)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return &store.Object{Entity: key.Entity, ID: key.ID, Attributes: attrs}, nil
}

// Fetch reads every row of the entity in id order and filters in process.
func (s *Store) Fetch(ctx context.Context, q store.Query) ([]store.Object, error) {
	if q.Entity == "" {
		return nil, fmt.Errorf("%w: entity name is required", store.ErrInvalidKey)
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, attributes FROM objects WHERE entity = ? ORDER BY id`,
		q.Entity,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Entity, err)
	}
	defer rows.Close()

	var objs []store.Object
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", q.Entity, err)
		}
		attrs, err := store.DecodeItemJSON(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", q.Entity, id, err)
		}
		obj := store.Object{Entity: q.Entity, ID: id, Attributes: attrs}
		matches, err := q.Match(obj)
		if err != nil {
			return nil, fmt.Errorf("evaluate predicate: %w", err)
		}
		if matches {
			objs = append(objs, obj)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", q.Entity, err)
	}
	return objs, nil
}

// Apply writes all changes in one SQL transaction.
func (s *Store) Apply(ctx context.Context, changes []store.Change) error {
	if err := store.ValidateChanges(changes); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	now := time.Now().UTC().UnixMilli()
	for _, c := range changes {
		if err := applyChange(ctx, tx, c, now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %d changes: %w", len(changes), err)
	}
	s.logger.Debug("applied changes", slog.Int("changes", len(changes)))
	return nil
}

func applyChange(ctx context.Context, tx *sql.Tx, c store.Change, now int64) error {
	key := c.Object.Key()
	switch c.Op {
	case store.OpPut:
		data, err := store.EncodeItemJSON(c.Object.Attributes)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO objects (entity, id, attributes, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(entity, id) DO UPDATE SET
			   attributes = excluded.attributes,
			   updated_at = excluded.updated_at`,
			key.Entity, key.ID, data, now,
		)
		if err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
	case store.OpDelete:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM objects WHERE entity = ? AND id = ?`,
			key.Entity, key.ID,
		); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}
