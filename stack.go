// Package datastack is a small persistence stack: a store opened from a
// database file name, a worker context bound to the store, a main context
// layered over the worker, and helpers to build predicates, fetch single
// objects and clear objects matching a predicate.
//
//	stack, err := datastack.New(ctx, "app.db")
//	...
//	user, err := stack.GetEntity(ctx, "User", "email", "bob@example.com", stack.Main())
package datastack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/acksell/datastack/predicate"
	"github.com/acksell/datastack/store"
	"github.com/acksell/datastack/store/badgerstore"
	"github.com/acksell/datastack/store/sqlitestore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	Object = store.Object
	Key    = store.Key
	Item   = store.Item
)

var (
	ErrInvalidKey = store.ErrInvalidKey
	ErrClosed     = errors.New("stack is closed")
)

const (
	MainContextName   = "main"
	WorkerContextName = "worker"
)

// Stack owns a store and the worker and main contexts layered over it.
type Stack struct {
	store  store.Store
	worker *Context
	main   *Context
	logger *slog.Logger
	tracer trace.Tracer
	closed atomic.Bool
}

// New opens the store for fileName and sets up the context pair.
//
// Unless WithStore is given, the store is chosen from the file name: "" or
// ":memory:" opens an in-memory badger store, names ending in .sqlite,
// .sqlite3 or .db open a SQLite file, and anything else is used as a badger
// directory.
func New(ctx context.Context, fileName string, opts ...Option) (*Stack, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := o.store
	if s == nil {
		var err error
		s, err = openStore(ctx, fileName, o.logger)
		if err != nil {
			return nil, err
		}
	}

	tracer := o.tracerProvider.Tracer("github.com/acksell/datastack")
	worker := newRootContext(WorkerContextName, s, o.logger, tracer)
	stack := &Stack{
		store:  s,
		worker: worker,
		main:   worker.NewChild(MainContextName),
		logger: o.logger,
		tracer: tracer,
	}
	o.logger.DebugContext(ctx, "opened stack", slog.String("file", fileName))
	return stack, nil
}

func openStore(ctx context.Context, fileName string, logger *slog.Logger) (store.Store, error) {
	switch {
	case fileName == "" || fileName == ":memory:":
		s, err := badgerstore.New(badgerstore.Options{InMemory: true})
		if err != nil {
			return nil, fmt.Errorf("open in-memory store: %w", err)
		}
		return s, nil
	case isSQLiteFile(fileName):
		s, err := sqlitestore.Open(ctx, fileName, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %q: %w", fileName, err)
		}
		return s, nil
	default:
		s, err := badgerstore.New(badgerstore.Options{Path: fileName, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open badger store %q: %w", fileName, err)
		}
		return s, nil
	}
}

func isSQLiteFile(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".sqlite", ".sqlite3", ".db":
		return true
	default:
		return false
	}
}

// Main returns the main context. Its saves go into the worker context.
func (s *Stack) Main() *Context {
	return s.main
}

// Worker returns the root context, the only one that writes to the store.
func (s *Stack) Worker() *Context {
	return s.worker
}

// Store returns the store the worker context writes to.
func (s *Stack) Store() store.Store {
	return s.store
}

// SaveTree saves c and then each of its ancestors, so the changes pending in
// c end up in the store. Contexts without changes are skipped.
func (s *Stack) SaveTree(ctx context.Context, c *Context) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	c = s.contextOrMain(c)
	ctx, span := s.startSpan(ctx, "datastack.SaveTree", attribute.String("context", c.Name()))
	defer endSpan(span, &err)

	for cur := c; cur != nil; cur = cur.Parent() {
		if err := cur.Save(ctx); err != nil {
			return fmt.Errorf("save %s context: %w", cur.Name(), err)
		}
	}
	return nil
}

// Commit writes the changes pending in c straight to the store in a single
// atomic apply. Unlike SaveTree it leaves c's ancestors alone, so a failed
// commit keeps its changes in c and nowhere else. Callers that give up on
// them should Rollback c.
func (s *Stack) Commit(ctx context.Context, c *Context) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	c = s.contextOrMain(c)
	ctx, span := s.startSpan(ctx, "datastack.Commit", attribute.String("context", c.Name()))
	defer endSpan(span, &err)

	n, err := c.commit(ctx)
	if err != nil {
		return fmt.Errorf("commit %s context: %w", c.Name(), err)
	}
	span.SetAttributes(attribute.Int("changes", n))
	return nil
}

// Predicate returns an equality predicate for keyPath and value. The value
// is coerced to the attribute's type when evaluated.
func (s *Stack) Predicate(keyPath, value string) predicate.Predicate {
	return predicate.EqualString(keyPath, value)
}

// Entity returns the first object of entity matching p as seen by c, by
// ascending ID. It returns nil without error when nothing matches. A nil
// context means the main context.
func (s *Stack) Entity(ctx context.Context, entity string, p predicate.Predicate, c *Context) (obj *Object, err error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	c = s.contextOrMain(c)
	ctx, span := s.startSpan(ctx, "datastack.Entity", attribute.String("entity", entity), attribute.String("context", c.Name()))
	defer endSpan(span, &err)

	objs, err := c.Fetch(ctx, FetchRequest{Entity: entity, Predicate: p, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", entity, err)
	}
	if len(objs) == 0 {
		return nil, nil
	}
	return &objs[0], nil
}

// GetEntity is Entity with the predicate attr == parameter.
func (s *Stack) GetEntity(ctx context.Context, entity, attr, parameter string, c *Context) (*Object, error) {
	return s.Entity(ctx, entity, s.Predicate(attr, parameter), c)
}

// ClearContents stages a delete in c for every object of entity matching p
// and returns how many were staged. The deletes reach the store when the
// context tree is saved, all together or not at all.
//
// A DynamoDB store writes at most 100 changes per save and rejects larger
// saves with dynamostore.ErrTooManyChanges. Clear large entities in batches
// there, e.g. with narrower predicates saved one at a time.
func (s *Stack) ClearContents(ctx context.Context, entity string, c *Context, p predicate.Predicate) (n int, err error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	c = s.contextOrMain(c)
	ctx, span := s.startSpan(ctx, "datastack.ClearContents", attribute.String("entity", entity), attribute.String("context", c.Name()))
	defer endSpan(span, &err)

	objs, err := c.Fetch(ctx, FetchRequest{Entity: entity, Predicate: p})
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", entity, err)
	}
	for _, obj := range objs {
		if err := c.Delete(obj); err != nil {
			return 0, err
		}
	}
	span.SetAttributes(attribute.Int("deleted", len(objs)))
	s.logger.DebugContext(ctx, "cleared contents", slog.String("entity", entity), slog.String("context", c.Name()), slog.Int("deleted", len(objs)))
	return len(objs), nil
}

// Close closes the underlying store. Pending changes are discarded.
func (s *Stack) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.store.Close()
}

func (s *Stack) contextOrMain(c *Context) *Context {
	if c == nil {
		return s.main
	}
	return c
}

func (s *Stack) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
