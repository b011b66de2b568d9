package datastack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/acksell/datastack/predicate"
	"github.com/acksell/datastack/store"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/google/btree"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Context is a scratchpad of pending changes layered over a parent context,
// or over the store for the root context. Reads see the context's own
// changes first, then the parent's view. Nothing reaches the parent until
// Save is called.
//
// A Context is safe for concurrent use.
type Context struct {
	name   string
	parent *Context
	store  store.Store // root only
	logger *slog.Logger
	tracer trace.Tracer

	mu sync.Mutex
	// At most one pending change per key, ordered by entity then ID.
	pending *btree.BTreeG[pendingChange]
}

type pendingChange struct {
	key store.Key
	op  store.Op
	obj store.Object
}

func lessPending(a, b pendingChange) bool {
	if a.key.Entity != b.key.Entity {
		return a.key.Entity < b.key.Entity
	}
	return a.key.ID < b.key.ID
}

func newRootContext(name string, s store.Store, logger *slog.Logger, tracer trace.Tracer) *Context {
	return &Context{
		name:    name,
		store:   s,
		logger:  logger,
		tracer:  tracer,
		pending: btree.NewG(2, lessPending),
	}
}

// NewChild returns a context whose saves go into c.
func (c *Context) NewChild(name string) *Context {
	return &Context{
		name:    name,
		parent:  c,
		logger:  c.logger,
		tracer:  c.tracer,
		pending: btree.NewG(2, lessPending),
	}
}

// Name returns the name the context was created with.
func (c *Context) Name() string {
	return c.name
}

// Parent returns nil for the root context.
func (c *Context) Parent() *Context {
	return c.parent
}

// FetchRequest selects objects of one entity.
type FetchRequest struct {
	Entity string
	// Predicate filters objects. Nil matches every object.
	Predicate predicate.Predicate
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Insert stages a new object with a generated ID.
func (c *Context) Insert(entity string, attrs Item) (Object, error) {
	obj := Object{Entity: entity, ID: uuid.NewString(), Attributes: attrs}
	if err := c.Put(obj); err != nil {
		return Object{}, err
	}
	return obj, nil
}

// InsertValue marshals v with attributevalue.MarshalMap and stages it as a
// new object.
func (c *Context) InsertValue(entity string, v any) (Object, error) {
	attrs, err := attributevalue.MarshalMap(v)
	if err != nil {
		return Object{}, fmt.Errorf("marshal %s: %w", entity, err)
	}
	return c.Insert(entity, attrs)
}

// Put stages an insert or update of obj.
func (c *Context) Put(obj Object) error {
	if err := obj.Key().Validate(); err != nil {
		return err
	}
	obj = obj.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.ReplaceOrInsert(pendingChange{key: obj.Key(), op: store.OpPut, obj: obj})
	return nil
}

// Delete stages a delete of obj's key.
func (c *Context) Delete(obj Object) error {
	return c.DeleteKey(obj.Key())
}

// DeleteKey stages a delete. Deleting an object that does not exist is not
// an error.
func (c *Context) DeleteKey(key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.ReplaceOrInsert(pendingChange{key: key, op: store.OpDelete, obj: Object{Entity: key.Entity, ID: key.ID}})
	return nil
}

// HasChanges reports whether anything is pending in c itself.
func (c *Context) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len() > 0
}

// Changes returns the pending changes ordered by entity and ID.
func (c *Context) Changes() []store.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changesLocked()
}

func (c *Context) changesLocked() []store.Change {
	changes := make([]store.Change, 0, c.pending.Len())
	c.pending.Ascend(func(p pendingChange) bool {
		changes = append(changes, store.Change{Op: p.op, Object: p.obj})
		return true
	})
	return changes
}

// Rollback discards every pending change.
func (c *Context) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Clear(false)
}

// Get returns the object for key as seen by this context, or nil if it does
// not exist or a delete is pending.
func (c *Context) Get(ctx context.Context, key Key) (*Object, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	p, found := c.pending.Get(pendingChange{key: key})
	c.mu.Unlock()
	if found {
		if p.op == store.OpDelete {
			return nil, nil
		}
		obj := p.obj.Clone()
		return &obj, nil
	}
	if c.parent != nil {
		return c.parent.Get(ctx, key)
	}
	return c.store.Get(ctx, key)
}

// Fetch returns the objects matching req ordered by ID, with this context's
// pending changes applied over the parent's results.
func (c *Context) Fetch(ctx context.Context, req FetchRequest) ([]Object, error) {
	if req.Entity == "" {
		return nil, fmt.Errorf("%w: entity name is required", ErrInvalidKey)
	}
	overlay := c.pendingFor(req.Entity)

	var base []Object
	var err error
	if c.parent != nil {
		base, err = c.parent.Fetch(ctx, FetchRequest{Entity: req.Entity, Predicate: req.Predicate})
	} else {
		base, err = c.store.Fetch(ctx, store.Query{Entity: req.Entity, Predicate: req.Predicate})
	}
	if err != nil {
		return nil, err
	}
	if len(overlay) == 0 {
		return limit(base, req.Limit), nil
	}

	byID := make(map[string]Object, len(base)+len(overlay))
	for _, obj := range base {
		byID[obj.ID] = obj
	}
	q := store.Query{Entity: req.Entity, Predicate: req.Predicate}
	for _, p := range overlay {
		delete(byID, p.key.ID)
		if p.op != store.OpPut {
			continue
		}
		matches, err := q.Match(p.obj)
		if err != nil {
			return nil, fmt.Errorf("evaluate predicate: %w", err)
		}
		if matches {
			byID[p.key.ID] = p.obj.Clone()
		}
	}

	objs := make([]Object, 0, len(byID))
	for _, obj := range byID {
		objs = append(objs, obj)
	}
	store.SortByID(objs)
	return limit(objs, req.Limit), nil
}

func (c *Context) pendingFor(entity string) []pendingChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []pendingChange
	c.pending.AscendGreaterOrEqual(pendingChange{key: Key{Entity: entity}}, func(p pendingChange) bool {
		if p.key.Entity != entity {
			return false
		}
		out = append(out, p)
		return true
	})
	return out
}

func limit(objs []Object, n int) []Object {
	if n > 0 && len(objs) > n {
		return objs[:n]
	}
	return objs
}

// Save pushes the pending changes one level up: into the parent context, or
// into the store for the root context. The store applies them atomically.
// On failure the pending changes are kept.
func (c *Context) Save(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, "datastack.Context.Save", trace.WithAttributes(attribute.String("context", c.name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.Len() == 0 {
		return nil
	}
	changes := c.changesLocked()
	span.SetAttributes(attribute.Int("changes", len(changes)))

	if c.parent != nil {
		// child before parent, the only lock order used
		c.parent.merge(changes)
	} else if err := c.store.Apply(ctx, changes); err != nil {
		return fmt.Errorf("apply changes: %w", err)
	}
	c.pending.Clear(false)
	c.logger.DebugContext(ctx, "saved context", slog.String("context", c.name), slog.Int("changes", len(changes)))
	return nil
}

// commit applies the pending changes to the store under the root context,
// leaving every ancestor's pending changes as they are. On failure the
// pending changes are kept.
func (c *Context) commit(ctx context.Context) (int, error) {
	root := c.root()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.Len() == 0 {
		return 0, nil
	}
	changes := c.changesLocked()
	if err := root.store.Apply(ctx, changes); err != nil {
		return 0, fmt.Errorf("apply changes: %w", err)
	}
	c.pending.Clear(false)
	c.logger.DebugContext(ctx, "committed context", slog.String("context", c.name), slog.Int("changes", len(changes)))
	return len(changes), nil
}

func (c *Context) root() *Context {
	for c.parent != nil {
		c = c.parent
	}
	return c
}

func (c *Context) merge(changes []store.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range changes {
		c.pending.ReplaceOrInsert(pendingChange{key: ch.Object.Key(), op: ch.Op, obj: ch.Object})
	}
}
