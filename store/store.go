// Package store defines the persistence boundary shared by the object
// contexts and the concrete backends (badger, SQLite, DynamoDB).
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/acksell/datastack/predicate"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrInvalidKey = errors.New("invalid key")

// Item represents the attributes of an object.
// Use attributevalue.UnmarshalMap, or Object.Unmarshal, to convert to a struct.
type Item = map[string]types.AttributeValue

type Key struct {
	Entity string
	ID     string
}

func (k Key) Validate() error {
	if k.Entity == "" {
		return fmt.Errorf("%w: entity name is required", ErrInvalidKey)
	}
	if k.ID == "" {
		return fmt.Errorf("%w: id is required for entity %q", ErrInvalidKey, k.Entity)
	}
	return nil
}

func (k Key) String() string {
	return k.Entity + "/" + k.ID
}

// Object is one persisted record of a named entity.
type Object struct {
	Entity     string
	ID         string
	Attributes Item
}

func (o Object) Key() Key {
	return Key{Entity: o.Entity, ID: o.ID}
}

// Unmarshal decodes the object's attributes into out.
func (o Object) Unmarshal(out any) error {
	if err := attributevalue.UnmarshalMap(o.Attributes, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", o.Key(), err)
	}
	return nil
}

// Clone returns a copy whose attribute map can be modified independently.
// Attribute values themselves are shared.
func (o Object) Clone() Object {
	attrs := make(Item, len(o.Attributes))
	for k, v := range o.Attributes {
		attrs[k] = v
	}
	o.Attributes = attrs
	return o
}

type Op int

const (
	OpPut Op = iota
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Change is a staged mutation. For OpDelete only the object's key is used.
type Change struct {
	Op     Op
	Object Object
}

// Query selects objects of one entity. A nil Predicate matches everything.
type Query struct {
	Entity    string
	Predicate predicate.Predicate
}

// Match evaluates the query predicate against obj.
func (q Query) Match(obj Object) (bool, error) {
	if obj.Entity != q.Entity {
		return false, nil
	}
	if q.Predicate == nil {
		return true, nil
	}
	return q.Predicate.Match(obj.Attributes)
}

type Store interface {
	// Get returns nil when no object exists for key.
	Get(ctx context.Context, key Key) (*Object, error)
	// Fetch returns all objects matching q, ordered by ascending ID.
	Fetch(ctx context.Context, q Query) ([]Object, error)
	// Apply writes all changes atomically: either every change is
	// persisted or none is.
	Apply(ctx context.Context, changes []Change) error
	Close() error
}

// SortByID orders objects by ascending ID.
func SortByID(objs []Object) {
	sort.Slice(objs, func(i, j int) bool {
		return objs[i].ID < objs[j].ID
	})
}

// ValidateChanges checks every change has a valid key.
func ValidateChanges(changes []Change) error {
	for _, c := range changes {
		if err := c.Object.Key().Validate(); err != nil {
			return err
		}
		if c.Op != OpPut && c.Op != OpDelete {
			return fmt.Errorf("unknown operation %v for %s", c.Op, c.Object.Key())
		}
	}
	return nil
}
