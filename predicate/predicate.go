// Package predicate builds filter conditions over object attributes.
//
// Predicates are evaluated in process against attribute maps with Match,
// and can be translated into DynamoDB condition expressions with Condition
// so stores backed by DynamoDB filter server side.
package predicate

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is the attribute map a predicate is evaluated against.
type Item = map[string]types.AttributeValue

type Predicate interface {
	// Match reports whether the item satisfies the predicate.
	// A key path that is missing from the item never matches.
	Match(item Item) (bool, error)
	String() string
}

// Op is a comparison operator.
type Op int

const (
	OpEqual Op = iota
	OpNotEqual
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
)

func (o Op) String() string {
	switch o {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessOrEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterOrEqual:
		return ">="
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Equal matches when the attribute at keyPath equals value. Numbers compare
// numerically, so Equal("age", 42) matches N "42.0".
func Equal(keyPath string, value any) Predicate {
	return newComparison(OpEqual, keyPath, value, false)
}

// NotEqual matches when the attribute at keyPath exists and differs from
// value.
func NotEqual(keyPath string, value any) Predicate {
	return newComparison(OpNotEqual, keyPath, value, false)
}

// Less matches numbers, strings and binaries ordered below value.
func Less(keyPath string, value any) Predicate {
	return newComparison(OpLess, keyPath, value, false)
}

// LessOrEqual is Less or Equal.
func LessOrEqual(keyPath string, value any) Predicate {
	return newComparison(OpLessOrEqual, keyPath, value, false)
}

// Greater matches numbers, strings and binaries ordered above value.
func Greater(keyPath string, value any) Predicate {
	return newComparison(OpGreater, keyPath, value, false)
}

// GreaterOrEqual is Greater or Equal.
func GreaterOrEqual(keyPath string, value any) Predicate {
	return newComparison(OpGreaterOrEqual, keyPath, value, false)
}

// EqualString matches when the attribute at keyPath equals value after
// coercing value to the attribute's type: numbers compare numerically,
// booleans are parsed with strconv.ParseBool and binaries compare bytes.
func EqualString(keyPath, value string) Predicate {
	return newComparison(OpEqual, keyPath, value, true)
}

// BeginsWith matches string and binary attributes starting with prefix.
func BeginsWith(keyPath, prefix string) Predicate {
	path, err := ParseKeyPath(keyPath)
	if err != nil {
		return invalid{err}
	}
	return beginsWith{path: path, prefix: prefix}
}

// Contains matches string attributes containing substr, and string sets
// or lists holding substr as an element.
func Contains(keyPath, substr string) Predicate {
	path, err := ParseKeyPath(keyPath)
	if err != nil {
		return invalid{err}
	}
	return contains{path: path, substr: substr}
}

// Exists matches when keyPath resolves to any attribute, including NULL.
func Exists(keyPath string) Predicate {
	path, err := ParseKeyPath(keyPath)
	if err != nil {
		return invalid{err}
	}
	return exists{path: path}
}

// And matches when every predicate matches. And() with no arguments is True.
func And(preds ...Predicate) Predicate {
	return and(compact(preds))
}

// Or matches when any predicate matches. Or() with no arguments never matches.
func Or(preds ...Predicate) Predicate {
	return or(compact(preds))
}

// Not inverts p. Evaluation errors from p are returned, not inverted.
func Not(p Predicate) Predicate {
	if p == nil {
		p = True()
	}
	return not{p}
}

// True matches every item.
func True() Predicate {
	return truePredicate{}
}

func compact(preds []Predicate) []Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

type comparison struct {
	op     Op
	path   KeyPath
	raw    any
	value  types.AttributeValue
	coerce bool
}

func newComparison(op Op, keyPath string, raw any, coerce bool) Predicate {
	path, err := ParseKeyPath(keyPath)
	if err != nil {
		return invalid{err}
	}
	av, err := attributevalue.Marshal(raw)
	if err != nil {
		return invalid{fmt.Errorf("marshal value for %q: %w", keyPath, err)}
	}
	return comparison{op: op, path: path, raw: raw, value: av, coerce: coerce}
}

func (c comparison) Match(item Item) (bool, error) {
	attr, ok := c.path.Resolve(item)
	if !ok {
		return false, nil
	}
	switch c.op {
	case OpEqual:
		return equalAttributes(attr, c.value, c.coerce), nil
	case OpNotEqual:
		return !equalAttributes(attr, c.value, c.coerce), nil
	}
	cmp, ok := compareAttributes(attr, c.value, c.coerce)
	if !ok {
		return false, nil
	}
	switch c.op {
	case OpLess:
		return cmp < 0, nil
	case OpLessOrEqual:
		return cmp <= 0, nil
	case OpGreater:
		return cmp > 0, nil
	case OpGreaterOrEqual:
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %v", c.op)
	}
}

func (c comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.path, c.op, formatAttribute(c.value))
}

type beginsWith struct {
	path   KeyPath
	prefix string
}

func (b beginsWith) Match(item Item) (bool, error) {
	attr, ok := b.path.Resolve(item)
	if !ok {
		return false, nil
	}
	switch v := attr.(type) {
	case *types.AttributeValueMemberS:
		return strings.HasPrefix(v.Value, b.prefix), nil
	case *types.AttributeValueMemberB:
		return strings.HasPrefix(string(v.Value), b.prefix), nil
	default:
		return false, nil
	}
}

func (b beginsWith) String() string {
	return fmt.Sprintf("%s BEGINSWITH %q", b.path, b.prefix)
}

type contains struct {
	path   KeyPath
	substr string
}

func (c contains) Match(item Item) (bool, error) {
	attr, ok := c.path.Resolve(item)
	if !ok {
		return false, nil
	}
	switch v := attr.(type) {
	case *types.AttributeValueMemberS:
		return strings.Contains(v.Value, c.substr), nil
	case *types.AttributeValueMemberSS:
		for _, s := range v.Value {
			if s == c.substr {
				return true, nil
			}
		}
	case *types.AttributeValueMemberL:
		for _, el := range v.Value {
			if s, ok := el.(*types.AttributeValueMemberS); ok && s.Value == c.substr {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c contains) String() string {
	return fmt.Sprintf("%s CONTAINS %q", c.path, c.substr)
}

type exists struct {
	path KeyPath
}

func (e exists) Match(item Item) (bool, error) {
	_, ok := e.path.Resolve(item)
	return ok, nil
}

func (e exists) String() string {
	return fmt.Sprintf("EXISTS %s", e.path)
}

type and []Predicate

func (a and) Match(item Item) (bool, error) {
	for _, p := range a {
		ok, err := p.Match(item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a and) String() string {
	if len(a) == 0 {
		return "TRUEPREDICATE"
	}
	return join(a, " AND ")
}

type or []Predicate

func (o or) Match(item Item) (bool, error) {
	for _, p := range o {
		ok, err := p.Match(item)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (o or) String() string {
	if len(o) == 0 {
		return "FALSEPREDICATE"
	}
	return join(o, " OR ")
}

type not struct {
	p Predicate
}

func (n not) Match(item Item) (bool, error) {
	ok, err := n.p.Match(item)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (n not) String() string {
	return fmt.Sprintf("NOT (%s)", n.p)
}

type truePredicate struct{}

func (truePredicate) Match(Item) (bool, error) { return true, nil }
func (truePredicate) String() string           { return "TRUEPREDICATE" }

// invalid carries a construction error to the point of evaluation.
type invalid struct {
	err error
}

func (i invalid) Match(Item) (bool, error) { return false, i.err }
func (i invalid) String() string           { return fmt.Sprintf("INVALID(%v)", i.err) }

func join(preds []Predicate, sep string) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = "(" + p.String() + ")"
	}
	return strings.Join(parts, sep)
}
