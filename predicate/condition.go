package predicate

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
)

// ErrUnsupported is returned by Condition for predicates DynamoDB cannot express.
var ErrUnsupported = errors.New("predicate not expressible as a condition")

// Condition translates p into a DynamoDB condition expression.
// An unset builder (IsSet() == false) means p matches every item.
//
// The condition never rejects an item Match accepts, though it may accept
// more; callers re-check results with Match. String equality built with
// EqualString is widened to the number, boolean and binary forms of the
// value, mirroring the coercion Match performs. BeginsWith also lets every
// binary attribute through, since the builder only takes string prefixes.
func Condition(p Predicate) (expression.ConditionBuilder, error) {
	switch p := p.(type) {
	case nil, truePredicate:
		return expression.ConditionBuilder{}, nil
	case invalid:
		return expression.ConditionBuilder{}, p.err
	case comparison:
		return comparisonCondition(p)
	case beginsWith:
		name, err := p.path.conditionName()
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return expression.Or(name.BeginsWith(p.prefix), name.AttributeType(expression.Binary)), nil
	case contains:
		name, err := p.path.conditionName()
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return name.Contains(p.substr), nil
	case exists:
		name, err := p.path.conditionName()
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return name.AttributeExists(), nil
	case and:
		conds := make([]expression.ConditionBuilder, 0, len(p))
		for _, sub := range p {
			c, err := Condition(sub)
			if err != nil {
				return expression.ConditionBuilder{}, err
			}
			if c.IsSet() {
				conds = append(conds, c)
			}
		}
		return combine(conds, expression.And), nil
	case or:
		if len(p) == 0 {
			return expression.ConditionBuilder{}, fmt.Errorf("%w: empty OR", ErrUnsupported)
		}
		conds := make([]expression.ConditionBuilder, 0, len(p))
		for _, sub := range p {
			c, err := Condition(sub)
			if err != nil {
				return expression.ConditionBuilder{}, err
			}
			if !c.IsSet() {
				// one branch always matches
				return expression.ConditionBuilder{}, nil
			}
			conds = append(conds, c)
		}
		return combine(conds, expression.Or), nil
	case not:
		if widened(p.p) {
			// negating a looser condition would reject matching items
			return expression.ConditionBuilder{}, fmt.Errorf("%w: NOT over %s", ErrUnsupported, p.p)
		}
		c, err := Condition(p.p)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		if !c.IsSet() {
			return expression.ConditionBuilder{}, fmt.Errorf("%w: NOT TRUEPREDICATE", ErrUnsupported)
		}
		return expression.Not(c), nil
	default:
		return expression.ConditionBuilder{}, fmt.Errorf("%w: %T", ErrUnsupported, p)
	}
}

type combinator func(left, right expression.ConditionBuilder, other ...expression.ConditionBuilder) expression.ConditionBuilder

func combine(conds []expression.ConditionBuilder, fn combinator) expression.ConditionBuilder {
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}
	case 1:
		return conds[0]
	default:
		return fn(conds[0], conds[1], conds[2:]...)
	}
}

// widened reports whether Condition(p) may accept items Match rejects.
func widened(p Predicate) bool {
	switch p := p.(type) {
	case beginsWith:
		return true
	case and:
		for _, sub := range p {
			if widened(sub) {
				return true
			}
		}
	case or:
		for _, sub := range p {
			if widened(sub) {
				return true
			}
		}
	case not:
		return widened(p.p)
	}
	return false
}

func comparisonCondition(c comparison) (expression.ConditionBuilder, error) {
	name, err := c.path.conditionName()
	if err != nil {
		return expression.ConditionBuilder{}, err
	}
	operands := []any{c.raw}
	if s, ok := c.raw.(string); ok && c.coerce {
		if _, ok := parseNumber(s); ok {
			operands = append(operands, attributevalue.Number(s))
		}
		if b, err := strconv.ParseBool(s); err == nil {
			operands = append(operands, b)
		}
		operands = append(operands, []byte(s))
	}
	conds := make([]expression.ConditionBuilder, 0, len(operands))
	for _, operand := range operands {
		value := expression.Value(operand)
		switch c.op {
		case OpEqual:
			conds = append(conds, name.Equal(value))
		case OpNotEqual:
			conds = append(conds, name.NotEqual(value))
		case OpLess:
			conds = append(conds, name.LessThan(value))
		case OpLessOrEqual:
			conds = append(conds, name.LessThanEqual(value))
		case OpGreater:
			conds = append(conds, name.GreaterThan(value))
		case OpGreaterOrEqual:
			conds = append(conds, name.GreaterThanEqual(value))
		default:
			return expression.ConditionBuilder{}, fmt.Errorf("%w: operator %v", ErrUnsupported, c.op)
		}
	}
	if c.op == OpNotEqual {
		return combine(conds, expression.And), nil
	}
	return combine(conds, expression.Or), nil
}
