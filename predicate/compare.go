package predicate

import (
	"bytes"
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/exp/constraints"
)

func compareOrdered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func parseNumber(s string) (*big.Float, bool) {
	f, ok := new(big.Float).SetString(s)
	return f, ok
}

// coerceTo converts a string operand into the kind of attr.
func coerceTo(attr types.AttributeValue, s string) (types.AttributeValue, bool) {
	switch attr.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: s}, true
	case *types.AttributeValueMemberN:
		if _, ok := parseNumber(s); !ok {
			return nil, false
		}
		return &types.AttributeValueMemberN{Value: s}, true
	case *types.AttributeValueMemberBOOL:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, false
		}
		return &types.AttributeValueMemberBOOL{Value: b}, true
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: []byte(s)}, true
	default:
		return nil, false
	}
}

func equalAttributes(attr, value types.AttributeValue, coerce bool) bool {
	if coerce {
		s, ok := value.(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		value, ok = coerceTo(attr, s.Value)
		if !ok {
			return false
		}
	}
	switch a := attr.(type) {
	case *types.AttributeValueMemberS:
		b, ok := value.(*types.AttributeValueMemberS)
		return ok && a.Value == b.Value
	case *types.AttributeValueMemberN:
		b, ok := value.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		cmp, ok := compareNumbers(a.Value, b.Value)
		return ok && cmp == 0
	case *types.AttributeValueMemberB:
		b, ok := value.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(a.Value, b.Value)
	case *types.AttributeValueMemberBOOL:
		b, ok := value.(*types.AttributeValueMemberBOOL)
		return ok && a.Value == b.Value
	case *types.AttributeValueMemberNULL:
		_, ok := value.(*types.AttributeValueMemberNULL)
		return ok
	default:
		return reflect.DeepEqual(attr, value)
	}
}

// compareAttributes orders scalar attributes of the same kind.
// ok is false when the two values cannot be ordered.
func compareAttributes(attr, value types.AttributeValue, coerce bool) (cmp int, ok bool) {
	if coerce {
		s, isS := value.(*types.AttributeValueMemberS)
		if !isS {
			return 0, false
		}
		value, ok = coerceTo(attr, s.Value)
		if !ok {
			return 0, false
		}
	}
	switch a := attr.(type) {
	case *types.AttributeValueMemberS:
		if b, ok := value.(*types.AttributeValueMemberS); ok {
			return compareOrdered(a.Value, b.Value), true
		}
	case *types.AttributeValueMemberN:
		if b, ok := value.(*types.AttributeValueMemberN); ok {
			return compareNumbers(a.Value, b.Value)
		}
	case *types.AttributeValueMemberB:
		if b, ok := value.(*types.AttributeValueMemberB); ok {
			return bytes.Compare(a.Value, b.Value), true
		}
	}
	return 0, false
}

func compareNumbers(a, b string) (int, bool) {
	x, ok := parseNumber(a)
	if !ok {
		return 0, false
	}
	y, ok := parseNumber(b)
	if !ok {
		return 0, false
	}
	return x.Cmp(y), true
}

func formatAttribute(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return strconv.Quote(v.Value)
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(v.Value)
	case *types.AttributeValueMemberNULL:
		return "nil"
	}
	var out any
	if err := attributevalue.Unmarshal(av, &out); err != nil {
		return fmt.Sprintf("%T", av)
	}
	return fmt.Sprintf("%v", out)
}
