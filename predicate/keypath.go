package predicate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrInvalidKeyPath = errors.New("invalid key path")

// KeyPath addresses a possibly nested attribute, e.g. "meta.version".
// A numeric segment indexes into a list, e.g. "tags.0", or names a map
// key when the value at that point is a map.
type KeyPath []string

func ParseKeyPath(s string) (KeyPath, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKeyPath)
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidKeyPath, s)
		}
	}
	return KeyPath(segments), nil
}

// Resolve walks the item along the path.
func (k KeyPath) Resolve(item Item) (types.AttributeValue, bool) {
	if len(k) == 0 {
		return nil, false
	}
	cur, ok := item[k[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range k[1:] {
		switch v := cur.(type) {
		case *types.AttributeValueMemberM:
			cur, ok = v.Value[seg]
			if !ok {
				return nil, false
			}
		case *types.AttributeValueMemberL:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v.Value) {
				return nil, false
			}
			cur = v.Value[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func (k KeyPath) String() string {
	return strings.Join(k, ".")
}

// conditionName renders the path in DynamoDB document path syntax.
// A numeric segment past the first could address a list index or a map
// key, and Resolve decides by the value it meets, so such paths are
// reported as ErrUnsupported.
func (k KeyPath) conditionName() (expression.NameBuilder, error) {
	for _, seg := range k[1:] {
		if _, err := strconv.Atoi(seg); err == nil {
			return expression.NameBuilder{}, fmt.Errorf("%w: numeric segment in %q", ErrUnsupported, k.String())
		}
	}
	return expression.Name(k.String()), nil
}
