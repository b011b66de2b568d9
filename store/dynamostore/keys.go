package dynamostore

import (
	"fmt"

	"github.com/acksell/datastack/store"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// keyDefinition names the table's partition and sort key attributes.
// Both are of kind S.
type keyDefinition struct {
	EntityKey string
	IDKey     string
}

func (k keyDefinition) encode(key store.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		k.EntityKey: &types.AttributeValueMemberS{Value: key.Entity},
		k.IDKey:     &types.AttributeValueMemberS{Value: key.ID},
	}
}

// encodeObject merges the key attributes into a copy of the object's attributes.
func (k keyDefinition) encodeObject(obj store.Object) (map[string]types.AttributeValue, error) {
	for _, reserved := range []string{k.EntityKey, k.IDKey} {
		if _, found := obj.Attributes[reserved]; found {
			return nil, fmt.Errorf("attribute %q of %s is reserved for the table key", reserved, obj.Key())
		}
	}
	item := make(map[string]types.AttributeValue, len(obj.Attributes)+2)
	for name, v := range obj.Attributes {
		item[name] = v
	}
	for name, v := range k.encode(obj.Key()) {
		item[name] = v
	}
	return item, nil
}

func (k keyDefinition) decode(item map[string]types.AttributeValue) (store.Object, error) {
	entity, err := stringAttribute(item, k.EntityKey)
	if err != nil {
		return store.Object{}, err
	}
	id, err := stringAttribute(item, k.IDKey)
	if err != nil {
		return store.Object{}, err
	}
	attrs := make(store.Item, len(item))
	for name, v := range item {
		if name == k.EntityKey || name == k.IDKey {
			continue
		}
		attrs[name] = v
	}
	return store.Object{Entity: entity, ID: id, Attributes: attrs}, nil
}

func stringAttribute(item map[string]types.AttributeValue, name string) (string, error) {
	av, ok := item[name]
	if !ok {
		return "", fmt.Errorf("key %q not found on item", name)
	}
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("key %q: got %T want S", name, av)
	}
	return s.Value, nil
}
