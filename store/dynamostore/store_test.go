package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/acksell/datastack/predicate"
	"github.com/acksell/datastack/store"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient keeps items in memory keyed by "_entity/_id". Query only
// understands the single equality key condition the store emits and does
// not evaluate filter expressions, so in-process filtering is exercised too.
type fakeClient struct {
	items    map[string]map[string]types.AttributeValue
	pageSize int

	queries   []*dynamodb.QueryInput
	puts      int
	deletes   int
	transacts []*dynamodb.TransactWriteItemsInput

	failTransact error
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["_entity"].(*types.AttributeValueMemberS).Value + "/" + item["_id"].(*types.AttributeValueMemberS).Value
}

func (f *fakeClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(params.Key)]}, nil
}

func (f *fakeClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts++
	f.items[itemKey(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deletes++
	delete(f.items, itemKey(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transacts = append(f.transacts, params)
	if f.failTransact != nil {
		return nil, f.failTransact
	}
	for _, twi := range params.TransactItems {
		switch {
		case twi.Put != nil:
			f.items[itemKey(twi.Put.Item)] = twi.Put.Item
		case twi.Delete != nil:
			delete(f.items, itemKey(twi.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, params)
	tokens := strings.Fields(*params.KeyConditionExpression)
	if len(tokens) != 3 || tokens[1] != "=" {
		return nil, fmt.Errorf("unsupported key condition %q", *params.KeyConditionExpression)
	}
	if params.ExpressionAttributeNames[tokens[0]] != "_entity" {
		return nil, fmt.Errorf("key condition on %q", params.ExpressionAttributeNames[tokens[0]])
	}
	entity := params.ExpressionAttributeValues[tokens[2]].(*types.AttributeValueMemberS).Value

	var keys []string
	for k := range f.items {
		if strings.HasPrefix(k, entity+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if params.ExclusiveStartKey != nil {
		start := itemKey(params.ExclusiveStartKey)
		i := sort.SearchStrings(keys, start)
		if i < len(keys) && keys[i] == start {
			i++
		}
		keys = keys[i:]
	}

	out := &dynamodb.QueryOutput{}
	for _, k := range keys {
		if f.pageSize > 0 && len(out.Items) == f.pageSize {
			last := out.Items[len(out.Items)-1]
			out.LastEvaluatedKey = map[string]types.AttributeValue{"_entity": last["_entity"], "_id": last["_id"]}
			break
		}
		out.Items = append(out.Items, f.items[k])
	}
	return out, nil
}

func newTestStore(t *testing.T) (*Store, *fakeClient) {
	client := newFakeClient()
	s, err := New(client, Options{Table: "objects"})
	require.NoError(t, err)
	return s, client
}

func note(id, text string, stars int) store.Object {
	return store.Object{
		Entity: "Note",
		ID:     id,
		Attributes: store.Item{
			"text":  &types.AttributeValueMemberS{Value: text},
			"stars": &types.AttributeValueMemberN{Value: strconv.Itoa(stars)},
		},
	}
}

func puts(objs ...store.Object) []store.Change {
	changes := make([]store.Change, len(objs))
	for i, o := range objs {
		changes[i] = store.Change{Op: store.OpPut, Object: o}
	}
	return changes
}

func TestNew(t *testing.T) {
	_, err := New(nil, Options{Table: "t"})
	require.Error(t, err)

	_, err = New(newFakeClient(), Options{})
	require.Error(t, err)

	_, err = New(newFakeClient(), Options{Table: "t", EntityKey: "k", IDKey: "k"})
	require.Error(t, err)
}

func TestStore_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("single put uses PutItem", func(t *testing.T) {
		s, client := newTestStore(t)
		require.NoError(t, s.Apply(ctx, puts(note("1", "hi", 3))))
		assert.Equal(t, 1, client.puts)
		assert.Empty(t, client.transacts)

		got, err := s.Get(ctx, store.Key{Entity: "Note", ID: "1"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, note("1", "hi", 3), *got)
	})

	t.Run("single delete uses DeleteItem", func(t *testing.T) {
		s, client := newTestStore(t)
		require.NoError(t, s.Apply(ctx, puts(note("1", "hi", 3))))
		require.NoError(t, s.Apply(ctx, []store.Change{{Op: store.OpDelete, Object: store.Object{Entity: "Note", ID: "1"}}}))
		assert.Equal(t, 1, client.deletes)

		got, err := s.Get(ctx, store.Key{Entity: "Note", ID: "1"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("several changes use one transaction", func(t *testing.T) {
		s, client := newTestStore(t)
		changes := append(puts(note("1", "a", 1), note("2", "b", 2)), store.Change{Op: store.OpDelete, Object: store.Object{Entity: "Note", ID: "3"}})
		require.NoError(t, s.Apply(ctx, changes))
		require.Len(t, client.transacts, 1)
		assert.Len(t, client.transacts[0].TransactItems, 3)
		assert.Equal(t, 0, client.puts)
	})

	t.Run("failed transaction writes nothing", func(t *testing.T) {
		s, client := newTestStore(t)
		client.failTransact = errors.New("TransactionCanceledException")
		err := s.Apply(ctx, puts(note("1", "a", 1), note("2", "b", 2)))
		require.Error(t, err)
		assert.Empty(t, client.items)
	})

	t.Run("too many changes", func(t *testing.T) {
		s, client := newTestStore(t)
		var objs []store.Object
		for i := 0; i <= maxTransactItems; i++ {
			objs = append(objs, note(strconv.Itoa(i), "x", 0))
		}
		err := s.Apply(ctx, puts(objs...))
		require.ErrorIs(t, err, ErrTooManyChanges)
		assert.Empty(t, client.transacts)
	})

	t.Run("reserved attribute", func(t *testing.T) {
		s, _ := newTestStore(t)
		obj := note("1", "a", 1)
		obj.Attributes["_id"] = &types.AttributeValueMemberS{Value: "other"}
		require.Error(t, s.Apply(ctx, puts(obj)))
	})
}

func TestStore_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes predicate down and filters in process", func(t *testing.T) {
		s, client := newTestStore(t)
		require.NoError(t, s.Apply(ctx, puts(note("b", "two", 2), note("a", "one", 1), note("c", "three", 3))))
		require.NoError(t, s.Apply(ctx, puts(store.Object{Entity: "Other", ID: "a", Attributes: store.Item{}})))

		objs, err := s.Fetch(ctx, store.Query{Entity: "Note", Predicate: predicate.EqualString("stars", "2")})
		require.NoError(t, err)
		require.Len(t, objs, 1)
		assert.Equal(t, "b", objs[0].ID)

		require.Len(t, client.queries, 1)
		assert.NotNil(t, client.queries[0].FilterExpression)
		assert.True(t, *client.queries[0].ConsistentRead)
	})

	t.Run("follows pagination", func(t *testing.T) {
		s, client := newTestStore(t)
		client.pageSize = 2
		require.NoError(t, s.Apply(ctx, puts(note("1", "a", 1), note("2", "b", 2), note("3", "c", 3), note("4", "d", 4), note("5", "e", 5))))

		objs, err := s.Fetch(ctx, store.Query{Entity: "Note"})
		require.NoError(t, err)
		require.Len(t, objs, 5)
		assert.Len(t, client.queries, 3)
		assert.Nil(t, client.queries[0].FilterExpression)
		for i, o := range objs {
			assert.Equal(t, strconv.Itoa(i+1), o.ID)
		}
	})

	t.Run("unsupported predicate is evaluated in process", func(t *testing.T) {
		s, client := newTestStore(t)
		require.NoError(t, s.Apply(ctx, puts(note("1", "a", 1), note("2", "b", 2))))

		objs, err := s.Fetch(ctx, store.Query{Entity: "Note", Predicate: predicate.Or()})
		require.NoError(t, err)
		assert.Empty(t, objs)
		assert.Nil(t, client.queries[0].FilterExpression)
	})

	t.Run("numeric map key is evaluated in process", func(t *testing.T) {
		s, client := newTestStore(t)
		obj := note("1", "a", 1)
		obj.Attributes["scores"] = &types.AttributeValueMemberM{Value: store.Item{
			"2024": &types.AttributeValueMemberN{Value: "7"},
		}}
		require.NoError(t, s.Apply(ctx, puts(obj, note("2", "b", 2))))

		objs, err := s.Fetch(ctx, store.Query{Entity: "Note", Predicate: predicate.EqualString("scores.2024", "7")})
		require.NoError(t, err)
		require.Len(t, objs, 1)
		assert.Equal(t, "1", objs[0].ID)
		assert.Nil(t, client.queries[0].FilterExpression)
	})

	t.Run("invalid predicate", func(t *testing.T) {
		s, _ := newTestStore(t)
		_, err := s.Fetch(ctx, store.Query{Entity: "Note", Predicate: predicate.Exists("")})
		require.ErrorIs(t, err, predicate.ErrInvalidKeyPath)
	})
}
