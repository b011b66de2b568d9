package datastack

import (
	"context"
	"sync"
	"testing"

	"github.com/acksell/datastack/predicate"
	"github.com/acksell/datastack/store"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_Layering(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	main := s.Main()
	child := main.NewChild("child")

	require.NoError(t, child.Put(user("u1", "a@example.com", 20)))

	got, err := child.Get(ctx, Key{Entity: "User", ID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = main.Get(ctx, Key{Entity: "User", ID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, got, "child changes are invisible to the parent before save")

	require.NoError(t, child.Save(ctx))
	assert.False(t, child.HasChanges())
	assert.True(t, main.HasChanges())

	got, err = main.Get(ctx, Key{Entity: "User", ID: "u1"})
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = s.Worker().Get(ctx, Key{Entity: "User", ID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestContext_DeleteShadowsParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	main := s.Main()

	require.NoError(t, main.Put(user("u1", "a@example.com", 20)))
	require.NoError(t, main.Put(user("u2", "b@example.com", 20)))
	require.NoError(t, s.SaveTree(ctx, main))

	child := main.NewChild("child")
	require.NoError(t, child.DeleteKey(Key{Entity: "User", ID: "u1"}))

	got, err := child.Get(ctx, Key{Entity: "User", ID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, got)

	objs, err := child.Fetch(ctx, FetchRequest{Entity: "User"})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "u2", objs[0].ID)

	objs, err = main.Fetch(ctx, FetchRequest{Entity: "User"})
	require.NoError(t, err)
	assert.Len(t, objs, 2)
}

func TestContext_FetchOverlay(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	main := s.Main()

	require.NoError(t, main.Put(user("1", "a@example.com", 10)))
	require.NoError(t, main.Put(user("3", "c@example.com", 10)))
	require.NoError(t, s.SaveTree(ctx, main))

	// update moves u3 out of the result, insert adds u2
	require.NoError(t, main.Put(user("3", "c@example.com", 50)))
	require.NoError(t, main.Put(user("2", "b@example.com", 10)))
	require.NoError(t, main.Put(Object{Entity: "Other", ID: "0", Attributes: Item{"age": &types.AttributeValueMemberN{Value: "10"}}}))

	objs, err := main.Fetch(ctx, FetchRequest{Entity: "User", Predicate: predicate.Equal("age", 10)})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "1", objs[0].ID)
	assert.Equal(t, "2", objs[1].ID)

	objs, err = main.Fetch(ctx, FetchRequest{Entity: "User", Limit: 2})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "1", objs[0].ID)
	assert.Equal(t, "2", objs[1].ID)

	_, err = main.Fetch(ctx, FetchRequest{})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestContext_Rollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	main := s.Main()

	require.NoError(t, main.Put(user("u1", "a@example.com", 20)))
	main.Rollback()
	assert.False(t, main.HasChanges())

	require.NoError(t, s.SaveTree(ctx, main))
	got, err := s.Store().Get(ctx, Key{Entity: "User", ID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestContext_PutCopiesAttributes(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	obj := user("u1", "a@example.com", 20)
	require.NoError(t, s.Main().Put(obj))

	obj.Attributes["email"] = &types.AttributeValueMemberS{Value: "changed@example.com"}

	got, err := s.Main().Get(ctx, obj.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "a@example.com"}, got.Attributes["email"])
}

func TestContext_InsertValue(t *testing.T) {
	type profile struct {
		Email string `dynamodbav:"email"`
		Age   int    `dynamodbav:"age"`
	}
	ctx := context.Background()
	s := newTestStack(t)

	obj, err := s.Main().InsertValue("User", profile{Email: "bob@example.com", Age: 33})
	require.NoError(t, err)
	assert.NotEmpty(t, obj.ID)

	got, err := s.GetEntity(ctx, "User", "age", "33", s.Main())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, obj.ID, got.ID)

	var p profile
	require.NoError(t, got.Unmarshal(&p))
	assert.Equal(t, profile{Email: "bob@example.com", Age: 33}, p)
}

func TestContext_InvalidKey(t *testing.T) {
	s := newTestStack(t)
	require.ErrorIs(t, s.Main().Put(Object{Entity: "User"}), ErrInvalidKey)
	require.ErrorIs(t, s.Main().DeleteKey(Key{ID: "1"}), ErrInvalidKey)
	_, err := s.Main().Insert("", Item{})
	require.ErrorIs(t, err, ErrInvalidKey)
	assert.False(t, s.Main().HasChanges())
}

func TestContext_Changes(t *testing.T) {
	s := newTestStack(t)
	main := s.Main()
	require.NoError(t, main.Put(user("b", "b@example.com", 1)))
	require.NoError(t, main.DeleteKey(Key{Entity: "Note", ID: "z"}))
	require.NoError(t, main.Put(user("a", "a@example.com", 1)))
	require.NoError(t, main.Put(user("b", "b2@example.com", 2)))

	changes := main.Changes()
	require.Len(t, changes, 3)
	assert.Equal(t, Key{Entity: "Note", ID: "z"}, changes[0].Object.Key())
	assert.Equal(t, store.OpDelete, changes[0].Op)
	assert.Equal(t, user("a", "a@example.com", 1), changes[1].Object)
	assert.Equal(t, user("b", "b2@example.com", 2), changes[2].Object)
}

func TestContext_ConcurrentSave(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := s.Main().NewChild("writer")
			assert.NoError(t, c.Put(user(string(rune('a'+i)), "x@example.com", i)))
			assert.NoError(t, s.SaveTree(ctx, c))
		}()
	}
	wg.Wait()

	objs, err := s.Store().Fetch(ctx, store.Query{Entity: "User"})
	require.NoError(t, err)
	assert.Len(t, objs, 20)
}
