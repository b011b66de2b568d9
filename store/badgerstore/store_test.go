package badgerstore

import (
	"context"
	"testing"

	"github.com/acksell/datastack/predicate"
	"github.com/acksell/datastack/store"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	s, err := New(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func user(id, name string) store.Object {
	return store.Object{
		Entity: "User",
		ID:     id,
		Attributes: store.Item{
			"name": &types.AttributeValueMemberS{Value: name},
		},
	}
}

func put(objs ...store.Object) []store.Change {
	changes := make([]store.Change, len(objs))
	for i, o := range objs {
		changes[i] = store.Change{Op: store.OpPut, Object: o}
	}
	return changes
}

func TestStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("existing object", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Apply(ctx, put(user("1", "bob"))))

		got, err := s.Get(ctx, store.Key{Entity: "User", ID: "1"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, user("1", "bob"), *got)
	})

	t.Run("missing object returns nil", func(t *testing.T) {
		s := newTestStore(t)
		got, err := s.Get(ctx, store.Key{Entity: "User", ID: "nope"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("invalid key", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Get(ctx, store.Key{Entity: "User"})
		require.ErrorIs(t, err, store.ErrInvalidKey)
	})
}

func TestStore_Fetch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Apply(ctx, put(
		user("c", "carol"),
		user("a", "alice"),
		user("b", "bob"),
		store.Object{Entity: "Users", ID: "x", Attributes: store.Item{}},
		store.Object{Entity: "Group", ID: "a", Attributes: store.Item{}},
	)))

	t.Run("all objects ordered by id", func(t *testing.T) {
		objs, err := s.Fetch(ctx, store.Query{Entity: "User"})
		require.NoError(t, err)
		require.Len(t, objs, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{objs[0].ID, objs[1].ID, objs[2].ID})
	})

	t.Run("predicate filters", func(t *testing.T) {
		objs, err := s.Fetch(ctx, store.Query{Entity: "User", Predicate: predicate.EqualString("name", "bob")})
		require.NoError(t, err)
		require.Len(t, objs, 1)
		assert.Equal(t, "b", objs[0].ID)
	})

	t.Run("no match", func(t *testing.T) {
		objs, err := s.Fetch(ctx, store.Query{Entity: "User", Predicate: predicate.EqualString("name", "dave")})
		require.NoError(t, err)
		assert.Empty(t, objs)
	})

	t.Run("predicate error", func(t *testing.T) {
		_, err := s.Fetch(ctx, store.Query{Entity: "User", Predicate: predicate.EqualString("", "x")})
		require.ErrorIs(t, err, predicate.ErrInvalidKeyPath)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Fetch(cctx, store.Query{Entity: "User"})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestStore_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("put then delete", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Apply(ctx, put(user("1", "bob"), user("2", "alice"))))
		require.NoError(t, s.Apply(ctx, []store.Change{{Op: store.OpDelete, Object: user("1", "")}}))

		objs, err := s.Fetch(ctx, store.Query{Entity: "User"})
		require.NoError(t, err)
		require.Len(t, objs, 1)
		assert.Equal(t, "2", objs[0].ID)
	})

	t.Run("delete missing object succeeds", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Apply(ctx, []store.Change{{Op: store.OpDelete, Object: user("nope", "")}}))
	})

	t.Run("invalid change rejects whole batch", func(t *testing.T) {
		s := newTestStore(t)
		err := s.Apply(ctx, append(put(user("1", "bob")), store.Change{Op: store.OpPut, Object: store.Object{Entity: "User"}}))
		require.ErrorIs(t, err, store.ErrInvalidKey)

		got, err := s.Get(ctx, store.Key{Entity: "User", ID: "1"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("empty change set", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Apply(ctx, nil))
	})
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(Options{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, put(user("1", "bob"))))
	require.NoError(t, s.Close())

	s, err = New(Options{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, store.Key{Entity: "User", ID: "1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user("1", "bob"), *got)
}

func TestKeyEncoding(t *testing.T) {
	keys := []store.Key{
		{Entity: "User", ID: "1"},
		{Entity: "a\x00b", ID: "c\x01d"},
		{Entity: "User", ID: "with\x00null"},
	}
	for _, k := range keys {
		got, err := decodeKey(encodeKey(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	assert.NotContains(t, string(encodeKey(store.Key{Entity: "Users", ID: "x"})), string(entityPrefix("User")))
}
