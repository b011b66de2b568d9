// Package dynamostore implements store.Store on a DynamoDB table.
//
// Every entity is one partition: the partition key holds the entity name and
// the sort key the object ID, so a fetch is a single-partition Query with the
// predicate pushed down as a filter expression.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/acksell/datastack/predicate"
	"github.com/acksell/datastack/store"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB limits a transaction to 100 actions.
const maxTransactItems = 100

var ErrTooManyChanges = fmt.Errorf("too many changes for one transaction, max %d", maxTransactItems)

// Client is the subset of *dynamodb.Client the store uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Options configures a Store.
type Options struct {
	// Table is the DynamoDB table name. Required.
	Table string
	// EntityKey is the partition key attribute. Defaults to "_entity".
	EntityKey string
	// IDKey is the sort key attribute. Defaults to "_id".
	IDKey string
	// Logger defaults to discarding.
	Logger *slog.Logger
}

// Store keeps objects in a single table keyed by entity and ID.
type Store struct {
	client Client
	table  string
	keys   keyDefinition
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New returns a store on opts.Table. It does not create the table.
func New(client Client, opts Options) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if opts.Table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	keys := keyDefinition{EntityKey: opts.EntityKey, IDKey: opts.IDKey}
	if keys.EntityKey == "" {
		keys.EntityKey = "_entity"
	}
	if keys.IDKey == "" {
		keys.IDKey = "_id"
	}
	if keys.EntityKey == keys.IDKey {
		return nil, fmt.Errorf("entity key and id key must differ, both are %q", keys.EntityKey)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{client: client, table: opts.Table, keys: keys, logger: logger}, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func (s *Store) Get(ctx context.Context, key store.Key) (*store.Object, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		Key:            s.keys.encode(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	if out == nil || out.Item == nil {
		return nil, nil
	}
	obj, err := s.keys.decode(out.Item)
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// Fetch queries the entity partition. Predicates that cannot be expressed as
// a filter expression are evaluated only in process.
func (s *Store) Fetch(ctx context.Context, q store.Query) ([]store.Object, error) {
	if q.Entity == "" {
		return nil, fmt.Errorf("%w: entity name is required", store.ErrInvalidKey)
	}
	expr, err := s.buildQuery(q)
	if err != nil {
		return nil, err
	}

	var objs []store.Object
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 &s.table,
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
			ConsistentRead:            aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Entity, err)
		}
		for _, item := range out.Items {
			obj, err := s.keys.decode(item)
			if err != nil {
				return nil, err
			}
			matches, err := q.Match(obj)
			if err != nil {
				return nil, fmt.Errorf("evaluate predicate: %w", err)
			}
			if matches {
				objs = append(objs, obj)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	store.SortByID(objs)
	return objs, nil
}

func (s *Store) buildQuery(q store.Query) (expression.Expression, error) {
	keyCond := expression.Key(s.keys.EntityKey).Equal(expression.Value(q.Entity))
	b := expression.NewBuilder().WithKeyCondition(keyCond)

	filter, err := predicate.Condition(q.Predicate)
	switch {
	case errors.Is(err, predicate.ErrUnsupported):
		s.logger.Debug("predicate evaluated in process only",
			slog.String("entity", q.Entity), slog.String("predicate", q.Predicate.String()))
	case err != nil:
		return expression.Expression{}, fmt.Errorf("build filter: %w", err)
	case filter.IsSet():
		b = b.WithFilter(filter)
	}

	expr, err := b.Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("build: %w", err)
	}
	return expr, nil
}

// Apply writes a single change directly, and several with TransactWriteItems
// so they succeed or fail together.
func (s *Store) Apply(ctx context.Context, changes []store.Change) error {
	if err := store.ValidateChanges(changes); err != nil {
		return err
	}
	switch {
	case len(changes) == 0:
		return nil
	case len(changes) > maxTransactItems:
		return fmt.Errorf("%w: got %d", ErrTooManyChanges, len(changes))
	case len(changes) == 1:
		// use operation directly instead of TransactWriteItems, to avoid transactional overhead
		return s.applyOne(ctx, changes[0])
	}

	items := make([]types.TransactWriteItem, 0, len(changes))
	for _, c := range changes {
		twi, err := s.toTransactWriteItem(c)
		if err != nil {
			return err
		}
		items = append(items, twi)
	}
	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		return fmt.Errorf("transact write items: %w", err)
	}
	s.logger.Debug("applied changes", slog.Int("changes", len(changes)), slog.String("table", s.table))
	return nil
}

func (s *Store) applyOne(ctx context.Context, c store.Change) error {
	switch c.Op {
	case store.OpPut:
		item, err := s.keys.encodeObject(c.Object)
		if err != nil {
			return err
		}
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.table, Item: item}); err != nil {
			return fmt.Errorf("put item %s: %w", c.Object.Key(), err)
		}
	case store.OpDelete:
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: &s.table, Key: s.keys.encode(c.Object.Key())}); err != nil {
			return fmt.Errorf("delete item %s: %w", c.Object.Key(), err)
		}
	}
	return nil
}

func (s *Store) toTransactWriteItem(c store.Change) (types.TransactWriteItem, error) {
	switch c.Op {
	case store.OpPut:
		item, err := s.keys.encodeObject(c.Object)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Put: &types.Put{TableName: &s.table, Item: item}}, nil
	case store.OpDelete:
		return types.TransactWriteItem{Delete: &types.Delete{TableName: &s.table, Key: s.keys.encode(c.Object.Key())}}, nil
	default:
		return types.TransactWriteItem{}, fmt.Errorf("unknown operation type: %v", c.Op)
	}
}
