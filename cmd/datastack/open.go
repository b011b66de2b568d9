package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/acksell/datastack"
	"github.com/acksell/datastack/config"
	"github.com/acksell/datastack/store"
	"github.com/acksell/datastack/store/badgerstore"
	"github.com/acksell/datastack/store/dynamostore"
	"github.com/acksell/datastack/store/sqlitestore"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// storeFlags binds the flags every command shares over the loaded config.
func storeFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Store, "store", cfg.Store, "store kind: badger, sqlite, memory or dynamodb (default: inferred from --db)")
	fs.StringVar(&cfg.Path, "db", cfg.Path, "badger directory or SQLite file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.DynamoDB.Table, "table", cfg.DynamoDB.Table, "DynamoDB table for --store dynamodb")
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// openStack opens the store cfg describes. With no store kind the kind is
// inferred from the path by datastack.New.
func openStack(ctx context.Context, cfg config.Config, logger *slog.Logger) (*datastack.Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []datastack.Option{datastack.WithLogger(logger)}
	if cfg.Store == "" {
		return datastack.New(ctx, cfg.Path, opts...)
	}

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return datastack.New(ctx, cfg.Path, append(opts, datastack.WithStore(s))...)
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return badgerstore.New(badgerstore.Options{InMemory: true})
	case config.StoreBadger:
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger store needs a path")
		}
		return badgerstore.New(badgerstore.Options{Path: cfg.Path, Logger: logger})
	case config.StoreSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store needs a path")
		}
		return sqlitestore.Open(ctx, cfg.Path, logger)
	case config.StoreDynamoDB:
		client, err := newDynamoDBClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		return dynamostore.New(client, dynamostore.Options{Table: cfg.DynamoDB.Table, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func newDynamoDBClient(ctx context.Context, cfg config.DynamoDB) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
