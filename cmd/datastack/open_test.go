package main

import (
	"context"
	"flag"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/acksell/datastack/config"
	"github.com/acksell/datastack/store/badgerstore"
	"github.com/acksell/datastack/store/sqlitestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStack(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  config.Config
		want any
	}{
		{"memory", config.Config{Store: config.StoreMemory}, &badgerstore.Store{}},
		{"badger", config.Config{Store: config.StoreBadger, Path: filepath.Join(dir, "b")}, &badgerstore.Store{}},
		{"sqlite without extension", config.Config{Store: config.StoreSQLite, Path: filepath.Join(dir, "data")}, &sqlitestore.Store{}},
		{"inferred sqlite", config.Config{Path: filepath.Join(dir, "app.sqlite3")}, &sqlitestore.Store{}},
		{"inferred memory", config.Config{}, &badgerstore.Store{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack, err := openStack(ctx, tt.cfg, logger)
			require.NoError(t, err)
			defer stack.Close()
			assert.IsType(t, tt.want, stack.Store())
		})
	}
}

func TestOpenStack_Invalid(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	for _, cfg := range []config.Config{
		{Store: "postgres"},
		{Store: config.StoreBadger},
		{Store: config.StoreSQLite},
		{Store: config.StoreDynamoDB},
	} {
		_, err := openStack(ctx, cfg, logger)
		assert.Error(t, err, cfg.Store)
	}
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(config.Config{LogLevel: "debug"})
	require.NoError(t, err)
	_, err = newLogger(config.Config{LogLevel: "loud"})
	require.Error(t, err)
}

func TestCommand_ReturnsConfiguredLogger(t *testing.T) {
	t.Chdir(t.TempDir())
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)

	stack, cfg, logger, err := command(context.Background(), fs, []string{"-store", "memory", "-log-level", "debug"})
	require.NoError(t, err)
	defer stack.Close()

	assert.Equal(t, config.StoreMemory, cfg.Store)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
