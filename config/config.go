// Package config loads datastack settings from datastack.yaml and
// DATASTACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FileName is searched for from the working directory up to the root.
const FileName = "datastack.yaml"

// Store kinds.
const (
	StoreBadger   = "badger"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
)

type Config struct {
	// Store selects the backend. Empty means: infer from Path.
	Store string `yaml:"store" env:"DATASTACK_STORE"`

	// Path is the badger directory or SQLite file.
	Path string `yaml:"path" env:"DATASTACK_PATH"`

	LogLevel string `yaml:"logLevel" env:"DATASTACK_LOG_LEVEL"`

	// Port is the HTTP port for datastack serve.
	Port int `yaml:"port" env:"DATASTACK_PORT"`

	// OTelEndpoint enables OTLP trace export when set.
	OTelEndpoint string `yaml:"otelEndpoint" env:"DATASTACK_OTEL_ENDPOINT"`

	DynamoDB DynamoDB `yaml:"dynamodb"`
}

type DynamoDB struct {
	Table  string `yaml:"table" env:"DATASTACK_DYNAMODB_TABLE"`
	Region string `yaml:"region" env:"DATASTACK_DYNAMODB_REGION"`
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string `yaml:"endpoint" env:"DATASTACK_DYNAMODB_ENDPOINT"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Port:     3070,
	}
}

// Load reads the nearest datastack.yaml, if any, over the defaults and then
// applies environment overrides.
func Load() (Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("get working directory: %w", err)
	}
	return LoadFrom(dir)
}

// LoadFrom is Load with the search starting at dir.
func LoadFrom(dir string) (Config, error) {
	cfg := Default()

	if path := findConfigFile(dir); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case "", StoreBadger, StoreSQLite, StoreMemory:
	case StoreDynamoDB:
		if c.DynamoDB.Table == "" {
			errs = append(errs, errors.New("dynamodb.table is required for the dynamodb store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps debug, info, warn and error to slog levels.
// Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

func findConfigFile(dir string) string {
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
