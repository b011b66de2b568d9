package datastack

import (
	"log/slog"

	"github.com/acksell/datastack/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Option configures New.
type Option func(*options)

type options struct {
	store          store.Store
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
}

func defaultOptions() options {
	return options{
		logger:         slog.New(slog.DiscardHandler),
		tracerProvider: otel.GetTracerProvider(),
	}
}

// WithStore uses s instead of opening a store from the file name.
// The stack takes ownership and closes s on Close.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLogger sets the logger for the stack and the stores it opens.
// Logs are discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracerProvider sets where spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}
