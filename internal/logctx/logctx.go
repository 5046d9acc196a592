// Package logctx carries loggers through context.Context.
//
// The orchestration loop attaches a logger enriched with the step's source
// and target functions; aggregators and catalogs pull it back out so their
// log lines are attributed to the cuboid being computed:
//
//	ctx = logctx.WithCuboid(ctx, src.Func().String(), target.Func().String())
//	log := logctx.FromContext(ctx)
package logctx

import (
	"context"

	"github.com/eunmann/graph-cube/pkg/logging"
	"github.com/rs/zerolog"
)

// loggerKey is the private key type for storing loggers in context.
type loggerKey struct{}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context, falling back to the
// global logger from package logging.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr returns a new context whose logger has the string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithInt returns a new context whose logger has the int field added.
func WithInt(ctx context.Context, key string, value int) context.Context {
	logger := FromContext(ctx).With().Int(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithCuboid tags the context logger with a step's source and target.
func WithCuboid(ctx context.Context, source, target string) context.Context {
	logger := FromContext(ctx).With().
		Str("source", source).
		Str("target", target).
		Logger()
	return WithLogger(ctx, logger)
}
