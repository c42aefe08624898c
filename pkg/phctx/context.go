// Package phctx stashes the process-wide viper instance and structured
// logger in context.Context, so the command tree threads configuration
// and logging through to every subsystem without passing them as
// explicit parameters everywhere.
package phctx

import (
	"context"
	"log/slog"

	"github.com/spf13/viper"
	slogctx "github.com/veqryn/slog-context"
)

type contextKey struct{ name string }

var viperKey = contextKey{"viper"}

// Logger returns a logger from context with additional attributes.
func Logger(ctx context.Context, args ...any) *slog.Logger {
	return slogctx.FromCtx(ctx).With(args...)
}

// NewViper creates an owned viper instance with the default "."
// key delimiter. Module and target names here never contain a literal
// ".", so the default delimiter is unambiguous.
func NewViper() *viper.Viper {
	return viper.New()
}

// ContextWithViper returns a context with the viper instance stored.
func ContextWithViper(ctx context.Context, v *viper.Viper) context.Context {
	return context.WithValue(ctx, viperKey, v)
}

// Viper returns the viper instance from context. Panics if it was not
// set — this is a programming error, every command sets it at startup.
func Viper(ctx context.Context) *viper.Viper {
	v, ok := ctx.Value(viperKey).(*viper.Viper)
	if !ok {
		panic("viper not found in context - must call ContextWithViper first")
	}
	return v
}
