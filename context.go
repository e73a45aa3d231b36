package meter

import (
	"context"

	"github.com/tychoish/grip"
)

type ctxKey string

const currentMeterKey ctxKey = "__METER_CURRENT"

// WithMeter attaches m to the context as the current meter. Unlike a
// context logger, attaching always overrides: nested operations
// shadow their parents for the lifetime of the derived context.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, currentMeterKey, m)
}

// FromContext resolves the current meter from the context.
func FromContext(ctx context.Context) (*Meter, bool) {
	if ctx == nil {
		return nil, false
	}
	m, ok := ctx.Value(currentMeterKey).(*Meter)
	return m, ok
}

// HasMeter checks whether a current meter is attached to the
// context.
func HasMeter(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}

// SubContext derives a stage meter from the context's current meter,
// or creates a root meter on the context's grip logger when none is
// attached, and returns a context with the child as current. The
// caller owns the child's lifecycle.
func SubContext(ctx context.Context, name string) (context.Context, *Meter) {
	if parent, ok := FromContext(ctx); ok {
		child := parent.Sub(name)
		return WithMeter(ctx, child), child
	}
	m := NewNamed(grip.Context(ctx), name)
	return WithMeter(ctx, m), m
}
