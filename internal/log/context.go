package log

import "context"

type ctxKey struct{}

// WithContext returns a child context carrying l. The request middleware
// uses this to hand each handler a logger pre-loaded with request fields.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger stored in ctx, or a silent no-op logger
// when none is present, so call sites never nil-check.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}
