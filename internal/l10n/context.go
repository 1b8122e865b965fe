package l10n

import "context"

type localeKey struct{}

// WithLocale returns a context carrying the resolved request locale.
func WithLocale(ctx context.Context, locale string) context.Context {
	if locale == "" {
		return ctx
	}
	return context.WithValue(ctx, localeKey{}, locale)
}

// LocaleFromContext returns the locale stored by the locale middleware,
// or DefaultLocale when none was resolved.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultLocale
}
