// Package session carries per-request session state. The edge only ever
// works with anonymous sessions: real session storage lives in the
// application tier, and this server's job is to make sure nothing at the
// edge creates or resumes an identified session.
package session

import "context"

// Session is request-scoped key/value state. An anonymous session starts
// empty, has no identifier, and is never persisted.
type Session struct {
	values    map[string]any
	anonymous bool
}

// Anonymous returns a fresh, empty, unpersisted session.
func Anonymous() *Session {
	return &Session{values: make(map[string]any), anonymous: true}
}

// IsAnonymous reports whether the session carries no identity.
func (s *Session) IsAnonymous() bool { return s.anonymous }

// Get returns the value stored under key, or nil.
func (s *Session) Get(key string) any { return s.values[key] }

// Set stores a value for the lifetime of the request.
func (s *Session) Set(key string, v any) { s.values[key] = v }

type ctxKey struct{}

// WithContext returns a context carrying the session.
func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session in ctx, or nil if none is attached.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
