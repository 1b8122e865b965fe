package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContentInfo reports which doc bundle is currently being served.
type ContentInfo interface {
	ContentVersion() string
	ContentHash() string
}

// shortHash truncates a bundle hash for header use; 12 hex chars is enough
// to find the bundle and keeps the header readable.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// ContentHeaders stamps every response with the bundle version and hash,
// so a cached page can be traced back to the bundle that produced it. The
// active span gets the full hash.
func ContentHeaders(info ContentInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info == nil {
				next.ServeHTTP(w, r)
				return
			}

			v, h := info.ContentVersion(), info.ContentHash()
			if v != "" {
				w.Header().Set("X-Content-Bundle-Version", v)
			}
			if h != "" {
				w.Header().Set("X-Content-Hash", shortHash(h))
			}

			if span := trace.SpanFromContext(r.Context()); span != nil && span.IsRecording() {
				if v != "" {
					span.SetAttributes(attribute.String("content.version", v))
				}
				if h != "" {
					span.SetAttributes(attribute.String("content.hash", h))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
