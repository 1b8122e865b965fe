package httpmw

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RouteChecker reports whether a routing path would be served by something
// other than the not-found handler. Backed by the router's match tables plus
// the doc content filesystem; implementations may consult the request
// context (locale, etc) when resolving.
type RouteChecker interface {
	Matches(r *http.Request, path string) bool
}

// RemoveSlash retries 404s for paths with a trailing slash: when the
// slashless variant of the path is actually servable, the client gets a
// permanent redirect to it instead of the 404. The redirect target is the
// original request path (locale prefix intact) minus the slash, with the
// query string carried over.
func RemoveSlash(routes RouteChecker, onRedirect func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := r.URL.Path
			if !strings.HasSuffix(p, "/") || p == "/" {
				next.ServeHTTP(w, r)
				return
			}

			sw := &slashRetryWriter{ResponseWriter: w, r: r, routes: routes, onRedirect: onRedirect}
			next.ServeHTTP(sw, r)
		})
	}
}

// slashRetryWriter intercepts the first WriteHeader: a 404 for a
// trailing-slash path whose trimmed variant routes becomes a 301, and the
// original 404 body is discarded.
type slashRetryWriter struct {
	http.ResponseWriter
	r          *http.Request
	routes     RouteChecker
	onRedirect func()

	wroteHeader bool
	discarding  bool
}

func (sw *slashRetryWriter) WriteHeader(code int) {
	if sw.wroteHeader {
		sw.ResponseWriter.WriteHeader(code)
		return
	}
	sw.wroteHeader = true

	p := sw.r.URL.Path
	trimmed := strings.TrimSuffix(p, "/")
	if code == http.StatusNotFound &&
		sw.routes != nil &&
		!sw.routes.Matches(sw.r, p) &&
		sw.routes.Matches(sw.r, trimmed) {

		// redirect to the path as the client sent it (locale prefix and
		// all), not the rewritten routing path
		target := url.URL{
			Path:     strings.TrimSuffix(OrigPathFromContext(sw.r), "/"),
			RawQuery: safeQuery(sw.r.URL.RawQuery),
		}

		h := sw.Header()
		h.Del("Content-Type")
		h.Del("Content-Length")
		h.Del("Cache-Control")
		h.Set("Location", target.String())
		sw.ResponseWriter.WriteHeader(http.StatusMovedPermanently)
		sw.discarding = true
		if sw.onRedirect != nil {
			sw.onRedirect()
		}
		return
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *slashRetryWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.WriteHeader(http.StatusOK)
	}
	if sw.discarding {
		// swallow the 404 body that the downstream handler keeps writing
		return len(b), nil
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *slashRetryWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok && !sw.discarding {
		f.Flush()
	}
}

// safeQuery percent-encodes any byte that cannot legally appear in a
// Location header, leaving already-encoded sequences alone. Query strings
// arrive percent-encoded from well-behaved clients; this guards against the
// rest.
func safeQuery(q string) string {
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		c := q[i]
		if c > 0x20 && c < 0x7f {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}
