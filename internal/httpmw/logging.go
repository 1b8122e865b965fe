package httpmw

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arothfield/docsite-web/internal/log"
)

// staticExt marks bundle asset extensions that are high volume and low
// signal. Access logging and tracing both skip them.
func staticExt(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return true
	}
	return false
}

// responseWriter captures status and byte count for the access log, and
// opens a response.write child span on the first write so time spent
// pushing bytes to a slow client shows up separately from handler time.
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64

	ctx      context.Context
	reqStart time.Time

	writeSpan        trace.Span
	writeSpanStarted bool
	firstWriteAt     time.Duration
	writeBlocked     time.Duration
	writeErr         error
}

func (rw *responseWriter) ensureWriteSpan() {
	if rw.writeSpanStarted {
		return
	}
	rw.writeSpanStarted = true
	rw.firstWriteAt = time.Since(rw.reqStart)

	parent := trace.SpanFromContext(rw.ctx)
	if parent == nil || !parent.IsRecording() {
		return
	}

	tracer := otel.Tracer("docsite/httpmw")
	rw.ctx, rw.writeSpan = tracer.Start(rw.ctx, "response.write",
		trace.WithAttributes(
			attribute.Float64("http.server.ttfb_seconds", float64(rw.firstWriteAt.Seconds())),
		),
	)
}

// statusOr200 is the effective status: a handler that never calls
// WriteHeader gets 200 from net/http.
func (rw *responseWriter) statusOr200() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) finishWriteSpan() {
	if rw.writeSpan == nil {
		return
	}

	rw.writeSpan.SetAttributes(
		attribute.Int("http.response.status_code", rw.statusOr200()),
		attribute.Int64("http.response.body.size", rw.bytes),
		attribute.Float64("http.server.write.block_seconds", float64(rw.writeBlocked.Seconds())),
	)
	if rw.writeErr != nil {
		rw.writeSpan.RecordError(rw.writeErr)
		rw.writeSpan.SetStatus(codes.Error, rw.writeErr.Error())
	}
	rw.writeSpan.End()
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.ensureWriteSpan()
	rw.status = code
	start := time.Now()
	rw.ResponseWriter.WriteHeader(code)
	rw.writeBlocked += time.Since(start)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.ensureWriteSpan()
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	start := time.Now()
	n, err := rw.ResponseWriter.Write(b)
	rw.writeBlocked += time.Since(start)
	rw.bytes += int64(n)
	if err != nil && rw.writeErr == nil {
		rw.writeErr = err
	}
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

// WithLogger stores a request-scoped logger in the context, pre-loaded with
// the request identity fields, and mirrors those fields onto the active
// span. Runs after the ClientIP middleware so the logged client address is
// the trust-aware one, not a raw forwarded header.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			reqID := RequestIDFromContext(ctx)

			clientAddr := ClientIPFromContext(ctx)
			if clientAddr == "" {
				clientAddr = r.RemoteAddr
			}
			// peer is whoever dialed us, the ALB in every real deployment
			peerAddr := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peerAddr); err == nil {
				peerAddr = host
			}

			scheme := schemeFromRequest(r)
			rawQuery := r.URL.RawQuery

			if span := trace.SpanFromContext(ctx); span != nil {
				if sc := span.SpanContext(); sc.IsValid() {
					span.SetAttributes(
						attribute.String("request_id", reqID),
						attribute.String("server.address", r.Host),
						attribute.String("client.address", clientAddr),
						attribute.String("network.peer.address", peerAddr),
						attribute.String("url.scheme", scheme),
					)
				}
				if rawQuery != "" {
					span.SetAttributes(attribute.String("url.query", rawQuery))
				}
			}

			// Host and query stay on the span only. Query strings reach us
			// from user-pasted links and do not belong in log storage.
			fields := []any{
				"request_id", reqID,
				"client.address", clientAddr,
				"network.peer.address", peerAddr,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			}

			L := base.With(fields...)
			r = r.WithContext(log.WithContext(ctx, L))

			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog emits one line per completed request through the context
// logger, so it carries everything WithLogger and the handlers attached.
// Probe endpoints and bundle static assets are not logged.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var reqBodySize int64
			if r.ContentLength > 0 {
				reqBodySize = r.ContentLength
			}

			rw := &responseWriter{
				ResponseWriter: w,
				ctx:            r.Context(),
				reqStart:       start,
			}

			next.ServeHTTP(rw, r)

			rw.finishWriteSpan()

			ctx := r.Context()
			L := log.FromContext(ctx)
			if L == nil {
				return
			}

			if staticExt(r.URL.Path) {
				return
			}
			if r.URL.Path == "/-/ready" || r.URL.Path == "/-/healthy" {
				return
			}

			// log the route pattern, not the raw path, so localized doc
			// slugs aggregate into one series
			routePat := ""
			if rc := chi.RouteContext(ctx); rc != nil {
				routePat = rc.RoutePattern()
			}
			if routePat == "" {
				routePat = r.URL.Path
			}

			L.Info(ctx, "http request",
				"http.response.status_code", rw.statusOr200(),
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", rw.bytes,
				"http.request.body.size", reqBodySize,
				"http.route", routePat,
			)
		})
	}
}

// schemeFromRequest resolves the client-facing scheme. The ALB terminates
// TLS, so X-Forwarded-Proto is the only place the original scheme survives.
// The header is attacker-writable on direct hits, so anything that is not
// literally http or https falls through; the result is only ever one of
// those two.
// TODO: only honor X-Forwarded-Proto when the peer is a trusted proxy hop,
// same check ClientIP does for X-Forwarded-For.
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if s, ok := validScheme(first); ok {
			return s
		}
	}
	if r.URL != nil {
		if s, ok := validScheme(r.URL.Scheme); ok {
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func validScheme(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http":
		return "http", true
	case "https":
		return "https", true
	}
	return "", false
}

// Scope tags the context logger and span with the handler name, so a doc
// page render and a legacy redirect are distinguishable in the same route.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			L := log.FromContext(ctx).With("handler", handler)
			ctx = log.WithContext(ctx, L)

			if span := trace.SpanFromContext(ctx); span != nil && span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
