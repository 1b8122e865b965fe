package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arothfield/docsite-web/internal/health"
	"github.com/arothfield/docsite-web/internal/httpmw"
	"github.com/arothfield/docsite-web/internal/xerrors"
)

// NewHandler builds an HTTP handler with routes + middleware
// main() owns *http.Server so it can do graceful shutdown
func NewHandler(opts *Options) http.Handler {
	// chi router
	r := chi.NewRouter()

	// Annotate logger and tracer with http.route from chi route pattern if trace is recording
	r.Use(httpmw.AnnotateHTTPRoute)

	// Access log middleware
	r.Use(httpmw.AccessLog())

	r.Use(httpmw.MaxBody(1024)) // 1KB - nobody should be sending bodies to a read-only docs site

	// Register health routes at /-/healthy and /-/ready if probes provided
	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}

	// Catch-all doc handler if provided, otherwise chi default
	if opts.Docs != nil {
		r.NotFound(opts.Docs.ServeHTTP)
		r.MethodNotAllowed(opts.Docs.ServeHTTP)
	}

	// Middleware (innermost first in wrapping order)
	var h http.Handler = r

	// Retry trailing-slash 404s as redirects to the slashless path
	h = httpmw.RemoveSlash(&routeChecker{router: r, docs: opts.Docs}, opts.OnSlashRedirect)(h)

	// Replace 403 bodies with the themed forbidden page
	if opts.Docs != nil {
		h = httpmw.Forbidden(http.HandlerFunc(opts.Docs.ServeForbidden), opts.OnForbiddenPage)(h)
	}

	// Locale resolution: canonical redirects, then prefix strip for routing
	h = httpmw.LocaleRedirect(opts.OnLocaleRedirect)(h)

	// Untrusted hosts never see localized docs, only the restricted set
	if opts.EnableHostRestrictions {
		h = httpmw.RestrictHosts(httpmw.HostRestrictOptions{
			Enabled:        true,
			UntrustedHosts: opts.UntrustedHosts,
			Restricted:     restrictedHandler(opts.Docs),
		}, opts.OnRestrictedHost)(h)
	}

	// Every request gets a fresh anonymous session
	h = httpmw.ForceAnonymousSession(opts.SessionCookie)(h)

	// Request-scoped logging (inner so it sees trace_id, etc)
	h = httpmw.WithLogger(opts.Logger)(h)

	// Metrics middleware for prometheus instrumentation
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}

	// add trace-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// Add content version/hash headers
	if opts.ContentInfo != nil {
		h = httpmw.ContentHeaders(opts.ContentInfo)(h)
	}

	// doc pages get traced; bundle assets, favicons, and kubelet checks
	// would drown the collector
	h = otelhttp.NewHandler(
		h,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return traceworthy(r.URL.Path)
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute renames the span once the route pattern is known
			return r.Method + " " + r.URL.Path
		}),
		// inbound traceparent headers come from browsers, never link to them
		otelhttp.WithPublicEndpointFn(func(r *http.Request) bool { return true }),
	)

	// Rate limiting (after client IP mw so it uses resolved IP)
	if opts.RateLimitMW != nil {
		h = opts.RateLimitMW(h)
	}

	// Legacy domains bounce to the canonical origin before anything else
	// inspects the request
	if len(opts.LegacyHosts) > 0 {
		h = httpmw.LegacyDomainRedirects(opts.LegacyHosts, opts.SiteURL, opts.OnLegacyRedirect)(h)
	}

	// Compress buffered responses (brotli preferred, gzip fallback); outside
	// the rest of the chain so redirect and error bodies are covered too
	h = httpmw.Compress(opts.OnCompressed)(h)

	// Client IP resolution (must be before rate limiter and logging in middleware chain)
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h)

	// Recovery middleware to log panics and serve 500 response
	if opts.UseRecoverMW {
		h = httpmw.Recover(opts.Logger, opts.OnPanic)(h)
	}

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	return h
}

// routeChecker answers "would this path serve anything?" for the
// slash-removal middleware: a registered route counts, and so does a path
// the doc handler can resolve against the active bundle.
type routeChecker struct {
	router chi.Router
	docs   DocHandler
}

func (c *routeChecker) Matches(r *http.Request, p string) bool {
	if c.router != nil {
		rctx := chi.NewRouteContext()
		if c.router.Match(rctx, r.Method, p) {
			return true
		}
	}
	return c.docs != nil && c.docs.CanServe(r, p)
}

// restrictedPrefixes is what untrusted hosts are allowed to fetch: user
// uploads and shared static assets, nothing localized.
var restrictedPrefixes = map[string]bool{
	"files":       true,
	"media":       true,
	"static":      true,
	"robots.txt":  true,
	"favicon.ico": true,
}

// restrictedHandler serves the attachment/static subset of the doc tree and
// 404s everything else.
func restrictedHandler(docs DocHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if docs != nil && restrictedPrefixes[strings.ToLower(first)] {
			docs.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.NotFound(w, r)
	})
}

func traceworthy(p string) bool {
	switch p {
	case "/favicon.ico", "/favicon.svg", "/robots.txt", "/-/healthy", "/-/ready":
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start brings up the public HTTP server and returns stop(ctx) for
// graceful shutdown.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
