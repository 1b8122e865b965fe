package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arothfield/docsite-web/internal/health"
	"github.com/arothfield/docsite-web/internal/httpmw"
	"github.com/arothfield/docsite-web/internal/log"
)

// DocHandler is the doc-serving surface the edge chain needs: the catch-all
// content handler, the routability check behind slash-removal redirects, and
// the themed 403 page.
type DocHandler interface {
	http.Handler
	CanServe(r *http.Request, path string) bool
	ServeForbidden(w http.ResponseWriter, r *http.Request)
}

type Options struct {
	Logger log.Logger
	Port   int

	Health    health.Probe
	Readiness health.Probe

	// Docs is the catch-all content handler.
	Docs DocHandler
	// APIRoutes registers extra routes (ops/introspection APIs) on the router.
	APIRoutes func(chi.Router)

	// Edge policy
	SessionCookie          string
	SiteURL                string
	LegacyHosts            []string
	EnableHostRestrictions bool
	UntrustedHosts         []string
	ClientIPOpts           httpmw.ClientIPOptions

	UseRecoverMW bool
	OnPanic      func()

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler
	ContentInfo httpmw.ContentInfo // For X-Content-Bundle-Version and X-Content-Hash headers

	// Counter callbacks for the edge middleware, wired to prometheus by main.
	OnLocaleRedirect func(kind string)
	OnSlashRedirect  func()
	OnLegacyRedirect func()
	OnRestrictedHost func()
	OnForbiddenPage  func()
	OnCompressed     func(encoding string)
}
