package httpmw

import (
	"context"
	"net/http"
	"net/url"

	"github.com/arothfield/docsite-web/internal/l10n"
)

type origPathKey struct{}

func withOrigPath(ctx context.Context, p string) context.Context {
	return context.WithValue(ctx, origPathKey{}, p)
}

// OrigPathFromContext returns the request path as it arrived, before the
// locale middleware stripped the locale prefix for routing. Falls back to
// the current URL path when the locale middleware did not run.
func OrigPathFromContext(r *http.Request) string {
	if p, ok := r.Context().Value(origPathKey{}).(string); ok && p != "" {
		return p
	}
	return r.URL.Path
}

// LocaleRedirect resolves the request locale and canonicalizes localized
// URLs:
//
//   - ?lang=<supported> redirects (302, never permanent) to the same page
//     under that locale, with the lang parameter dropped from the query.
//   - A missing or non-canonical locale prefix redirects (302) to the
//     canonical path; the redirect varies on Accept-Language when the
//     locale itself changed, not just its casing.
//   - Otherwise the locale prefix is stripped from the routing path and the
//     resolved locale is stored in the request context.
//
// Paths under a non-locale prefix (static assets, APIs) pass through
// without a locale prefix and resolve to the default locale.
func LocaleRedirect(onRedirect func(kind string)) func(http.Handler) http.Handler {
	redirected := func(kind string) {
		if onRedirect != nil {
			onRedirect(kind)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pathLocale, rest := l10n.SplitPath(r.URL.Path)

			// explicit ?lang= wins over everything; the redirect must stay
			// temporary so the locale choice is never cached as permanent
			if lang := r.URL.Query().Get("lang"); lang != "" {
				if loc, ok := l10n.Canonical(lang); ok {
					q := r.URL.Query()
					q.Del("lang")
					target := url.URL{
						Path:     l10n.FixPath(loc, rest),
						RawQuery: q.Encode(),
					}
					redirected("lang_param")
					http.Redirect(w, r, target.String(), http.StatusFound)
					return
				}
				// unsupported ?lang values are ignored
			}

			locale := pathLocale
			if locale == "" {
				locale = l10n.MatchAccept(r.Header.Get("Accept-Language"))
			}
			if locale == "" {
				locale = l10n.DefaultLocale
			}

			if full := l10n.FixPath(locale, rest); full != r.URL.Path {
				target := url.URL{Path: full, RawQuery: r.URL.RawQuery}
				newLocale, _ := l10n.SplitPath(full)
				if pathLocale != newLocale {
					// the locale (not just its casing) came from the
					// Accept-Language header, so caches must vary on it
					w.Header().Add("Vary", "Accept-Language")
				}
				redirected("canonical")
				http.Redirect(w, r, target.String(), http.StatusFound)
				return
			}

			// strip the prefix for routing; handlers see locale via context
			ctx := l10n.WithLocale(r.Context(), locale)
			ctx = withOrigPath(ctx, r.URL.Path)
			r = r.Clone(ctx)
			r.URL.Path = "/" + rest
			next.ServeHTTP(w, r)
		})
	}
}
