package httpmw

import (
	"net/http"
	"net/url"
	"strings"
)

// LegacyDomainRedirects permanently redirects every request that arrives on
// a retired domain to the same path and query on the canonical site URL.
// With an empty host list or an unparseable site URL it is a no-op.
func LegacyDomainRedirects(legacyHosts []string, siteURL string, onRedirect func()) func(http.Handler) http.Handler {
	legacy := make(map[string]bool, len(legacyHosts))
	for _, h := range legacyHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			legacy[h] = true
		}
	}
	base, err := url.Parse(siteURL)

	return func(next http.Handler) http.Handler {
		if len(legacy) == 0 || err != nil || base.Host == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !legacy[requestHost(r)] {
				next.ServeHTTP(w, r)
				return
			}
			target := *base
			target.Path = r.URL.Path
			target.RawQuery = r.URL.RawQuery
			if onRedirect != nil {
				onRedirect()
			}
			http.Redirect(w, r, target.String(), http.StatusMovedPermanently)
		})
	}
}
