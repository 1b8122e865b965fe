package httpmw

import (
	"net"
	"net/http"
	"strings"
)

// HostRestrictOptions configures host-based endpoint restriction.
type HostRestrictOptions struct {
	// Enabled gates the whole mechanism; when false every request uses the
	// full route table regardless of host.
	Enabled bool

	// UntrustedHosts are the hosts (no port) that serve user-supplied
	// content, e.g. the attachments domain. Requests arriving on them only
	// get the restricted route table.
	UntrustedHosts []string

	// Restricted handles requests from untrusted hosts. Typically a router
	// exposing doc content only, so session, account, and admin endpoints
	// cannot be reached from a domain that executes user uploads.
	Restricted http.Handler
}

// RestrictHosts routes requests arriving on an untrusted host to the
// restricted handler instead of the full application.
func RestrictHosts(opts HostRestrictOptions, onRestricted func()) func(http.Handler) http.Handler {
	untrusted := make(map[string]bool, len(opts.UntrustedHosts))
	for _, h := range opts.UntrustedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			untrusted[h] = true
		}
	}

	return func(next http.Handler) http.Handler {
		if !opts.Enabled || opts.Restricted == nil || len(untrusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if untrusted[requestHost(r)] {
				if onRestricted != nil {
					onRestricted()
				}
				opts.Restricted.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestHost returns the lowercased request host without any port.
func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
