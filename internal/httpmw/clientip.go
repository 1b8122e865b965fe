package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures how the real client address is resolved.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies between the client and
	// this process. 0 means direct exposure and X-Forwarded-For is never
	// believed; 1 is the single ALB deployment, which reads the rightmost
	// entry; 2 puts a CDN in front of the ALB, and so on.
	TrustedHops int
}

// ClientIP resolves the client address with no trusted proxy tier.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions stores the resolved client address in the request
// context. Rate limiting and the request logger both read it from there.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// stripForwarded removes the forwarded headers once they are judged
// untrustworthy, so nothing downstream can be fooled by them.
func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// extractRealClientAddr resolves the real client address. X-Forwarded-For
// is only believed when the direct peer is a private address (our load
// balancer tier) and a proxy depth is configured; every other case falls
// back to RemoteAddr with the forwarded headers stripped.
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// no port, keep whatever the listener gave us
		return r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "0.0.0.0"
	}

	// a public peer dialed us directly, so the header chain is whatever
	// the client typed
	if !ip.IsPrivate() || trustedHops <= 0 {
		stripForwarded(r)
		return host
	}

	xff := r.Header.Get("X-Forwarded-For")
	if candidate, ok := forwardedClient(xff, trustedHops); ok {
		return candidate
	}
	// a shorter chain than the configured proxy depth means the header was
	// manipulated or the deployment is misconfigured; fail closed
	if xff != "" && len(strings.Split(xff, ",")) < trustedHops {
		stripForwarded(r)
	}
	return host
}

// forwardedClient picks the client entry out of an X-Forwarded-For chain:
// each trusted hop appends exactly one entry, so the client is hops
// entries from the right.
func forwardedClient(xff string, hops int) (string, bool) {
	if xff == "" {
		return "", false
	}
	entries := strings.Split(xff, ",")
	idx := len(entries) - hops
	if idx < 0 {
		return "", false
	}
	candidate := strings.TrimSpace(entries[idx])
	if net.ParseIP(candidate) == nil {
		return "", false
	}
	return candidate, true
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
