package httpmw

import "net/http"

// SecurityHeaders stamps the standard browser hardening headers on every
// response. CSRF protection is deliberately absent: the site is read-only
// and the only cookie it ever sets is the anonymous session marker, which
// carries no authority.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")

		// rendered doc pages carry inline styles and data: images, the
		// rest of the policy is same-origin only
		h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'; base-uri 'self'; form-action 'self'; frame-ancestors 'none'; object-src 'none'; upgrade-insecure-requests")

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// a docs site needs none of the powerful browser features
		h.Set("Permissions-Policy", "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()")

		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("Cross-Origin-Embedder-Policy", "require-corp")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")

		next.ServeHTTP(w, r)
	})
}
