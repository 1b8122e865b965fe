package httpmw

import (
	"net/http"
	"strings"

	"github.com/arothfield/docsite-web/internal/session"
)

// DefaultSessionCookie is the session cookie name the application tier uses.
const DefaultSessionCookie = "sessionid"

// ForceAnonymousSession gives every request a fresh anonymous session. Any
// inbound session cookie is stripped before the request reaches handlers,
// and any attempt downstream to set one is dropped from the response, so no
// request through this server can create or resume an identified session.
func ForceAnonymousSession(cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stripRequestCookie(r, cookieName)
			ctx := session.WithContext(r.Context(), session.Anonymous())
			sw := &setCookieStripper{ResponseWriter: w, cookieName: cookieName}
			next.ServeHTTP(sw, r.WithContext(ctx))
		})
	}
}

// stripRequestCookie removes the named cookie from the Cookie header,
// leaving any other cookies intact.
func stripRequestCookie(r *http.Request, name string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == name {
			continue
		}
		r.AddCookie(c)
	}
}

// setCookieStripper drops Set-Cookie headers for the session cookie before
// the header block is flushed.
type setCookieStripper struct {
	http.ResponseWriter
	cookieName  string
	wroteHeader bool
}

func (w *setCookieStripper) strip() {
	set := w.Header()["Set-Cookie"]
	if len(set) == 0 {
		return
	}
	kept := set[:0]
	for _, c := range set {
		if strings.HasPrefix(c, w.cookieName+"=") {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		w.Header().Del("Set-Cookie")
		return
	}
	w.Header()["Set-Cookie"] = kept
}

func (w *setCookieStripper) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.strip()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *setCookieStripper) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *setCookieStripper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
