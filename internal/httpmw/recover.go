package httpmw

import (
	"net/http"

	"github.com/arothfield/docsite-web/internal/log"
	"github.com/arothfield/docsite-web/internal/xerrors"
)

// Recover converts downstream panics into logged 500 responses so a single
// bad request cannot take the process down. onPanic, if set, is called on
// every recovered panic (metrics counter hook).
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					// the server uses this to abort in-flight writes; not ours to swallow
					panic(rec)
				}

				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.EnsureTrace(e)
				} else {
					err = xerrors.Newf("panic: %v", rec)
				}

				if onPanic != nil {
					onPanic()
				}
				if L != nil {
					L.With(
						"http.request.method", r.Method,
						"url.path", r.URL.Path,
					).Error(r.Context(), err, "httpserver panic recovered")
				}

				// best effort; the header block may already be on the wire
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
