package httpmw

import "net/http"

// Forbidden replaces the body of any downstream 403 response with the
// themed forbidden page while keeping the 403 status. Responses with any
// other status pass through untouched.
func Forbidden(page http.Handler, onIntercept func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if page == nil {
				next.ServeHTTP(w, r)
				return
			}

			fw := &forbiddenWriter{ResponseWriter: w}
			next.ServeHTTP(fw, r)

			if !fw.intercepted {
				return
			}
			if onIntercept != nil {
				onIntercept()
			}

			// downstream headers describing its own body no longer apply
			h := w.Header()
			h.Del("Content-Type")
			h.Del("Content-Length")
			page.ServeHTTP(&forceStatusWriter{ResponseWriter: w, status: http.StatusForbidden}, r)
		})
	}
}

// forbiddenWriter swallows a 403 response so the themed page can be
// rendered in its place once the downstream handler returns.
type forbiddenWriter struct {
	http.ResponseWriter
	wroteHeader bool
	intercepted bool
}

func (fw *forbiddenWriter) WriteHeader(code int) {
	if fw.wroteHeader {
		if !fw.intercepted {
			fw.ResponseWriter.WriteHeader(code)
		}
		return
	}
	fw.wroteHeader = true
	if code == http.StatusForbidden {
		fw.intercepted = true
		return
	}
	fw.ResponseWriter.WriteHeader(code)
}

func (fw *forbiddenWriter) Write(b []byte) (int, error) {
	if !fw.wroteHeader {
		fw.WriteHeader(http.StatusOK)
	}
	if fw.intercepted {
		return len(b), nil
	}
	return fw.ResponseWriter.Write(b)
}

// forceStatusWriter pins the status code of the first WriteHeader so a page
// handler that writes 200 still produces the intended error status.
type forceStatusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *forceStatusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func (w *forceStatusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(w.status)
	}
	return w.ResponseWriter.Write(b)
}
