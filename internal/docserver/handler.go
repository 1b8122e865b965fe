package docserver

import (
	"io/fs"
	"net/http"

	"github.com/arothfield/docsite-web/internal/l10n"
)

type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// hardening: only allow GET/HEAD
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		// we keep counter metrics already which will alert us to issues without the overhead and security risk/sanitizing work of logging these
		return
	}

	// get active doc snapshot
	snap, ok := h.opts.Content.Get()

	// serve maintenance page if no active doc snapshot
	if !ok {
		h.serveMaintenance(w, r)
		return
	}

	locale := l10n.LocaleFromContext(r.Context())

	// resolve request -> file
	file, found := resolveDoc(locale, r.URL.Path, snap.FS)
	if !found {
		h.serveNotFound(w, r, locale, snap.FS)
		return
	}

	// apply cache-control policy by file extension
	if cc := cacheControlForFile(file, h.opts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}

	// serve the actual file from the active doc FS
	http.ServeFileFS(w, r, snap.FS, file)
}

// CanServe reports whether the routing path resolves to a file in the
// active snapshot for the request's locale. Used by the slash-removal
// middleware to decide whether a 404 should become a redirect.
func (h *Handler) CanServe(r *http.Request, urlPath string) bool {
	snap, ok := h.opts.Content.Get()
	if !ok {
		return false
	}
	_, found := resolveDoc(l10n.LocaleFromContext(r.Context()), urlPath, snap.FS)
	return found
}

// ServeForbidden renders the themed 403 page. The forbidden middleware pins
// the status, but we set it here too so the handler stands on its own.
func (h *Handler) ServeForbidden(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	if snap, ok := h.opts.Content.Get(); ok {
		locale := l10n.LocaleFromContext(r.Context())
		if name := locale + "/" + h.opts.Doc403File; existsFile(snap.FS, name) {
			serveFileWithStatus(w, r, http.StatusForbidden, snap.FS, name)
			return
		}
		if name := l10n.DefaultLocale + "/" + h.opts.Doc403File; existsFile(snap.FS, name) {
			serveFileWithStatus(w, r, http.StatusForbidden, snap.FS, name)
			return
		}
	}

	if existsFile(h.opts.FallbackFS, h.opts.Fallback403File) {
		serveFileWithStatus(w, r, http.StatusForbidden, h.opts.FallbackFS, h.opts.Fallback403File)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("403 forbidden"))
}

func (h *Handler) serveMaintenance(w http.ResponseWriter, r *http.Request) {
	// Maintenance should never be cached.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "60")

	serveFileWithStatus(w, r, http.StatusServiceUnavailable, h.opts.FallbackFS, h.opts.MaintenanceFile)
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request, locale string, docFS fs.FS) {
	// avoid caching 404 responses
	w.Header().Set("Cache-Control", "no-store")

	// prefer the themed 404 for the request locale, then the default locale
	if name := locale + "/" + h.opts.Doc404File; existsFile(docFS, name) {
		serveFileWithStatus(w, r, http.StatusNotFound, docFS, name)
		return
	}
	if name := l10n.DefaultLocale + "/" + h.opts.Doc404File; existsFile(docFS, name) {
		serveFileWithStatus(w, r, http.StatusNotFound, docFS, name)
		return
	}

	// fall back to embedded 404 if present
	if existsFile(h.opts.FallbackFS, h.opts.Fallback404File) {
		serveFileWithStatus(w, r, http.StatusNotFound, h.opts.FallbackFS, h.opts.Fallback404File)
		return
	}

	// last resort: plain text
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found"))
}

// we want to serve a file but force an HTTP status code (403/404/503)
// but http.ServeFileFS writes a status code on its own so wrapping
// ResponseWriter and overriding the first WriteHeader call here
type statusOverrideWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusOverrideWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func serveFileWithStatus(w http.ResponseWriter, r *http.Request, status int, fsys fs.FS, name string) {
	sw := &statusOverrideWriter{ResponseWriter: w, status: status}
	http.ServeFileFS(sw, r, fsys, name)
}
