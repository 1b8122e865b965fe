package docserver

import (
	"io/fs"
	"path"
	"strings"

	"github.com/arothfield/docsite-web/internal/l10n"
	"github.com/arothfield/docsite-web/internal/pathutil"
)

// resolveDoc maps a routing path (locale prefix already stripped) to a file
// within the snapshot FS.
//
// Localized pages live under "<locale>/" in the bundle and their canonical
// URL has no trailing slash: /docs/Web serves <locale>/docs/Web/index.html,
// and /docs/Web/ does not resolve at all (the slash-removal middleware turns
// that 404 into a redirect). Shared prefixes (static assets, robots.txt and
// friends) resolve at the bundle root without a locale.
func resolveDoc(locale, urlPath string, fsys fs.FS) (file string, ok bool) {
	p := urlPath
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	// basic rejection of ambiguous/unsafe paths
	if strings.Contains(p, "\x00") || strings.Contains(p, "\\") || strings.Contains(p, "..") {
		return "", false
	}
	if pathutil.HasDotSegments(p) {
		return "", false
	}

	trailingSlash := strings.HasSuffix(p, "/")
	clean := path.Clean(p)

	// root -> localized index
	if clean == "/" {
		name := locale + "/index.html"
		return name, existsFile(fsys, name)
	}

	// shared, non-localized prefixes resolve at the bundle root
	first, _, _ := strings.Cut(strings.TrimPrefix(clean, "/"), "/")
	if l10n.NonLocalePrefixes[strings.ToLower(first)] {
		name := strings.TrimPrefix(clean, "/")
		if trailingSlash {
			name += "/index.html"
		}
		return name, existsFile(fsys, name)
	}

	// trailing slash is never the canonical form for localized pages
	if trailingSlash {
		return "", false
	}

	base := locale + clean

	// if it has an extension treat as a file
	if path.Ext(clean) != "" {
		return base, existsFile(fsys, base)
	}

	// pretty URL for a page directory
	name := base + "/index.html"
	return name, existsFile(fsys, name)
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
