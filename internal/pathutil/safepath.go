// Package pathutil has small request-path predicates shared by the
// doc handler and the URL middleware.
package pathutil

import "strings"

// HasDotSegments reports whether any slash-separated segment of p is
// "." or "..". Doc slugs never contain dot segments, so requests that
// do are rejected before any filesystem lookup. Dotfiles and longer
// runs of dots ("/...") are ordinary segments.
func HasDotSegments(p string) bool {
	for p != "" {
		var seg string
		if i := strings.IndexByte(p, '/'); i >= 0 {
			seg, p = p[:i], p[i+1:]
		} else {
			seg, p = p, ""
		}
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
