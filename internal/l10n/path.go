package l10n

import "strings"

// NonLocalePrefixes are first path segments that are never locale-prefixed:
// infrastructure endpoints, static assets, and APIs that are the same in
// every language. FixPath leaves these paths untouched.
var NonLocalePrefixes = map[string]bool{
	"admin":           true,
	"api":             true,
	"media":           true,
	"static":          true,
	"files":           true,
	"services":        true,
	"robots.txt":      true,
	"favicon.ico":     true,
	"contribute.json": true,
	".well-known":     true,
	"-":               true,
}

// SplitPath splits a URL path into its locale prefix and the remainder.
// The locale is returned in canonical casing; rest never has a leading
// slash. A path with no recognizable locale prefix returns ("", rest).
//
//	SplitPath("/en-us/docs/Web")  -> ("en-US", "docs/Web")
//	SplitPath("/docs/Web")        -> ("", "docs/Web")
func SplitPath(p string) (locale, rest string) {
	p = strings.TrimPrefix(p, "/")
	first, remainder, _ := strings.Cut(p, "/")
	// only exact (case-insensitive) locale segments count as a prefix;
	// a bare language segment like "en" still needs a canonicalizing
	// redirect, which Canonical handles for us
	if loc, ok := Canonical(first); ok {
		return loc, remainder
	}
	return "", p
}

// FixPath joins a locale onto a prefix-less path, producing the canonical
// localized URL path. Paths starting with a non-locale prefix (and the
// paths those serve) are returned without a locale.
func FixPath(locale, rest string) string {
	rest = strings.TrimPrefix(rest, "/")
	first, _, _ := strings.Cut(rest, "/")
	if NonLocalePrefixes[first] {
		return "/" + rest
	}
	if locale == "" {
		return "/" + rest
	}
	return "/" + locale + "/" + rest
}
