// Package l10n holds the supported-locale table and the URL prefix logic
// the locale middleware is built on: splitting a locale prefix off a path,
// rebuilding a canonical localized path, and matching Accept-Language
// headers against the locales we actually publish.
package l10n

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is the canonical platform locale used when nothing in the
// request selects one.
const DefaultLocale = "en-US"

// Supported lists every locale the platform publishes docs in, in canonical
// casing. Order matters: the first entry whose language subtag matches wins
// when a request carries only a bare language code ("en" -> "en-US").
var Supported = []string{
	"en-US",
	"ar",
	"bn",
	"ca",
	"de",
	"es",
	"fa",
	"fi",
	"fr",
	"hi-IN",
	"hu",
	"id",
	"it",
	"ja",
	"ko",
	"ms",
	"nl",
	"pl",
	"pt-BR",
	"pt-PT",
	"ru",
	"sv-SE",
	"th",
	"tr",
	"uk",
	"vi",
	"zh-CN",
	"zh-TW",
}

var (
	// byLower maps the lowercased locale to its canonical form ("en-us" -> "en-US").
	byLower map[string]string
	// byLang maps a bare language subtag to the first supported locale for it.
	byLang map[string]string

	matcher language.Matcher
)

func init() {
	byLower = make(map[string]string, len(Supported))
	byLang = make(map[string]string, len(Supported))
	tags := make([]language.Tag, 0, len(Supported))
	for _, loc := range Supported {
		byLower[strings.ToLower(loc)] = loc
		lang := strings.ToLower(strings.SplitN(loc, "-", 2)[0])
		if _, ok := byLang[lang]; !ok {
			byLang[lang] = loc
		}
		tags = append(tags, language.Make(loc))
	}
	matcher = language.NewMatcher(tags)
}

// Canonical resolves a locale code case-insensitively to its canonical form.
// Bare language codes resolve to the first supported locale for that
// language ("en" -> "en-US", "pt" -> "pt-BR" per table order). This is
// deliberately more forgiving than an exact table lookup so ?lang= links
// typed by hand still land on a published locale.
func Canonical(code string) (string, bool) {
	if code == "" {
		return "", false
	}
	lower := strings.ToLower(code)
	if loc, ok := byLower[lower]; ok {
		return loc, true
	}
	lang := strings.SplitN(lower, "-", 2)[0]
	if loc, ok := byLang[lang]; ok {
		return loc, true
	}
	return "", false
}

// MatchAccept returns the best supported locale for an Accept-Language
// header, or "" when the header is empty or matches nothing we publish.
func MatchAccept(header string) string {
	if header == "" {
		return ""
	}
	reqTags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(reqTags) == 0 {
		return ""
	}
	_, idx, conf := matcher.Match(reqTags...)
	if conf == language.No {
		return ""
	}
	return Supported[idx]
}
