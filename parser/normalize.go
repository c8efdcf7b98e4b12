// Package parser normalizes item URLs and maps heterogeneous origin payloads
// onto canonical records.
package parser

import (
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

func withScheme(raw string) string {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

// NormalizeURL returns the canonical store key for raw. The input is trimmed,
// given an https scheme when it has none, re-serialized and lower-cased. When
// parsing fails the lower-cased, scheme-prefixed input is returned instead.
// NormalizeURL is idempotent.
func NormalizeURL(raw string) string {
	prefixed := withScheme(strings.TrimSpace(raw))
	u, err := url.Parse(prefixed)
	if err != nil || u.Host == "" {
		return strings.ToLower(prefixed)
	}
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return strings.ToLower(u.String())
}

// ValidURL reports whether raw parses as an absolute URL with a host once a
// missing scheme has been added.
func ValidURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(withScheme(raw))
	if err != nil {
		return false
	}
	return u.Host != ""
}

// DisplayNameFromURL derives a readable name from the last path segment,
// e.g. ".../batman-1-variant-b" becomes "Batman 1 Variant B". It returns
// NameUnavailable when the URL carries no usable slug.
func DisplayNameFromURL(raw string) string {
	u, err := url.Parse(withScheme(strings.TrimSpace(raw)))
	if err != nil {
		return NameUnavailable
	}
	slug := path.Base(strings.TrimRight(u.Path, "/"))
	if slug == "" || slug == "." || slug == "/" {
		return NameUnavailable
	}
	slug = strings.TrimSuffix(strings.TrimSuffix(slug, ".html"), ".htm")

	parts := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) == 0 {
		return NameUnavailable
	}
	for i, part := range parts {
		first, size := utf8.DecodeRuneInString(part)
		parts[i] = string(unicode.ToUpper(first)) + part[size:]
	}
	return strings.Join(parts, " ")
}
