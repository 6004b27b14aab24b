package enrich

import (
	"net/netip"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DefaultHostPatterns are CDN hosts news sites commonly serve images from.
// "*.x" matches subdomains of x; anything else must match exactly. Label
// prefixes like "cdn." are not patterns: they exist on every domain.
var DefaultHostPatterns = []string{
	"*.cloudfront.net",
	"*.akamaized.net",
	"*.twimg.com",
	"*.wp.com",
	"*.googleusercontent.com",
}

// AcceptHost reports whether an image on imageHost may illustrate an
// article on articleHost.
func AcceptHost(imageHost, articleHost string, patterns []string) bool {
	img := normalizeHost(imageHost)
	page := normalizeHost(articleHost)
	if img == "" {
		return false
	}
	if img == page {
		return true
	}

	// literal addresses have no registrable parent
	if _, err := netip.ParseAddr(page); err != nil {
		parent, err := publicsuffix.EffectiveTLDPlusOne(page)
		if err == nil && (img == parent || strings.HasSuffix(img, "."+parent)) {
			return true
		}
	}

	for _, p := range patterns {
		if matchPattern(img, strings.ToLower(strings.TrimSpace(p))) {
			return true
		}
	}
	return false
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(h), "."))
	return strings.TrimPrefix(h, "www.")
}

func matchPattern(host, pattern string) bool {
	switch {
	case pattern == "":
		return false
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(host, pattern[1:])
	default:
		return host == pattern
	}
}
