package domain

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// knownSuffixes is a small public-suffix subset. Unknown suffixes fall back
// to the last two labels, so this is a best-effort heuristic rather than a
// full public suffix list.
var knownSuffixes = map[string]struct{}{
	"com": {}, "org": {}, "net": {}, "edu": {}, "gov": {}, "io": {},
	"co.uk": {}, "uk": {}, "dev": {}, "app": {}, "co": {}, "info": {},
	"br": {}, "com.br": {}, "net.br": {}, "org.br": {},
	"xyz": {}, "online": {}, "site": {}, "ai": {}, "ca": {}, "de": {},
	"fr": {}, "es": {}, "it": {}, "nl": {}, "se": {}, "no": {}, "fi": {},
	"pl": {}, "ru": {}, "jp": {}, "kr": {}, "cn": {},
}

// IsKnownSuffix reports whether s is in the static suffix table.
func IsKnownSuffix(s string) bool {
	_, ok := knownSuffixes[s]
	return ok
}

// KnownSuffixes returns the static suffix table entries.
func KnownSuffixes() []string {
	out := make([]string, 0, len(knownSuffixes))
	for s := range knownSuffixes {
		out = append(out, s)
	}
	return out
}

// Host returns the lowercase hostname of rawURL, or "" when the URL cannot
// be parsed or has no host. It never panics.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return NormalizeHost(u.Hostname())
}

// NormalizeHost lowercases a hostname, strips a trailing dot, and converts
// internationalized names to their ASCII form when that is possible.
func NormalizeHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		return ascii
	}
	return host
}

// RegistrableDomain returns the eTLD+1 for host.
//
// Hosts with two labels or fewer are returned unchanged. Otherwise candidate
// suffixes are scanned from the second label outward; the first hit is the
// longest known suffix and the label in front of it completes the result.
// IP literals are returned unchanged.
func RegistrableDomain(host string) string {
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	for i := 1; i < len(labels); i++ {
		suffix := strings.Join(labels[i:], ".")
		if IsKnownSuffix(suffix) {
			return labels[i-1] + "." + suffix
		}
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// IsThirdParty reports whether candidate belongs to a different site than
// topSite. Either side being empty always yields false.
func IsThirdParty(topSite, candidate string) bool {
	return topSite != "" && candidate != "" && topSite != candidate
}
