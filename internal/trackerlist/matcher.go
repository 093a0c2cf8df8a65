package trackerlist

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Matcher answers tracker-membership queries for a compiled List.
type Matcher struct {
	domains map[string]struct{}
	regexes []*regexp.Regexp
}

// Compile builds a Matcher. Regex entries that fail to compile are logged
// and skipped.
func Compile(list List, logger *zap.Logger) *Matcher {
	m := &Matcher{domains: make(map[string]struct{}, len(list))}
	for _, e := range list {
		if e.Domain != "" {
			m.domains[e.Domain] = struct{}{}
		}
		if e.Regex == "" {
			continue
		}
		re, err := regexp.Compile(e.Regex)
		if err != nil {
			logger.Warn("skipping invalid tracker regex",
				zap.String("regex", e.Regex),
				zap.Error(err),
			)
			continue
		}
		m.regexes = append(m.regexes, re)
	}
	return m
}

// Match reports whether host equals, or is a subdomain of, a listed domain,
// or matches any listed regex.
func (m *Matcher) Match(host string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	for h := host; ; {
		if _, ok := m.domains[h]; ok {
			return true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}
	for _, re := range m.regexes {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// Size returns the number of domain entries and compiled regexes.
func (m *Matcher) Size() (domains, regexes int) {
	return len(m.domains), len(m.regexes)
}
