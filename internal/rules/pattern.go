package rules

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MatchHost reports whether host matches a host pattern. A "*."-prefixed
// pattern matches the bare domain and every subdomain; anything else must be
// identical.
func MatchHost(host, pattern string) bool {
	if bare, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == bare || strings.HasSuffix(host, "."+bare)
	}
	return host == pattern
}

// MatchAny reports whether host matches any of patterns.
func MatchAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if MatchHost(host, p) {
			return true
		}
	}
	return false
}

// Snapshot is an immutable, pre-compiled view of a RuleSet. It is what the
// decision path reads; it is replaced, never mutated.
type Snapshot struct {
	rules   RuleSet
	block   []string // top-level block list plus every enabled custom list
	regexes []*regexp.Regexp
}

func compile(rs RuleSet, logger *zap.Logger) *Snapshot {
	s := &Snapshot{rules: rs}
	s.block = append(s.block, rs.Block...)
	for _, name := range sortedListNames(rs.CustomLists) {
		if l := rs.CustomLists[name]; l.Enabled {
			s.block = append(s.block, l.Patterns...)
		}
	}
	for _, expr := range rs.Regex {
		re, err := regexp.Compile(expr)
		if err != nil {
			logger.Warn("ignoring invalid regex rule",
				zap.String("regex", expr),
				zap.Error(err),
			)
			continue
		}
		s.regexes = append(s.regexes, re)
	}
	return s
}

// Rules returns a copy of the underlying rule set.
func (s *Snapshot) Rules() RuleSet { return s.rules.Clone() }

func (s *Snapshot) Enabled() bool             { return s.rules.Enabled }
func (s *Snapshot) DeepCookieSyncCheck() bool { return s.rules.DeepCookieSyncCheck }

func (s *Snapshot) SiteDisabled(site string) bool {
	return s.rules.IsSiteDisabled(site)
}

// TempAllowed reports whether site has an unexpired temporary allow at now.
func (s *Snapshot) TempAllowed(site string, now time.Time) bool {
	until, ok := s.rules.TempAllowUntil(site)
	return ok && now.Before(until)
}

func (s *Snapshot) Allowed(host string) bool { return MatchAny(host, s.rules.Allow) }
func (s *Snapshot) Blocked(host string) bool { return MatchAny(host, s.block) }

// RegexBlocked reports whether host matches a user regex. Regexes that did
// not compile never match.
func (s *Snapshot) RegexBlocked(host string) bool {
	for _, re := range s.regexes {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}
