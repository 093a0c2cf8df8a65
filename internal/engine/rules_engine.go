package engine

import (
	"strings"
	"time"

	"github.com/triage-ai/privacy-shield/internal/rules"
)

// RuleSource supplies the latest committed rule snapshot.
type RuleSource interface {
	Current() *rules.Snapshot
}

// TrackerMatcher answers tracker-list membership.
type TrackerMatcher interface {
	Match(host string) bool
}

// RuleEngine makes the per-request block decision.
type RuleEngine struct {
	rules    RuleSource
	trackers TrackerMatcher
	now      func() time.Time
}

// NewRuleEngine creates a RuleEngine reading rules and trackers on every call.
func NewRuleEngine(rules RuleSource, trackers TrackerMatcher) *RuleEngine {
	return &RuleEngine{rules: rules, trackers: trackers, now: time.Now}
}

// IsTracker reports whether host is on the tracker list, either as an exact
// or parent domain entry or through a regex entry.
func (e *RuleEngine) IsTracker(host string) bool {
	return e.trackers.Match(strings.ToLower(host))
}

// ShouldBlock decides whether a request to host from a page on topSite is
// cancelled.
//
// Rules (first match wins):
//  1. Rules disabled globally                  → allow
//  2. topSite is in the per-site disabled set  → allow
//  3. topSite has an unexpired temporary allow → allow
//  4. host matches an allow pattern            → allow
//  5. host matches a block pattern             → block (includes enabled custom lists)
//  6. host matches a user regex                → block
//  7. Otherwise                                → block iff IsTracker(host)
func (e *RuleEngine) ShouldBlock(host, topSite string) bool {
	snap := e.rules.Current()
	return e.shouldBlock(snap, strings.ToLower(host), topSite)
}

func (e *RuleEngine) shouldBlock(snap *rules.Snapshot, host, topSite string) bool {
	switch {
	case !snap.Enabled():
		return false
	case snap.SiteDisabled(topSite):
		return false
	case snap.TempAllowed(topSite, e.now()):
		return false
	case snap.Allowed(host):
		return false
	case snap.Blocked(host):
		return true
	case snap.RegexBlocked(host):
		return true
	}
	return e.IsTracker(host)
}
