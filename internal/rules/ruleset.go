// Package rules owns the user's blocking configuration: the global enable
// flag, allow/block/regex pattern lists, per-site overrides, and named
// custom lists.
package rules

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// ListKind names one of the three top-level pattern lists.
type ListKind string

const (
	ListAllow ListKind = "allow"
	ListBlock ListKind = "block"
	ListRegex ListKind = "regex"
)

// DefaultTempAllow is how long a temporary allow lasts when the caller does
// not say otherwise.
const DefaultTempAllow = 5 * time.Minute

// RuleSet is the persisted user configuration.
type RuleSet struct {
	Enabled             bool                  `json:"enabled"`
	DeepCookieSyncCheck bool                  `json:"deepCookieSyncCheck"`
	Allow               []string              `json:"allow"`
	Block               []string              `json:"block"`
	Regex               []string              `json:"regex"`
	Site                SiteRules             `json:"site"`
	CustomLists         map[string]CustomList `json:"customLists,omitempty"`
}

// SiteRules holds per-site overrides keyed by registrable domain.
type SiteRules struct {
	Disabled   []string             `json:"disabled,omitempty"`
	TempAllows map[string]time.Time `json:"tempAllows,omitempty"`
}

// CustomList is a named, individually switchable set of block patterns.
type CustomList struct {
	Enabled  bool     `json:"enabled"`
	Patterns []string `json:"patterns"`
}

// Default returns the configuration used when nothing has been persisted.
func Default() RuleSet {
	return RuleSet{
		Enabled: true,
		Allow:   []string{},
		Block:   []string{},
		Regex:   []string{},
	}
}

// Clone returns a deep copy so callers can mutate it without touching a
// published snapshot.
func (rs RuleSet) Clone() RuleSet {
	out := rs
	out.Allow = cloneStrings(rs.Allow)
	out.Block = cloneStrings(rs.Block)
	out.Regex = cloneStrings(rs.Regex)
	out.Site.Disabled = slices.Clone(rs.Site.Disabled)
	out.Site.TempAllows = maps.Clone(rs.Site.TempAllows)
	if rs.CustomLists != nil {
		out.CustomLists = make(map[string]CustomList, len(rs.CustomLists))
		for name, l := range rs.CustomLists {
			out.CustomLists[name] = CustomList{Enabled: l.Enabled, Patterns: cloneStrings(l.Patterns)}
		}
	}
	return out
}

// normalize fills nil pattern lists so the JSON shape stays stable.
func (rs *RuleSet) normalize() {
	if rs.Allow == nil {
		rs.Allow = []string{}
	}
	if rs.Block == nil {
		rs.Block = []string{}
	}
	if rs.Regex == nil {
		rs.Regex = []string{}
	}
	for name, l := range rs.CustomLists {
		if l.Patterns == nil {
			l.Patterns = []string{}
			rs.CustomLists[name] = l
		}
	}
}

// List returns the pattern list for kind, or nil for an unknown kind.
func (rs *RuleSet) List(kind ListKind) *[]string {
	switch kind {
	case ListAllow:
		return &rs.Allow
	case ListBlock:
		return &rs.Block
	case ListRegex:
		return &rs.Regex
	}
	return nil
}

// IsSiteDisabled reports whether blocking is switched off for site.
func (rs RuleSet) IsSiteDisabled(site string) bool {
	return slices.Contains(rs.Site.Disabled, site)
}

// TempAllowUntil returns the temporary-allow expiry for site, if any.
func (rs RuleSet) TempAllowUntil(site string) (time.Time, bool) {
	until, ok := rs.Site.TempAllows[site]
	return until, ok
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

// Validate checks every pattern the way AddPattern would. It is used for
// imported rule sets.
func (rs RuleSet) Validate() error {
	for _, kind := range []ListKind{ListAllow, ListBlock, ListRegex} {
		for _, p := range *rs.List(kind) {
			if err := validatePattern(kind, p); err != nil {
				return fmt.Errorf("%s list: %w", kind, err)
			}
		}
	}
	for name, l := range rs.CustomLists {
		for _, p := range l.Patterns {
			if err := validatePattern(ListBlock, p); err != nil {
				return fmt.Errorf("list %q: %w", name, err)
			}
		}
	}
	return nil
}
