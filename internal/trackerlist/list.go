// Package trackerlist holds the curated set of tracker domains and host
// regexes, and the tooling to build it from EasyPrivacy-style filter lists.
package trackerlist

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
)

//go:embed default_trackers.json
var defaultTrackers []byte

// Entry is a single tracker list item. Exactly one of Domain or Regex is set.
type Entry struct {
	Domain string `json:"domain,omitempty"`
	Regex  string `json:"regex,omitempty"`
}

// List is an ordered tracker list.
type List []Entry

// Default returns the built-in tracker list.
func Default() List {
	l, err := Parse(bytes.NewReader(defaultTrackers))
	if err != nil {
		panic(fmt.Sprintf("embedded tracker list is invalid: %v", err))
	}
	return l
}

// Parse decodes a JSON tracker list. Entries with neither a domain nor a
// regex are dropped; domains are lowercased.
func Parse(r io.Reader) (List, error) {
	var raw List
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("Parse: %w", err)
	}
	out := make(List, 0, len(raw))
	for _, e := range raw {
		e.Domain = strings.ToLower(strings.TrimSpace(e.Domain))
		if e.Domain == "" && e.Regex == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Load reads a JSON tracker list from path.
func Load(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// FromDomains builds a list of domain entries, sorted and de-duplicated.
func FromDomains(domains []string) List {
	sorted := slices.Clone(domains)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	out := make(List, 0, len(sorted))
	for _, d := range sorted {
		if d != "" {
			out = append(out, Entry{Domain: d})
		}
	}
	return out
}

// Merge concatenates lists, dropping duplicate entries while keeping the
// first occurrence's position.
func Merge(lists ...List) List {
	seen := make(map[Entry]struct{})
	var out List
	for _, l := range lists {
		for _, e := range l {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// Write encodes the list as indented JSON.
func (l List) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(l)
}
