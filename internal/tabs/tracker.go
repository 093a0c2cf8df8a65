// Package tabs maps open browser tabs to the site loaded in their top-level
// frame.
package tabs

import (
	"sync"

	"github.com/triage-ai/privacy-shield/internal/domain"
)

// TopFrameID is the frame id browsers use for a tab's top-level document.
const TopFrameID = 0

// Tracker holds tabID → top site. A tab with no entry is unclassifiable.
type Tracker struct {
	mu    sync.RWMutex
	sites map[int]string
}

func NewTracker() *Tracker {
	return &Tracker{sites: make(map[int]string)}
}

// Commit records a navigation commit. Only top-level frames update the
// mapping; subframe commits are ignored. It returns the site now associated
// with the tab and whether the mapping changed.
func (t *Tracker) Commit(tabID, frameID int, rawURL string) (string, bool) {
	if frameID != TopFrameID {
		site, _ := t.TopSite(tabID)
		return site, false
	}
	site := domain.RegistrableDomain(domain.Host(rawURL))

	t.mu.Lock()
	defer t.mu.Unlock()
	if site == "" {
		// Top-level navigation to something without a host (about:blank,
		// file://) leaves nothing to classify against.
		_, had := t.sites[tabID]
		delete(t.sites, tabID)
		return "", had
	}
	prev, had := t.sites[tabID]
	t.sites[tabID] = site
	return site, !had || prev != site
}

// Remove forgets a closed tab.
func (t *Tracker) Remove(tabID int) {
	t.mu.Lock()
	delete(t.sites, tabID)
	t.mu.Unlock()
}

// TopSite returns the tab's current top site.
func (t *Tracker) TopSite(tabID int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	site, ok := t.sites[tabID]
	return site, ok
}

// Len returns the number of tracked tabs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sites)
}
