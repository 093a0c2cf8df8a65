package pipeline

import (
	"context"
	"slices"
	"sync"

	"github.com/triage-ai/privacy-shield/internal/engine"
)

// CookieSource returns every cookie visible for a registrable domain.
type CookieSource interface {
	Cookies(ctx context.Context, site string) ([]engine.RawCookie, error)
}

// CookieSnapshots is the in-memory cookie jar used for sync detection. It
// holds the latest snapshot pushed for each site. Values never leave it.
type CookieSnapshots struct {
	mu   sync.RWMutex
	jars map[string][]engine.RawCookie
}

func NewCookieSnapshots() *CookieSnapshots {
	return &CookieSnapshots{jars: make(map[string][]engine.RawCookie)}
}

// Put replaces the snapshot for site.
func (c *CookieSnapshots) Put(site string, cookies []engine.RawCookie) {
	c.mu.Lock()
	c.jars[site] = slices.Clone(cookies)
	c.mu.Unlock()
}

// Get returns the current snapshot for site. The slice must not be modified.
func (c *CookieSnapshots) Get(site string) []engine.RawCookie {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jars[site]
}

// Cookies implements CookieSource over the cached snapshots.
func (c *CookieSnapshots) Cookies(_ context.Context, site string) ([]engine.RawCookie, error) {
	return slices.Clone(c.Get(site)), nil
}
