package state

import (
	"slices"
	"time"

	"github.com/triage-ai/privacy-shield/internal/engine"
)

// CanvasSignal is the latest canvas-API usage report for a site.
type CanvasSignal struct {
	Reads     int       `json:"reads"`
	Blobs     int       `json:"blobs"`
	Measures  int       `json:"measures"`
	Suspect   bool      `json:"suspect"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HijackSignal is the latest hijack assessment for a site.
type HijackSignal struct {
	Suspect      bool      `json:"suspect"`
	Indicators   []string  `json:"indicators"`
	HookScripts  []string  `json:"hookScripts,omitempty"`
	BeforeUnload bool      `json:"beforeUnload"`
	PopupFlood   bool      `json:"popupFlood"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StorageFootprint is the latest HTML5 storage snapshot for a site.
type StorageFootprint struct {
	LocalStorageKeys   []string  `json:"localStorageKeys"`
	SessionStorageKeys []string  `json:"sessionStorageKeys"`
	IndexedDBDatabases []string  `json:"indexedDBDatabases"`
	CacheBuckets       []string  `json:"cacheBuckets"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Alert is a free-form entry in a site's alert log.
type Alert struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// SiteSummary is the per-site aggregate.
type SiteSummary struct {
	Site               string                   `json:"site"`
	Cookies            []engine.CookieRecord    `json:"cookies"`
	CookiesRefreshedAt time.Time                `json:"cookiesRefreshedAt,omitempty"`
	CookieSync         []engine.CookieSyncMatch `json:"cookieSync"`
	CookieSyncTotal    int                      `json:"cookieSyncTotal"`
	Canvas             *CanvasSignal            `json:"canvas,omitempty"`
	Hijack             *HijackSignal            `json:"hijack,omitempty"`
	HTML5              *StorageFootprint        `json:"html5,omitempty"`
	Alerts             []Alert                  `json:"alerts"`
}

func emptySummary(site string) SiteSummary {
	return SiteSummary{
		Site:       site,
		Cookies:    []engine.CookieRecord{},
		CookieSync: []engine.CookieSyncMatch{},
		Alerts:     []Alert{},
	}
}

// clone deep-copies the summary so readers never share slices with the
// live entry.
func (s SiteSummary) clone() SiteSummary {
	out := s
	out.Cookies = slices.Clone(s.Cookies)
	out.CookieSync = slices.Clone(s.CookieSync)
	out.Alerts = slices.Clone(s.Alerts)
	if s.Canvas != nil {
		c := *s.Canvas
		out.Canvas = &c
	}
	if s.Hijack != nil {
		h := *s.Hijack
		h.Indicators = slices.Clone(s.Hijack.Indicators)
		h.HookScripts = slices.Clone(s.Hijack.HookScripts)
		out.Hijack = &h
	}
	if s.HTML5 != nil {
		f := *s.HTML5
		f.LocalStorageKeys = slices.Clone(s.HTML5.LocalStorageKeys)
		f.SessionStorageKeys = slices.Clone(s.HTML5.SessionStorageKeys)
		f.IndexedDBDatabases = slices.Clone(s.HTML5.IndexedDBDatabases)
		f.CacheBuckets = slices.Clone(s.HTML5.CacheBuckets)
		out.HTML5 = &f
	}
	if out.Cookies == nil {
		out.Cookies = []engine.CookieRecord{}
	}
	if out.CookieSync == nil {
		out.CookieSync = []engine.CookieSyncMatch{}
	}
	if out.Alerts == nil {
		out.Alerts = []Alert{}
	}
	return out
}
