package api

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/triage-ai/privacy-shield/internal/chread"
	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/state"
)

// ErrorResp is the standard error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// --- Rules ---

// PatchRulesReq toggles global flags. Absent fields are left unchanged.
type PatchRulesReq struct {
	Enabled             *bool `json:"enabled,omitempty"`
	DeepCookieSyncCheck *bool `json:"deepCookieSyncCheck,omitempty"`
}

// PatternReq carries one pattern for a list.
type PatternReq struct {
	Pattern string `json:"pattern"`
}

// RuleInputReq is free-form rule text such as "allow:cdn.example".
type RuleInputReq struct {
	Input string `json:"input"`
}

// SiteDisableResp reports the per-site disable state after a toggle.
type SiteDisableResp struct {
	Site     string `json:"site"`
	Disabled bool   `json:"disabled"`
}

// TempAllowReq optionally overrides the temporary allow duration.
type TempAllowReq struct {
	Minutes int `json:"minutes,omitempty"`
}

// TempAllowResp reports the temporary allow state after a toggle.
type TempAllowResp struct {
	Site   string     `json:"site"`
	Active bool       `json:"active"`
	Until  *time.Time `json:"until,omitempty"`
}

// --- Custom lists ---

// CreateListReq names a new custom list.
type CreateListReq struct {
	Name string `json:"name"`
}

// PatchListReq switches a custom list on or off.
type PatchListReq struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// --- Site data ---

// SiteListResp is the body of GET /api/shield/sites.
type SiteListResp struct {
	Sites []state.SiteSummary `json:"sites"`
	Total int                 `json:"total"`
}

// TabEventsResp is the in-memory request log of one tab.
type TabEventsResp struct {
	TabID   int                   `json:"tab_id"`
	TopSite string                `json:"top_site,omitempty"`
	Events  []engine.RequestEvent `json:"events"`
}

// --- Interception ---

// NavigationReq is a committed navigation.
type NavigationReq struct {
	TabID   int                `json:"tab_id"`
	FrameID int                `json:"frame_id"`
	URL     string             `json:"url"`
	Cookies []engine.RawCookie `json:"cookies,omitempty"`
}

// DecideReq asks for a verdict on one outgoing request.
type DecideReq struct {
	TabID        int    `json:"tab_id"`
	URL          string `json:"url"`
	ResourceType string `json:"resource_type"`
}

// CookiesReq replaces a site's cookie snapshot.
type CookiesReq struct {
	Site    string             `json:"site"`
	Cookies []engine.RawCookie `json:"cookies"`
}

// CookiesResp lists the cached, value-free cookies.
type CookiesResp struct {
	Site    string                `json:"site"`
	Cookies []engine.CookieRecord `json:"cookies"`
}

// ProbeReq is a content-probe message.
type ProbeReq struct {
	Kind     string          `json:"kind"`
	SiteHint string          `json:"site_hint,omitempty"`
	TabID    *int            `json:"tab_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// ProbeResp names the site the probe was attributed to.
type ProbeResp struct {
	Site string `json:"site"`
}

// --- Events & Analytics ---

// EventListResp is a page of exported request events.
type EventListResp struct {
	Events   []chread.EventRow `json:"events"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}
