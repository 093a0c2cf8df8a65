package engine

import (
	"fmt"
	"time"
)

// Verdict is the allow/cancel answer returned for every intercepted request.
type Verdict int

const (
	VerdictAllow Verdict = iota + 1
	VerdictCancel
)

// String returns the lowercase verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictCancel:
		return "cancel"
	default:
		return "unspecified"
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(b []byte) error {
	switch string(b) {
	case "allow":
		*v = VerdictAllow
	case "cancel":
		*v = VerdictCancel
	default:
		return fmt.Errorf("unknown verdict %q", b)
	}
	return nil
}

// SignalCategory classifies what kind of privacy signal a detector produces.
type SignalCategory int

const (
	CategoryUnspecified SignalCategory = iota
	CategoryCookieSync                 // cookie_sync
	CategoryFingerprint                // fingerprint
	CategoryHijack                     // hijack
)

// String returns the storage-compatible name (used for ClickHouse columns).
func (c SignalCategory) String() string {
	switch c {
	case CategoryCookieSync:
		return "SIGNAL_CATEGORY_COOKIE_SYNC"
	case CategoryFingerprint:
		return "SIGNAL_CATEGORY_FINGERPRINT"
	case CategoryHijack:
		return "SIGNAL_CATEGORY_HIJACK"
	default:
		return "SIGNAL_CATEGORY_UNSPECIFIED"
	}
}

// RawRequest is an outgoing request as delivered by the interception source.
type RawRequest struct {
	TabID        int    `json:"tabId"`
	URL          string `json:"url"`
	ResourceType string `json:"resourceType"`
}

// RequestEvent is the normalized, immutable record of one intercepted request.
type RequestEvent struct {
	ID           string    `json:"id"`
	TabID        int       `json:"tabId"`
	TopSite      string    `json:"topSite"`
	URL          string    `json:"requestUrl"`
	Host         string    `json:"requestHost"`
	ETLD1        string    `json:"requestETLD1"`
	ResourceType string    `json:"type"`
	ThirdParty   bool      `json:"thirdParty"`
	Tracker      bool      `json:"tracker"`
	Blocked      bool      `json:"blocked"`
	Time         time.Time `json:"time"`
}

// RawCookie is a cookie as returned by the browser cookie store. Values only
// ever live in memory; they are never persisted.
type RawCookie struct {
	Name           string  `json:"name"`
	Domain         string  `json:"domain"`
	Value          string  `json:"value"`
	Session        bool    `json:"session"`
	ExpirationDate float64 `json:"expirationDate,omitempty"` // seconds since epoch
}

// CookieRecord is the cached, value-free view of a cookie kept in a site
// summary.
type CookieRecord struct {
	Name           string  `json:"name"`
	Domain         string  `json:"domain"`
	Session        bool    `json:"session"`
	ExpirationDate float64 `json:"expirationDate,omitempty"`
	ThirdParty     bool    `json:"thirdParty"`
}

// MatchKind says how a cookie value was found in a request.
type MatchKind string

const (
	MatchRaw  MatchKind = "raw"
	MatchHash MatchKind = "hash"
)

// CookieSyncMatch records one cookie value observed in a third-party request.
type CookieSyncMatch struct {
	Site       string    `json:"topSite"`
	CookieName string    `json:"sourceCookieName"`
	Recipient  string    `json:"recipientDomain"`
	Kind       MatchKind `json:"kind"`
	Time       time.Time `json:"time"`
}

// DetectorResult is the output from a single detector run within the engine.
type DetectorResult struct {
	Detector  string
	Triggered bool
	Category  SignalCategory
	Details   string
	Matches   []CookieSyncMatch
}
