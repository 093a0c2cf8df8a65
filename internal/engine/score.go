package engine

import "math"

// Metrics are the per-site signal counts a score is computed from.
type Metrics struct {
	ThirdPartyDomains           int  `json:"uniqueThirdPartyDomains"`
	TrackerDomains              int  `json:"trackerDomains"`
	ThirdPartyCookies           int  `json:"thirdPartyCookies"`
	FirstPartyPersistentCookies int  `json:"firstPartyPersistentCookies"`
	CanvasSuspect               bool `json:"canvasSuspect"`
	CookieSyncCount             int  `json:"cookieSyncCount"`
	HijackSuspect               bool `json:"hijackSuspect"`
}

// ScoreItem is one line of the penalty breakdown. Value is <= 0.
type ScoreItem struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Score is a 0..100 privacy score with its itemized penalties.
type Score struct {
	Total int         `json:"total"`
	Items []ScoreItem `json:"items"`
}

// Score labels, in evaluation order.
const (
	LabelThirdPartyDomains    = "3rd-party domains"
	LabelTrackerDomains       = "Tracker domains"
	LabelThirdPartyCookies    = "3rd-party cookies"
	LabelFirstPartyPersistent = "1st-party persistent cookies"
	LabelCanvas               = "Canvas fingerprinting"
	LabelCookieSync           = "Cookie syncing"
	LabelHijack               = "Hijack indicators"
)

// ComputeScore converts metrics into a score.
//
// Penalties (applied in this order, which is also the order of Items):
//  1. third-party domains          min(20, n * 1)
//  2. tracker domains              min(30, n * 2)
//  3. third-party cookies          min(15, n * 1)
//  4. first-party persistent       min(5,  n * 0.5)
//  5. canvas fingerprint suspected 10
//  6. any cookie-sync match        15
//  7. hijack suspected             15
//
// Zero penalties are omitted from Items. The total is clamped at 0 and
// rounded to the nearest integer.
func ComputeScore(m Metrics) Score {
	total := 100.0
	items := make([]ScoreItem, 0, 7)

	add := func(label string, penalty float64) {
		if penalty <= 0 {
			return
		}
		total -= penalty
		items = append(items, ScoreItem{Label: label, Value: -penalty})
	}
	capped := func(n int, weight, limit float64) float64 {
		if n <= 0 {
			return 0
		}
		return math.Min(limit, float64(n)*weight)
	}

	add(LabelThirdPartyDomains, capped(m.ThirdPartyDomains, 1, 20))
	add(LabelTrackerDomains, capped(m.TrackerDomains, 2, 30))
	add(LabelThirdPartyCookies, capped(m.ThirdPartyCookies, 1, 15))
	add(LabelFirstPartyPersistent, capped(m.FirstPartyPersistentCookies, 0.5, 5))
	if m.CanvasSuspect {
		add(LabelCanvas, 10)
	}
	if m.CookieSyncCount > 0 {
		add(LabelCookieSync, 15)
	}
	if m.HijackSuspect {
		add(LabelHijack, 15)
	}

	if total < 0 {
		total = 0
	}
	return Score{Total: int(math.Round(total)), Items: items}
}
