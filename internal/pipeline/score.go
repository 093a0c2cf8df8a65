package pipeline

import (
	"context"

	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/state"
)

// ScoreReport is a site's score together with the inputs it came from.
type ScoreReport struct {
	Site    string            `json:"site"`
	Score   engine.Score      `json:"score"`
	Metrics engine.Metrics    `json:"metrics"`
	Summary state.SiteSummary `json:"summary"`
}

// Score computes the privacy score for site as seen from tabID's log. A
// negative tabID scores the site summary alone.
func (p *Pipeline) Score(ctx context.Context, site string, tabID int) ScoreReport {
	site = ResolveSite(site)
	summary := p.state.Summary(ctx, site)
	var events []engine.RequestEvent
	if tabID >= 0 {
		events = p.state.Events(ctx, tabID)
	}
	m := BuildMetrics(summary, events)
	return ScoreReport{
		Site:    site,
		Score:   engine.ComputeScore(m),
		Metrics: m,
		Summary: summary,
	}
}

// BuildMetrics derives score inputs from a summary and a tab log.
//
// Third-party and tracker counts are distinct eTLD+1s among the events.
// A first-party cookie counts as persistent only when it is not a session
// cookie. The cookie-sync count uses the uncapped total.
func BuildMetrics(summary state.SiteSummary, events []engine.RequestEvent) engine.Metrics {
	thirdParty := make(map[string]struct{})
	trackers := make(map[string]struct{})
	for _, ev := range events {
		if ev.ThirdParty {
			thirdParty[ev.ETLD1] = struct{}{}
		}
		if ev.Tracker {
			trackers[ev.ETLD1] = struct{}{}
		}
	}

	m := engine.Metrics{
		ThirdPartyDomains: len(thirdParty),
		TrackerDomains:    len(trackers),
		CookieSyncCount:   max(summary.CookieSyncTotal, len(summary.CookieSync)),
		CanvasSuspect:     summary.Canvas != nil && summary.Canvas.Suspect,
		HijackSuspect:     summary.Hijack != nil && summary.Hijack.Suspect,
	}
	for _, c := range summary.Cookies {
		switch {
		case c.ThirdParty:
			m.ThirdPartyCookies++
		case !c.Session:
			m.FirstPartyPersistentCookies++
		}
	}
	return m
}
