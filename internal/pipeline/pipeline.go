// Package pipeline wires tab tracking, classification, the block decision,
// cookie-sync detection and site state into the operations an interception
// client drives.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/triage-ai/privacy-shield/internal/deadletter"
	"github.com/triage-ai/privacy-shield/internal/domain"
	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/state"
	"github.com/triage-ai/privacy-shield/internal/storage"
	"github.com/triage-ai/privacy-shield/internal/tabs"
	"go.uber.org/zap"
)

// ErrNoSite is returned when an operation cannot be attributed to a site.
var ErrNoSite = errors.New("no site for request")

// Dependencies holds everything a Pipeline needs.
type Dependencies struct {
	Tabs    *tabs.Tracker
	Rules   engine.RuleSource
	Decider *engine.RuleEngine
	Signals *engine.SignalEngine
	State   *state.Store
	Cookies CookieSource       // optional; consulted when a navigation carries no cookies
	Events  storage.EventWriter // optional
	Tasks   state.Submitter     // optional; nil runs detection inline
	Sink    deadletter.Sink
	Logger  *zap.Logger
	Source  string // recorded on request events, e.g. "grpc"
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	tabs    *tabs.Tracker
	rules   engine.RuleSource
	decider *engine.RuleEngine
	signals *engine.SignalEngine
	state   *state.Store
	cookies CookieSource
	jar     *CookieSnapshots
	events  storage.EventWriter
	tasks   state.Submitter
	sink    deadletter.Sink
	logger  *zap.Logger
	source  string
	now     func() time.Time
}

// New builds a Pipeline.
func New(deps Dependencies) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := deps.Sink
	if sink == nil {
		sink = deadletter.NewLogSink(logger)
	}
	events := deps.Events
	if events == nil {
		events = storage.NewLogWriter(zap.NewNop())
	}
	return &Pipeline{
		tabs:    deps.Tabs,
		rules:   deps.Rules,
		decider: deps.Decider,
		signals: deps.Signals,
		state:   deps.State,
		cookies: deps.Cookies,
		jar:     NewCookieSnapshots(),
		events:  events,
		tasks:   deps.Tasks,
		sink:    sink,
		logger:  logger,
		source:  deps.Source,
		now:     time.Now,
	}
}

// Navigation is the result of a top-level navigation commit.
type Navigation struct {
	Site    string                `json:"site"`
	Changed bool                  `json:"changed"`
	Cookies []engine.CookieRecord `json:"cookies"`
}

// OnNavigationCommitted records the tab's new top site and refreshes the
// site's cookies. Subframe commits are ignored. When cookies is nil the
// configured CookieSource is asked instead; a lookup failure leaves the
// jar empty for this navigation.
func (p *Pipeline) OnNavigationCommitted(ctx context.Context, tabID, frameID int, rawURL string, cookies []engine.RawCookie) Navigation {
	if frameID != tabs.TopFrameID {
		return Navigation{}
	}
	site, changed := p.tabs.Commit(tabID, frameID, rawURL)
	if site == "" {
		return Navigation{Changed: changed}
	}

	if cookies == nil && p.cookies != nil {
		fetched, err := p.cookies.Cookies(ctx, site)
		if err != nil {
			p.logger.Warn("cookie lookup failed",
				zap.String("site", site),
				zap.Error(err),
			)
		}
		cookies = fetched
	}

	records := p.refresh(ctx, site, cookies)
	return Navigation{Site: site, Changed: changed, Cookies: records}
}

// OnTabRemoved forgets the tab's top site and releases its in-memory log.
func (p *Pipeline) OnTabRemoved(tabID int) {
	p.tabs.Remove(tabID)
	p.state.ForgetTab(tabID)
}

// RefreshCookies replaces a site's cookie snapshot outside of a navigation,
// e.g. after a client-side route change in a long-lived tab.
func (p *Pipeline) RefreshCookies(ctx context.Context, site string, cookies []engine.RawCookie) ([]engine.CookieRecord, error) {
	site = ResolveSite(site)
	if site == "" {
		return nil, ErrNoSite
	}
	return p.refresh(ctx, site, cookies), nil
}

func (p *Pipeline) refresh(ctx context.Context, site string, cookies []engine.RawCookie) []engine.CookieRecord {
	p.jar.Put(site, cookies)
	return p.state.RefreshCookies(ctx, site, cookies, p.now())
}

// Decision is the answer for one intercepted request. Classified is false
// when the tab had no known top site; such requests are always allowed
// and never logged.
type Decision struct {
	Verdict    engine.Verdict      `json:"verdict"`
	Cancel     bool                `json:"cancel"`
	Classified bool                `json:"classified"`
	Event      engine.RequestEvent `json:"event"`
}

// Decide classifies raw and returns the allow/cancel verdict.
//
// Only third-party requests can be trackers or be blocked. The event is
// appended to the tab's log before Decide returns; cookie-sync detection
// and event export run in the background. A panic anywhere on this path
// resolves to allow and is dead-lettered.
func (p *Pipeline) Decide(ctx context.Context, raw engine.RawRequest) (d Decision) {
	d.Verdict = engine.VerdictAllow
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("decision panic, allowing request",
				zap.Any("panic", r),
				zap.Int("tab_id", raw.TabID),
			)
			letter := deadletter.New("pipeline.decide", raw.URL, fmt.Errorf("panic: %v", r))
			letter.Attrs = map[string]string{"stack": string(debug.Stack())}
			p.sink.Record(letter)
			d = Decision{Verdict: engine.VerdictAllow}
		}
	}()

	topSite, ok := p.tabs.TopSite(raw.TabID)
	if !ok {
		return d
	}

	start := p.now()
	ev := engine.Classify(raw, topSite, start)
	if ev.ThirdParty {
		ev.Tracker = p.decider.IsTracker(ev.Host)
		ev.Blocked = p.decider.ShouldBlock(ev.Host, topSite)
	}

	// Persistence below is detached from the caller's deadline.
	bg := context.WithoutCancel(ctx)
	p.state.AppendEvent(bg, raw.TabID, ev)
	p.events.Write(storage.FromEvent(ev, time.Since(start), p.source))

	if ev.ThirdParty {
		p.detectCookieSync(bg, ev)
	}

	d.Classified = true
	d.Event = ev
	if ev.Blocked {
		d.Verdict = engine.VerdictCancel
		d.Cancel = true
	}
	return d
}

func (p *Pipeline) detectCookieSync(ctx context.Context, ev engine.RequestEvent) {
	cookies := p.jar.Get(ev.TopSite)
	if len(cookies) == 0 || p.signals == nil {
		return
	}
	req := &engine.DetectRequest{
		Event:               ev,
		Cookies:             cookies,
		DeepCookieSyncCheck: p.rules.Current().DeepCookieSyncCheck(),
		Now:                 ev.Time,
	}
	run := func(ctx context.Context) error {
		results, _ := p.signals.Evaluate(ctx, req)
		if matches := engine.CookieSyncMatches(results); len(matches) > 0 {
			p.logger.Debug("cookie sync detected",
				zap.String("site", ev.TopSite),
				zap.String("recipient", ev.Host),
				zap.Int("matches", len(matches)),
			)
			p.state.RecordCookieSyncMatches(ctx, ev.TopSite, matches)
		}
		return nil
	}
	if p.tasks == nil {
		_ = run(ctx)
		return
	}
	p.tasks.Submit("cookie_sync", ev.TopSite, run)
}

// ResolveSite turns a site hint (an eTLD+1, a hostname or a URL) into a
// registrable domain. It returns "" when nothing usable is given.
func ResolveSite(hint string) string {
	if hint == "" {
		return ""
	}
	host := domain.Host(hint)
	if host == "" {
		host = domain.NormalizeHost(hint)
	}
	return domain.RegistrableDomain(host)
}

// Summary returns the site's aggregate.
func (p *Pipeline) Summary(ctx context.Context, site string) state.SiteSummary {
	return p.state.Summary(ctx, ResolveSite(site))
}

// Events returns the tab's request log, oldest first.
func (p *Pipeline) Events(ctx context.Context, tabID int) []engine.RequestEvent {
	return p.state.Events(ctx, tabID)
}

// Sites returns every known site summary.
func (p *Pipeline) Sites(ctx context.Context) ([]state.SiteSummary, error) {
	return p.state.Sites(ctx)
}

// TopSite returns the tab's current top site.
func (p *Pipeline) TopSite(tabID int) (string, bool) {
	return p.tabs.TopSite(tabID)
}
