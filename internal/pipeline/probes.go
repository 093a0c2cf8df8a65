package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/engine/detectors"
	"github.com/triage-ai/privacy-shield/internal/schema"
	"github.com/triage-ai/privacy-shield/internal/state"
)

// Probe kinds delivered by in-page instrumentation.
const (
	ProbeStorage    = "storage"
	ProbeCanvas     = "canvas"
	ProbeHijack     = "hijack"
	ProbeCookieSync = "cookieSync"
)

var ErrUnknownProbe = errors.New("unknown probe kind")

var probeSchemas = map[string]string{
	ProbeStorage:    schema.ProbeStorage,
	ProbeCanvas:     schema.ProbeCanvas,
	ProbeHijack:     schema.ProbeHijack,
	ProbeCookieSync: schema.ProbeCookieSync,
}

// Probe is one message from a content-context probe. Payload is untrusted
// and must match the kind's schema before it touches site state.
type Probe struct {
	Kind     string          `json:"kind"`
	SiteHint string          `json:"site_hint,omitempty"`
	TabID    *int            `json:"tab_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// CanvasReport is the canvas-hook payload.
type CanvasReport struct {
	Reads    int  `json:"reads"`
	Blobs    int  `json:"blobs"`
	Measures int  `json:"measures"`
	Suspect  bool `json:"suspect"`
}

// StorageReport is the storage-enumeration payload.
type StorageReport struct {
	LocalStorageKeys   []string `json:"localStorageKeys"`
	SessionStorageKeys []string `json:"sessionStorageKeys"`
	IndexedDBDatabases []string `json:"indexedDBDatabases"`
	CacheBuckets       []string `json:"cacheBuckets"`
}

// HandleProbe records a probe message against its site. The site comes
// from SiteHint, falling back to the tab's current top site.
func (p *Pipeline) HandleProbe(ctx context.Context, probe Probe) (string, error) {
	site := ResolveSite(probe.SiteHint)
	if site == "" && probe.TabID != nil {
		site, _ = p.tabs.TopSite(*probe.TabID)
	}
	if site == "" {
		return "", ErrNoSite
	}
	name, ok := probeSchemas[probe.Kind]
	if !ok {
		return site, fmt.Errorf("%w: %q", ErrUnknownProbe, probe.Kind)
	}
	if err := schema.Validate(name, probe.Payload); err != nil {
		return site, fmt.Errorf("%s probe: %w", probe.Kind, err)
	}
	now := p.now()

	switch probe.Kind {
	case ProbeStorage:
		var r StorageReport
		if err := decodePayload(probe.Payload, &r); err != nil {
			return site, err
		}
		p.state.RecordStorageFootprint(ctx, site, state.StorageFootprint{
			LocalStorageKeys:   nonNil(r.LocalStorageKeys),
			SessionStorageKeys: nonNil(r.SessionStorageKeys),
			IndexedDBDatabases: nonNil(r.IndexedDBDatabases),
			CacheBuckets:       nonNil(r.CacheBuckets),
			UpdatedAt:          now,
		})

	case ProbeCanvas:
		var r CanvasReport
		if err := decodePayload(probe.Payload, &r); err != nil {
			return site, err
		}
		p.state.RecordCanvasSignal(ctx, site, state.CanvasSignal{
			Reads:     r.Reads,
			Blobs:     r.Blobs,
			Measures:  r.Measures,
			Suspect:   r.Suspect,
			UpdatedAt: now,
		})

	case ProbeHijack:
		var r detectors.HijackReport
		if err := decodePayload(probe.Payload, &r); err != nil {
			return site, err
		}
		a := detectors.AssessHijack(r)
		p.state.RecordHijackSignal(ctx, site, state.HijackSignal{
			Suspect:      a.Suspect,
			Indicators:   a.Indicators,
			HookScripts:  r.HookScripts,
			BeforeUnload: r.BeforeUnload,
			PopupFlood:   r.PopupFlood,
			UpdatedAt:    now,
		})

	case ProbeCookieSync:
		var matches []engine.CookieSyncMatch
		if err := decodePayload(probe.Payload, &matches); err != nil {
			return site, err
		}
		for i := range matches {
			matches[i].Site = site
			if matches[i].Time.IsZero() {
				matches[i].Time = now
			}
		}
		p.state.RecordCookieSyncMatches(ctx, site, matches)

	default:
		return site, fmt.Errorf("%w: %q", ErrUnknownProbe, probe.Kind)
	}
	return site, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode probe payload: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
