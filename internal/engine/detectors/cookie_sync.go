package detectors

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/triage-ai/privacy-shield/internal/engine"
)

// CookieSyncDetector looks for the top site's cookie values, or their SHA-1
// digests, among the parameters of a third-party request.
//
// Values are compared by digest, so a literal cookie value in a parameter is
// reported as a hash match unless DeepCookieSyncCheck asks for raw matching.
// A parameter carrying the hex digest itself is also a hash match.
type CookieSyncDetector struct{}

func NewCookieSyncDetector() *CookieSyncDetector {
	return &CookieSyncDetector{}
}

func (d *CookieSyncDetector) Name() string {
	return "cookie_sync"
}

func (d *CookieSyncDetector) Category() engine.SignalCategory {
	return engine.CategoryCookieSync
}

func (d *CookieSyncDetector) Detect(ctx context.Context, req *engine.DetectRequest) (*engine.DetectResult, error) {
	ev := req.Event
	if !ev.ThirdParty || len(req.Cookies) == 0 {
		return &engine.DetectResult{}, nil
	}
	candidates := ParamValues(ev.URL)
	if len(candidates) == 0 {
		return &engine.DetectResult{}, nil
	}

	// Candidate digests are computed once and shared across cookies.
	digests := make([]string, len(candidates))
	for i, v := range candidates {
		digests[i] = sha1Hex(v)
	}

	var matches []engine.CookieSyncMatch
	for _, c := range req.Cookies {
		if ctx.Err() != nil {
			break
		}
		cookieDigest := sha1Hex(c.Value)
		for i, v := range candidates {
			var kind engine.MatchKind
			switch {
			case req.DeepCookieSyncCheck && v == c.Value:
				kind = engine.MatchRaw
			case digests[i] == cookieDigest, strings.EqualFold(v, cookieDigest):
				kind = engine.MatchHash
			default:
				continue
			}
			matches = append(matches, engine.CookieSyncMatch{
				Site:       ev.TopSite,
				CookieName: c.Name,
				Recipient:  ev.Host,
				Kind:       kind,
				Time:       req.Now,
			})
			break
		}
	}

	if len(matches) == 0 {
		return &engine.DetectResult{}, nil
	}
	return &engine.DetectResult{
		Triggered: true,
		Details:   "cookie values shared with " + ev.Host,
		Matches:   matches,
	}, nil
}

// ParamValues returns every non-empty query parameter value of rawURL
// followed by the values of "key=value" segments in its fragment. Malformed
// URLs yield nothing.
func ParamValues(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var out []string
	// Walk the raw query so values keep their order in the URL.
	for _, pair := range strings.Split(u.RawQuery, "&") {
		_, raw, ok := strings.Cut(pair, "=")
		if !ok || raw == "" {
			continue
		}
		v, err := url.QueryUnescape(raw)
		if err != nil || v == "" {
			continue
		}
		out = append(out, v)
	}
	for _, seg := range strings.Split(u.Fragment, "&") {
		_, v, ok := strings.Cut(seg, "=")
		if ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
