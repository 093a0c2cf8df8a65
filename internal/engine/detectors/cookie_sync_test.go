package detectors

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/triage-ai/privacy-shield/internal/engine"
)

func syncRequest(url string, deep bool, cookies ...engine.RawCookie) *engine.DetectRequest {
	return &engine.DetectRequest{
		Event: engine.RequestEvent{
			TopSite:    "shop.example",
			URL:        url,
			Host:       "tracker.example",
			ETLD1:      "tracker.example",
			ThirdParty: true,
		},
		Cookies:             cookies,
		DeepCookieSyncCheck: deep,
		Now:                 time.Unix(1_700_000_000, 0),
	}
}

func TestCookieSyncDetector_RawMatch(t *testing.T) {
	d := NewCookieSyncDetector()
	req := syncRequest("https://tracker.example/pixel?id=abc123", true,
		engine.RawCookie{Name: "uid", Value: "abc123"})

	result, err := d.Detect(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Triggered || len(result.Matches) != 1 {
		t.Fatalf("expected one match, got %+v", result)
	}
	m := result.Matches[0]
	if m.Kind != engine.MatchRaw || m.CookieName != "uid" || m.Recipient != "tracker.example" || m.Site != "shop.example" {
		t.Errorf("unexpected match: %+v", m)
	}
	if !m.Time.Equal(req.Now) {
		t.Errorf("expected match time %v, got %v", req.Now, m.Time)
	}
}

func TestCookieSyncDetector_HashMatch(t *testing.T) {
	d := NewCookieSyncDetector()
	req := syncRequest("https://tracker.example/pixel?id="+sha1Hex("abc123"), false,
		engine.RawCookie{Name: "uid", Value: "abc123"})

	result, _ := d.Detect(context.Background(), req)
	if len(result.Matches) != 1 || result.Matches[0].Kind != engine.MatchHash {
		t.Fatalf("expected one hash match, got %+v", result.Matches)
	}
}

func TestCookieSyncDetector_LiteralWithoutDeepCheckIsHash(t *testing.T) {
	d := NewCookieSyncDetector()
	req := syncRequest("https://tracker.example/pixel?id=abc123", false,
		engine.RawCookie{Name: "uid", Value: "abc123"})

	result, _ := d.Detect(context.Background(), req)
	if len(result.Matches) != 1 || result.Matches[0].Kind != engine.MatchHash {
		t.Errorf("expected a hash match without deep check, got %+v", result.Matches)
	}
}

func TestCookieSyncDetector_NoMatch(t *testing.T) {
	d := NewCookieSyncDetector()
	req := syncRequest("https://tracker.example/pixel?id=something-else&cb=123", true,
		engine.RawCookie{Name: "uid", Value: "abc123"})

	result, _ := d.Detect(context.Background(), req)
	if result.Triggered || len(result.Matches) != 0 {
		t.Errorf("expected no matches, got %+v", result.Matches)
	}
}

func TestCookieSyncDetector_OneMatchPerCookie(t *testing.T) {
	d := NewCookieSyncDetector()
	url := "https://tracker.example/p?a=abc123&b=abc123#x=abc123"
	req := syncRequest(url, true,
		engine.RawCookie{Name: "uid", Value: "abc123"},
		engine.RawCookie{Name: "other", Value: "zzz"})

	result, _ := d.Detect(context.Background(), req)
	if len(result.Matches) != 1 {
		t.Fatalf("expected a single match for uid, got %+v", result.Matches)
	}
}

func TestCookieSyncDetector_FragmentValues(t *testing.T) {
	d := NewCookieSyncDetector()
	req := syncRequest("https://tracker.example/p#sync="+sha1Hex("v-42")+"&junk", false,
		engine.RawCookie{Name: "sid", Value: "v-42"})

	result, _ := d.Detect(context.Background(), req)
	if len(result.Matches) != 1 || result.Matches[0].CookieName != "sid" {
		t.Fatalf("expected fragment match, got %+v", result.Matches)
	}
}

func TestCookieSyncDetector_SkipsFirstParty(t *testing.T) {
	d := NewCookieSyncDetector()
	req := syncRequest("https://tracker.example/pixel?id=abc123", true,
		engine.RawCookie{Name: "uid", Value: "abc123"})
	req.Event.ThirdParty = false

	result, _ := d.Detect(context.Background(), req)
	if result.Triggered {
		t.Error("first-party requests must not be checked")
	}
}

func TestParamValues(t *testing.T) {
	tests := []struct {
		url  string
		want []string
	}{
		{"https://t.example/p?a=1&b=&c=x%20y", []string{"1", "x y"}},
		{"https://t.example/p#k=v&bad&e=", []string{"v"}},
		{"https://t.example/p?a=1#b=2", []string{"1", "2"}},
		{"https://t.example/p", nil},
		{"::bad::", nil},
	}
	for _, tt := range tests {
		if got := ParamValues(tt.url); !slices.Equal(got, tt.want) {
			t.Errorf("ParamValues(%q) = %v, expected %v", tt.url, got, tt.want)
		}
	}
}

func BenchmarkCookieSyncDetector(b *testing.B) {
	d := NewCookieSyncDetector()
	cookies := []engine.RawCookie{
		{Name: "a", Value: "1"}, {Name: "b", Value: "2"}, {Name: "c", Value: "3"},
		{Name: "d", Value: "4"}, {Name: "e", Value: "5"},
	}
	req := syncRequest("https://tracker.example/p?x=9&y=8&z=7&w=6", false, cookies...)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		d.Detect(ctx, req)
	}
}
