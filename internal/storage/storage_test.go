package storage

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/triage-ai/privacy-shield/internal/engine"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"long", "abcdefgh", 3, "abc"},
		{"multibyte", "ééééé", 2, "éé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFromEvent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := engine.RequestEvent{
		ID:           "ev-1",
		TabID:        7,
		TopSite:      "shop.example",
		URL:          "https://ads.doubleclick.net/p?" + strings.Repeat("x", 1000),
		Host:         "ads.doubleclick.net",
		ETLD1:        "doubleclick.net",
		ResourceType: "script",
		ThirdParty:   true,
		Tracker:      true,
		Blocked:      true,
		Time:         now,
	}

	rec := FromEvent(ev, 1500*time.Microsecond, "grpc")

	if rec.Verdict != "cancel" {
		t.Errorf("expected verdict cancel, got %s", rec.Verdict)
	}
	if len(rec.URLPreview) != URLPreviewLength {
		t.Errorf("expected preview length %d, got %d", URLPreviewLength, len(rec.URLPreview))
	}
	if len(rec.URLHash) != 64 {
		t.Errorf("expected 64-char sha256 hex, got %d", len(rec.URLHash))
	}
	if rec.LatencyUs != 1500 {
		t.Errorf("expected latency 1500us, got %v", rec.LatencyUs)
	}
	if rec.TabID != 7 || rec.TopSite != "shop.example" || !rec.Timestamp.Equal(now) {
		t.Errorf("unexpected identity fields: %+v", rec)
	}

	ev.Blocked = false
	if got := FromEvent(ev, 0, "http").Verdict; got != "allow" {
		t.Errorf("expected verdict allow, got %s", got)
	}
}

func TestLogWriter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := NewLogWriter(zap.New(core))

	w.Write(&RequestRecord{EventID: "ev-1", TopSite: "shop.example", Host: "cdn.example", Verdict: "allow"})
	w.Close()

	entries := logs.FilterMessage("request_event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event_id"] != "ev-1" {
		t.Errorf("expected event_id ev-1, got %v", fields["event_id"])
	}
	if fields["host"] != "cdn.example" {
		t.Errorf("expected host cdn.example, got %v", fields["host"])
	}
}
