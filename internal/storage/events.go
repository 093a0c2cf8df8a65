package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/triage-ai/privacy-shield/internal/engine"
)

// EventWriter is the interface for writing request events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *RequestRecord)
	Close()
}

// RequestRecord is one decided request as stored for analytics.
type RequestRecord struct {
	EventID      string
	Timestamp    time.Time
	TabID        int32
	TopSite      string
	URLPreview   string // First 500 chars
	URLHash      string // SHA256 of the full URL
	Host         string
	ETLD1        string
	ResourceType string
	ThirdParty   bool
	Tracker      bool
	Blocked      bool
	Verdict      string
	LatencyUs    float32
	Source       string // "grpc" or "http"
}

// URLPreviewLength is the max chars stored in url_preview.
const URLPreviewLength = 500

// Truncate returns the first maxLen characters (runes) of s. It never
// splits a multi-byte UTF-8 character.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// FromEvent builds the stored record for a decided request.
func FromEvent(ev engine.RequestEvent, latency time.Duration, source string) *RequestRecord {
	sum := sha256.Sum256([]byte(ev.URL))
	verdict := engine.VerdictAllow
	if ev.Blocked {
		verdict = engine.VerdictCancel
	}
	return &RequestRecord{
		EventID:      ev.ID,
		Timestamp:    ev.Time,
		TabID:        int32(ev.TabID),
		TopSite:      ev.TopSite,
		URLPreview:   Truncate(ev.URL, URLPreviewLength),
		URLHash:      hex.EncodeToString(sum[:]),
		Host:         ev.Host,
		ETLD1:        ev.ETLD1,
		ResourceType: ev.ResourceType,
		ThirdParty:   ev.ThirdParty,
		Tracker:      ev.Tracker,
		Blocked:      ev.Blocked,
		Verdict:      verdict.String(),
		LatencyUs:    float32(latency.Microseconds()),
		Source:       source,
	}
}
