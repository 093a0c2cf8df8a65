package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/privacy-shield/internal/domain"
)

// Classify turns an intercepted request into a RequestEvent relative to
// topSite. It has no side effects; Tracker and Blocked are left false for
// the caller to fill in after the rule decision.
func Classify(raw RawRequest, topSite string, now time.Time) RequestEvent {
	host := domain.Host(raw.URL)
	etld1 := domain.RegistrableDomain(host)
	return RequestEvent{
		ID:           uuid.NewString(),
		TabID:        raw.TabID,
		TopSite:      topSite,
		URL:          raw.URL,
		Host:         host,
		ETLD1:        etld1,
		ResourceType: raw.ResourceType,
		ThirdParty:   domain.IsThirdParty(topSite, etld1),
		Time:         now,
	}
}
