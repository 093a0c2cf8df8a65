package engine

import (
	"context"
	"time"
)

// Detector is the interface every privacy-signal detector implements.
// Implementations must respect context deadlines and return quickly.
type Detector interface {
	// Name returns the detector's unique identifier (e.g., "cookie_sync").
	Name() string

	// Category returns the signal category this detector covers.
	Category() SignalCategory

	// Detect runs the detection logic against one classified request.
	// Must respect ctx deadline. Return early if ctx is cancelled.
	Detect(ctx context.Context, req *DetectRequest) (*DetectResult, error)
}

// DetectRequest carries a classified request and the site context it was
// observed in.
type DetectRequest struct {
	Event               RequestEvent
	Cookies             []RawCookie // the top site's current cookie jar
	DeepCookieSyncCheck bool
	Now                 time.Time
}

// DetectResult is the outcome of a single detector run.
type DetectResult struct {
	Triggered bool
	Details   string
	Matches   []CookieSyncMatch
}
