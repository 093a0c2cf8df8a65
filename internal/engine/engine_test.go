package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubDetector struct {
	name   string
	delay  time.Duration
	result *DetectResult
	err    error
}

func (s *stubDetector) Name() string             { return s.name }
func (s *stubDetector) Category() SignalCategory { return CategoryCookieSync }
func (s *stubDetector) Detect(ctx context.Context, _ *DetectRequest) (*DetectResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestSignalEngine_CollectsResults(t *testing.T) {
	match := CookieSyncMatch{Site: "shop.example", CookieName: "uid", Kind: MatchHash}
	e := NewSignalEngine([]Detector{
		&stubDetector{name: "a", result: &DetectResult{Triggered: true, Matches: []CookieSyncMatch{match}}},
		&stubDetector{name: "b", result: &DetectResult{}},
		&stubDetector{name: "c", err: errors.New("broken")},
		&stubDetector{name: "d"},
	}, time.Second, zap.NewNop())

	results, _ := e.Evaluate(context.Background(), &DetectRequest{})
	if len(results) != 3 {
		t.Fatalf("expected 3 results (nil result dropped), got %d", len(results))
	}
	for _, r := range results {
		if r.Detector == "c" && (r.Triggered || r.Details == "") {
			t.Errorf("errored detector should be untriggered with details, got %+v", r)
		}
	}
	if got := CookieSyncMatches(results); len(got) != 1 || got[0] != match {
		t.Errorf("expected the single match, got %v", got)
	}
}

func TestSignalEngine_TimeoutReturnsPartial(t *testing.T) {
	e := NewSignalEngine([]Detector{
		&stubDetector{name: "fast", result: &DetectResult{Triggered: true}},
		&stubDetector{name: "slow", delay: time.Second, result: &DetectResult{Triggered: true}},
	}, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	results, _ := e.Evaluate(context.Background(), &DetectRequest{})
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Evaluate should return shortly after the timeout")
	}
	for _, r := range results {
		if r.Detector == "slow" && r.Triggered {
			t.Error("slow detector result should not be collected")
		}
	}
	if len(results) == 0 || results[0].Detector != "fast" {
		t.Errorf("expected fast detector result, got %+v", results)
	}
}
