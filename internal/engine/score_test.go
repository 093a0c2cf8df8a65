package engine

import "testing"

func TestComputeScore_Clean(t *testing.T) {
	s := ComputeScore(Metrics{})
	if s.Total != 100 {
		t.Errorf("expected 100, got %d", s.Total)
	}
	if len(s.Items) != 0 {
		t.Errorf("expected no items, got %v", s.Items)
	}
}

func TestComputeScore_FiveThirdPartyDomains(t *testing.T) {
	s := ComputeScore(Metrics{ThirdPartyDomains: 5})
	if s.Total != 95 {
		t.Errorf("expected 95, got %d", s.Total)
	}
	if len(s.Items) != 1 {
		t.Fatalf("expected a single item, got %v", s.Items)
	}
	if s.Items[0].Label != LabelThirdPartyDomains || s.Items[0].Value != -5 {
		t.Errorf("unexpected item: %+v", s.Items[0])
	}
}

func TestComputeScore_TrackerCap(t *testing.T) {
	s := ComputeScore(Metrics{TrackerDomains: 20})
	if len(s.Items) != 1 || s.Items[0].Value != -30 {
		t.Fatalf("expected tracker penalty capped at -30, got %v", s.Items)
	}
	if s.Total != 70 {
		t.Errorf("expected 70, got %d", s.Total)
	}
}

func TestComputeScore_HalfWeightRounds(t *testing.T) {
	s := ComputeScore(Metrics{FirstPartyPersistentCookies: 3})
	// 100 - 1.5 = 98.5 rounds to 99
	if s.Total != 99 {
		t.Errorf("expected 99, got %d", s.Total)
	}
	if s.Items[0].Value != -1.5 {
		t.Errorf("expected -1.5, got %v", s.Items[0].Value)
	}
}

func TestComputeScore_OrderAndClamp(t *testing.T) {
	s := ComputeScore(Metrics{
		ThirdPartyDomains:           50,
		TrackerDomains:              50,
		ThirdPartyCookies:           50,
		FirstPartyPersistentCookies: 50,
		CanvasSuspect:               true,
		CookieSyncCount:             3,
		HijackSuspect:               true,
	})
	if s.Total != 0 {
		t.Errorf("expected clamp to 0, got %d", s.Total)
	}
	want := []ScoreItem{
		{LabelThirdPartyDomains, -20},
		{LabelTrackerDomains, -30},
		{LabelThirdPartyCookies, -15},
		{LabelFirstPartyPersistent, -5},
		{LabelCanvas, -10},
		{LabelCookieSync, -15},
		{LabelHijack, -15},
	}
	if len(s.Items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(s.Items))
	}
	for i := range want {
		if s.Items[i] != want[i] {
			t.Errorf("item %d: expected %+v, got %+v", i, want[i], s.Items[i])
		}
	}
}

func TestComputeScore_AlwaysInRange(t *testing.T) {
	for n := 0; n < 60; n += 7 {
		for _, flag := range []bool{false, true} {
			s := ComputeScore(Metrics{
				ThirdPartyDomains: n, TrackerDomains: n, ThirdPartyCookies: n,
				FirstPartyPersistentCookies: n, CanvasSuspect: flag,
				CookieSyncCount: n, HijackSuspect: flag,
			})
			if s.Total < 0 || s.Total > 100 {
				t.Errorf("score out of range for n=%d flag=%v: %d", n, flag, s.Total)
			}
		}
	}
}

func BenchmarkComputeScore(b *testing.B) {
	m := Metrics{ThirdPartyDomains: 12, TrackerDomains: 4, ThirdPartyCookies: 3, CookieSyncCount: 1}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ComputeScore(m)
	}
}
