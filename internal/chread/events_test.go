package chread

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestBuildFilter_Empty(t *testing.T) {
	where, args := buildFilter(ListEventsParams{})
	if where != "1 = 1" {
		t.Errorf("expected match-all clause, got %q", where)
	}
	if len(args) != 0 {
		t.Errorf("expected no args, got %d", len(args))
	}
}

func TestBuildFilter_AllFilters(t *testing.T) {
	site := "shop.example"
	etld1 := "doubleclick.net"
	yes, no := true, false
	start := time.Now().Add(-time.Hour)
	end := time.Now()

	where, args := buildFilter(ListEventsParams{
		TopSite:    &site,
		ETLD1:      &etld1,
		ThirdParty: &yes,
		Tracker:    &yes,
		Blocked:    &no,
		StartTime:  &start,
		EndTime:    &end,
	})

	for _, want := range []string{
		"top_site = @top_site",
		"etld1 = @etld1",
		"third_party = @third_party",
		"tracker = @tracker",
		"blocked = @blocked",
		"timestamp >= @start_time",
		"timestamp <= @end_time",
	} {
		if !strings.Contains(where, want) {
			t.Errorf("expected clause %q in %q", want, where)
		}
	}
	if len(args) != 7 {
		t.Errorf("expected 7 args, got %d", len(args))
	}
}

func TestSafeFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.5, 1.5},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		if got := safeFloat(tt.in); got != tt.want {
			t.Errorf("safeFloat(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
