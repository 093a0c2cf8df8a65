package tabs

import (
	"sync"
	"testing"
)

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker()

	if _, ok := tr.TopSite(7); ok {
		t.Fatal("expected unknown tab before any commit")
	}

	site, changed := tr.Commit(7, TopFrameID, "https://www.shop.example/cart")
	if site != "shop.example" || !changed {
		t.Errorf("expected shop.example changed=true, got %q changed=%v", site, changed)
	}

	// Subframe navigation must not move the mapping.
	site, changed = tr.Commit(7, 3, "https://ads.doubleclick.net/frame")
	if site != "shop.example" || changed {
		t.Errorf("subframe commit changed mapping: %q changed=%v", site, changed)
	}

	// Same-site navigation stays Known without a change.
	if _, changed = tr.Commit(7, TopFrameID, "https://shop.example/checkout"); changed {
		t.Error("same-site commit should not report a change")
	}

	site, changed = tr.Commit(7, TopFrameID, "https://news.example/")
	if site != "news.example" || !changed {
		t.Errorf("expected news.example, got %q changed=%v", site, changed)
	}

	tr.Remove(7)
	if _, ok := tr.TopSite(7); ok {
		t.Error("expected tab to be absent after Remove")
	}
	if tr.Len() != 0 {
		t.Errorf("expected 0 tabs, got %d", tr.Len())
	}
}

func TestTracker_HostlessNavigationClears(t *testing.T) {
	tr := NewTracker()
	tr.Commit(1, TopFrameID, "https://shop.example/")
	tr.Commit(1, TopFrameID, "about:blank")
	if _, ok := tr.TopSite(1); ok {
		t.Error("expected mapping cleared for a hostless top-level navigation")
	}
}

func TestTracker_TabsAreIndependent(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(tab int) {
			defer wg.Done()
			tr.Commit(tab, TopFrameID, "https://shop.example/")
			tr.TopSite(tab)
		}(i)
	}
	wg.Wait()
	if tr.Len() != 50 {
		t.Errorf("expected 50 tabs, got %d", tr.Len())
	}
}
