package rules

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/triage-ai/privacy-shield/internal/store"
	"go.uber.org/zap"
)

// StorageKey is the KV key holding the user rule set.
const StorageKey = "rules:user"

var (
	ErrInvalidPattern = errors.New("invalid pattern")
	ErrUnknownList    = errors.New("unknown list")
)

// Store persists the RuleSet and publishes compiled snapshots.
//
// Reads (Current) are a single atomic load. Writes are serialized by mu and
// follow persist-then-publish: a snapshot only becomes visible after the KV
// accepted it, so a decision never runs against a write that was not
// acknowledged. A failed persist leaves the previous snapshot in place.
type Store struct {
	kv     store.KV
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewStore creates a Store serving Default() until Load is called.
func NewStore(kv store.KV, logger *zap.Logger) *Store {
	s := &Store{kv: kv, logger: logger, now: time.Now}
	s.current.Store(compile(Default(), logger))
	return s
}

// Load reads the persisted rule set and publishes it. A missing key or a
// failed read yields the default configuration.
func (s *Store) Load(ctx context.Context) RuleSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := Default()
	var stored RuleSet
	err := store.GetJSON(ctx, s.kv, StorageKey, &stored)
	switch {
	case err == nil:
		rs = stored
	case store.IsNotFound(err):
	default:
		s.logger.Warn("rule set read failed, using defaults", zap.Error(err))
	}
	rs.normalize()
	s.current.Store(compile(rs, s.logger))
	return rs.Clone()
}

// Current returns the latest committed snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Save replaces the rule set.
func (s *Store) Save(ctx context.Context, rs RuleSet) error {
	_, err := s.Update(ctx, func(cur *RuleSet) error {
		*cur = rs.Clone()
		return nil
	})
	return err
}

// Update applies fn to a copy of the current rule set, persists the result,
// and publishes it. If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(*RuleSet) error) (RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.current.Load().rules.Clone()
	if err := fn(&rs); err != nil {
		return RuleSet{}, err
	}
	rs.normalize()
	if err := store.SetJSON(ctx, s.kv, StorageKey, rs); err != nil {
		return RuleSet{}, fmt.Errorf("Update: %w", err)
	}
	s.current.Store(compile(rs, s.logger))
	return rs.Clone(), nil
}

// SetEnabled switches blocking on or off globally.
func (s *Store) SetEnabled(ctx context.Context, enabled bool) error {
	_, err := s.Update(ctx, func(rs *RuleSet) error {
		rs.Enabled = enabled
		return nil
	})
	return err
}

// SetDeepCookieSyncCheck toggles raw-value cookie comparison.
func (s *Store) SetDeepCookieSyncCheck(ctx context.Context, on bool) error {
	_, err := s.Update(ctx, func(rs *RuleSet) error {
		rs.DeepCookieSyncCheck = on
		return nil
	})
	return err
}

// ToggleSiteDisabled flips the per-site disable and returns the new state.
func (s *Store) ToggleSiteDisabled(ctx context.Context, site string) (bool, error) {
	var disabled bool
	_, err := s.Update(ctx, func(rs *RuleSet) error {
		if i := slices.Index(rs.Site.Disabled, site); i >= 0 {
			rs.Site.Disabled = slices.Delete(rs.Site.Disabled, i, i+1)
			disabled = false
			return nil
		}
		rs.Site.Disabled = append(rs.Site.Disabled, site)
		sort.Strings(rs.Site.Disabled)
		disabled = true
		return nil
	})
	return disabled, err
}

// ToggleTempAllow cancels an unexpired temporary allow for site, or starts
// a new one lasting d (DefaultTempAllow when d <= 0). It returns the new
// expiry and whether an allow is now active.
func (s *Store) ToggleTempAllow(ctx context.Context, site string, d time.Duration) (time.Time, bool, error) {
	if d <= 0 {
		d = DefaultTempAllow
	}
	var (
		until  time.Time
		active bool
	)
	_, err := s.Update(ctx, func(rs *RuleSet) error {
		now := s.now()
		if cur, ok := rs.Site.TempAllows[site]; ok && now.Before(cur) {
			delete(rs.Site.TempAllows, site)
			return nil
		}
		if rs.Site.TempAllows == nil {
			rs.Site.TempAllows = make(map[string]time.Time)
		}
		until = now.Add(d)
		active = true
		rs.Site.TempAllows[site] = until
		return nil
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return until, active, nil
}

// AddPattern appends pattern to the named list unless already present.
func (s *Store) AddPattern(ctx context.Context, kind ListKind, pattern string) error {
	if err := validatePattern(kind, pattern); err != nil {
		return err
	}
	_, err := s.Update(ctx, func(rs *RuleSet) error {
		list := rs.List(kind)
		if list == nil {
			return fmt.Errorf("%w: %s", ErrUnknownList, kind)
		}
		if !slices.Contains(*list, pattern) {
			*list = append(*list, pattern)
		}
		return nil
	})
	return err
}

// RemovePattern deletes pattern from the named list. Removing an absent
// pattern is not an error.
func (s *Store) RemovePattern(ctx context.Context, kind ListKind, pattern string) error {
	_, err := s.Update(ctx, func(rs *RuleSet) error {
		list := rs.List(kind)
		if list == nil {
			return fmt.Errorf("%w: %s", ErrUnknownList, kind)
		}
		*list = slices.DeleteFunc(*list, func(p string) bool { return p == pattern })
		return nil
	})
	return err
}

// AddRule parses free-form rule input and adds it to the matching list.
func (s *Store) AddRule(ctx context.Context, input string) (Rule, error) {
	r, err := ParseRuleInput(input)
	if err != nil {
		return Rule{}, err
	}
	return r, s.AddPattern(ctx, r.Kind, r.Pattern)
}

func sortedListNames(lists map[string]CustomList) []string {
	names := make([]string, 0, len(lists))
	for n := range lists {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
