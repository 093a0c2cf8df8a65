// Package state keeps per-site aggregates and per-tab request logs.
//
// Every read-modify-write is serialized per key (site or tab) and applied
// to an in-memory copy first, so readers never observe a partial merge and
// the request path never waits on storage. Persistence happens afterwards
// as a coalesced background flush; flush failures are dead-lettered.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/triage-ai/privacy-shield/internal/deadletter"
	"github.com/triage-ai/privacy-shield/internal/domain"
	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/ringbuf"
	"github.com/triage-ai/privacy-shield/internal/store"
	"github.com/triage-ai/privacy-shield/internal/tasks"
	"go.uber.org/zap"
)

// KV key prefixes.
const (
	EventsKeyPrefix  = "events:"
	SummaryKeyPrefix = "siteSummaries:"
)

const (
	DefaultEventLogCapacity = 400
	DefaultCookieSyncCap    = 1000
)

// Alert types recorded by the store itself.
const (
	AlertCanvas = "canvas"
	AlertHijack = "hijack"
)

// Submitter runs persistence work in the background.
type Submitter interface {
	Submit(name, key string, fn tasks.Func) bool
}

// Config tunes a Store.
type Config struct {
	EventLogCapacity int
	CookieSyncCap    int
}

// Store owns all site and tab state.
type Store struct {
	kv     store.KV
	submit Submitter // nil means flush inline
	sink   deadletter.Sink
	logger *zap.Logger

	eventCap int
	syncCap  int

	sites sync.Map // site → *entry[SiteSummary]
	tabs  sync.Map // tabID → *entry[*ringbuf.Ring[engine.RequestEvent]]
}

// entry is one key's in-memory state plus its flush bookkeeping.
type entry[T any] struct {
	mu      sync.Mutex
	loaded  bool
	closed  bool // set by ForgetTab; later writes are dropped
	val     T
	version uint64

	flushMu sync.Mutex // serializes KV writes for this key
	flushed uint64     // version last written
	pending atomic.Bool
}

// New creates a Store. submit may be nil, in which case every write is
// persisted before the mutating call returns.
func New(kv store.KV, submit Submitter, sink deadletter.Sink, cfg Config, logger *zap.Logger) *Store {
	if cfg.EventLogCapacity <= 0 {
		cfg.EventLogCapacity = DefaultEventLogCapacity
	}
	if cfg.CookieSyncCap <= 0 {
		cfg.CookieSyncCap = DefaultCookieSyncCap
	}
	return &Store{
		kv:       kv,
		submit:   submit,
		sink:     sink,
		logger:   logger,
		eventCap: cfg.EventLogCapacity,
		syncCap:  cfg.CookieSyncCap,
	}
}

func summaryKey(site string) string { return SummaryKeyPrefix + site }
func eventsKey(tabID int) string    { return EventsKeyPrefix + strconv.Itoa(tabID) }

// --- sites ---

func (s *Store) siteEntry(site string) *entry[SiteSummary] {
	if e, ok := s.sites.Load(site); ok {
		return e.(*entry[SiteSummary])
	}
	e, _ := s.sites.LoadOrStore(site, &entry[SiteSummary]{})
	return e.(*entry[SiteSummary])
}

// loadSite must be called with e.mu held.
func (s *Store) loadSite(ctx context.Context, site string, e *entry[SiteSummary]) {
	if e.loaded {
		return
	}
	e.loaded = true
	e.val = s.readSummary(ctx, site)
}

// readSummary reads the persisted summary without touching memory.
func (s *Store) readSummary(ctx context.Context, site string) SiteSummary {
	var stored SiteSummary
	err := store.GetJSON(ctx, s.kv, summaryKey(site), &stored)
	switch {
	case err == nil:
		stored.Site = site
		return stored.clone()
	case store.IsNotFound(err):
	default:
		s.logger.Warn("site summary read failed, using empty summary",
			zap.String("site", site),
			zap.Error(err),
		)
	}
	return emptySummary(site)
}

// updateSite applies fn to the site's summary under its lock and schedules
// a flush. Empty site ids are ignored.
func (s *Store) updateSite(ctx context.Context, site string, fn func(*SiteSummary)) {
	if site == "" {
		return
	}
	e := s.siteEntry(site)
	e.mu.Lock()
	s.loadSite(ctx, site, e)
	fn(&e.val)
	e.version++
	e.mu.Unlock()

	scheduleFlush(s, summaryKey(site), e, snapshotSummary)
}

// RefreshCookies replaces the site's cached cookie list wholesale. Each
// cookie's third-party flag is recomputed from its domain. Raw values are
// dropped.
func (s *Store) RefreshCookies(ctx context.Context, site string, cookies []engine.RawCookie, at time.Time) []engine.CookieRecord {
	records := make([]engine.CookieRecord, 0, len(cookies))
	for _, c := range cookies {
		cookieSite := domain.RegistrableDomain(domain.NormalizeHost(strings.TrimPrefix(c.Domain, ".")))
		records = append(records, engine.CookieRecord{
			Name:           c.Name,
			Domain:         c.Domain,
			Session:        c.Session,
			ExpirationDate: c.ExpirationDate,
			ThirdParty:     cookieSite != site,
		})
	}
	s.updateSite(ctx, site, func(sum *SiteSummary) {
		sum.Cookies = records
		sum.CookiesRefreshedAt = at
	})
	return records
}

// RecordCookieSyncMatches appends to the site's match log. The log keeps
// the newest CookieSyncCap matches; CookieSyncTotal counts every match.
func (s *Store) RecordCookieSyncMatches(ctx context.Context, site string, matches []engine.CookieSyncMatch) {
	if len(matches) == 0 {
		return
	}
	s.updateSite(ctx, site, func(sum *SiteSummary) {
		sum.CookieSync = append(sum.CookieSync, matches...)
		if over := len(sum.CookieSync) - s.syncCap; over > 0 {
			sum.CookieSync = append([]engine.CookieSyncMatch(nil), sum.CookieSync[over:]...)
		}
		sum.CookieSyncTotal += len(matches)
	})
}

// RecordCanvasSignal replaces the site's canvas snapshot. The first time a
// site turns suspect an alert is appended.
func (s *Store) RecordCanvasSignal(ctx context.Context, site string, sig CanvasSignal) {
	s.updateSite(ctx, site, func(sum *SiteSummary) {
		wasSuspect := sum.Canvas != nil && sum.Canvas.Suspect
		sum.Canvas = &sig
		if sig.Suspect && !wasSuspect {
			sum.Alerts = append(sum.Alerts, Alert{Type: AlertCanvas, Payload: sig, Time: sig.UpdatedAt})
		}
	})
}

// RecordHijackSignal replaces the site's hijack snapshot. The first time a
// site turns suspect an alert is appended.
func (s *Store) RecordHijackSignal(ctx context.Context, site string, sig HijackSignal) {
	s.updateSite(ctx, site, func(sum *SiteSummary) {
		wasSuspect := sum.Hijack != nil && sum.Hijack.Suspect
		sum.Hijack = &sig
		if sig.Suspect && !wasSuspect {
			sum.Alerts = append(sum.Alerts, Alert{Type: AlertHijack, Payload: sig.Indicators, Time: sig.UpdatedAt})
		}
	})
}

// RecordStorageFootprint replaces the site's HTML5 storage snapshot.
func (s *Store) RecordStorageFootprint(ctx context.Context, site string, fp StorageFootprint) {
	s.updateSite(ctx, site, func(sum *SiteSummary) {
		sum.HTML5 = &fp
	})
}

// RecordAlert appends a free-form alert.
func (s *Store) RecordAlert(ctx context.Context, site, kind string, payload any, at time.Time) {
	s.updateSite(ctx, site, func(sum *SiteSummary) {
		sum.Alerts = append(sum.Alerts, Alert{Type: kind, Payload: payload, Time: at})
	})
}

// Summary returns a copy of the site's aggregate, or an empty summary. It
// never creates state for a site that has not been written.
func (s *Store) Summary(ctx context.Context, site string) SiteSummary {
	if site == "" {
		return emptySummary(site)
	}
	v, ok := s.sites.Load(site)
	if !ok {
		return s.readSummary(ctx, site)
	}
	e := v.(*entry[SiteSummary])
	e.mu.Lock()
	defer e.mu.Unlock()
	s.loadSite(ctx, site, e)
	return e.val.clone()
}

// Sites returns every known site summary, persisted or in memory, sorted
// by site id.
func (s *Store) Sites(ctx context.Context) ([]SiteSummary, error) {
	keys, err := s.kv.Keys(ctx, SummaryKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("Sites: %w", err)
	}
	names := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		names[strings.TrimPrefix(k, SummaryKeyPrefix)] = struct{}{}
	}
	s.sites.Range(func(k, _ any) bool {
		names[k.(string)] = struct{}{}
		return true
	})

	sorted := make([]string, 0, len(names))
	for n := range names {
		if n != "" {
			sorted = append(sorted, n)
		}
	}
	sort.Strings(sorted)

	out := make([]SiteSummary, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, s.Summary(ctx, n))
	}
	return out, nil
}

// --- tabs ---

type tabEntry = entry[*ringbuf.Ring[engine.RequestEvent]]

func (s *Store) tabEntry(tabID int) *tabEntry {
	if e, ok := s.tabs.Load(tabID); ok {
		return e.(*tabEntry)
	}
	e, _ := s.tabs.LoadOrStore(tabID, &tabEntry{})
	return e.(*tabEntry)
}

// loadTab must be called with e.mu held.
func (s *Store) loadTab(ctx context.Context, tabID int, e *tabEntry) {
	if e.loaded {
		return
	}
	e.loaded = true
	e.val = ringbuf.From(s.eventCap, s.readEvents(ctx, tabID))
}

// readEvents reads the persisted log without touching memory.
func (s *Store) readEvents(ctx context.Context, tabID int) []engine.RequestEvent {
	var stored []engine.RequestEvent
	err := store.GetJSON(ctx, s.kv, eventsKey(tabID), &stored)
	if err != nil {
		if !store.IsNotFound(err) {
			s.logger.Warn("event log read failed, starting empty",
				zap.Int("tab_id", tabID),
				zap.Error(err),
			)
		}
		return nil
	}
	return stored
}

// AppendEvent appends ev to the tab's bounded log. Calls for the same tab
// are applied in call order; the oldest event is evicted on overflow.
// Events that arrive while the tab is being forgotten are dropped.
func (s *Store) AppendEvent(ctx context.Context, tabID int, ev engine.RequestEvent) {
	e := s.tabEntry(tabID)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		s.logger.Debug("event for closed tab dropped", zap.Int("tab_id", tabID))
		return
	}
	s.loadTab(ctx, tabID, e)
	e.val.Push(ev)
	e.version++
	e.mu.Unlock()

	scheduleFlush(s, eventsKey(tabID), e, snapshotEvents)
}

// Events returns the tab's log, oldest first. Like Summary it is a pure
// read.
func (s *Store) Events(ctx context.Context, tabID int) []engine.RequestEvent {
	v, ok := s.tabs.Load(tabID)
	if !ok {
		return ringbuf.From(s.eventCap, s.readEvents(ctx, tabID)).Items()
	}
	e := v.(*tabEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.loadTab(ctx, tabID, e)
	return e.val.Items()
}

// TabLogs returns every known tab log keyed by tab id.
func (s *Store) TabLogs(ctx context.Context) (map[int][]engine.RequestEvent, error) {
	keys, err := s.kv.Keys(ctx, EventsKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("TabLogs: %w", err)
	}
	ids := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		id, err := strconv.Atoi(strings.TrimPrefix(k, EventsKeyPrefix))
		if err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	s.tabs.Range(func(k, _ any) bool {
		ids[k.(int)] = struct{}{}
		return true
	})

	out := make(map[int][]engine.RequestEvent, len(ids))
	for id := range ids {
		out[id] = s.Events(ctx, id)
	}
	return out, nil
}

// ForgetTab drops the tab's in-memory log. The persisted copy stays in the
// KV store and is reloaded on the next read. The entry is closed before the
// final flush and removed only after it, so a late append can neither
// overwrite the flushed log nor recreate the entry from a stale read.
func (s *Store) ForgetTab(tabID int) {
	v, ok := s.tabs.Load(tabID)
	if !ok {
		return
	}
	e := v.(*tabEntry)
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	if err := flushEntry(context.Background(), s, eventsKey(tabID), e, snapshotEvents); err != nil {
		s.logger.Warn("state flush failed", zap.String("key", eventsKey(tabID)), zap.Error(err))
		s.sink.Record(deadletter.New("state.flush", eventsKey(tabID), err))
	}
	s.tabs.CompareAndDelete(tabID, e)
}

// --- persistence ---

// Flush synchronously persists every entry with unwritten changes. It is
// used on shutdown after background workers have stopped.
func (s *Store) Flush(ctx context.Context) error {
	var errs []error
	s.sites.Range(func(k, v any) bool {
		if err := flushEntry(ctx, s, summaryKey(k.(string)), v.(*entry[SiteSummary]), snapshotSummary); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	s.tabs.Range(func(k, v any) bool {
		if err := flushEntry(ctx, s, eventsKey(k.(int)), v.(*tabEntry), snapshotEvents); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

func snapshotSummary(v SiteSummary) any { return v.clone() }

func snapshotEvents(r *ringbuf.Ring[engine.RequestEvent]) any { return r.Items() }

// scheduleFlush queues at most one pending flush per entry. Writes that land
// while a flush is queued are picked up by it, since the flush snapshots the
// entry only when it runs.
func scheduleFlush[T any](s *Store, key string, e *entry[T], snap func(T) any) {
	if s.submit == nil {
		if err := flushEntry(context.Background(), s, key, e, snap); err != nil {
			s.logger.Warn("state flush failed", zap.String("key", key), zap.Error(err))
			s.sink.Record(deadletter.New("state.flush", key, err))
		}
		return
	}
	if !e.pending.CompareAndSwap(false, true) {
		return
	}
	ok := s.submit.Submit("state_flush", key, func(ctx context.Context) error {
		return flushEntry(ctx, s, key, e, snap)
	})
	if !ok {
		// The dispatcher already dead-lettered the dropped flush; the next
		// write to this key schedules a new one.
		e.pending.Store(false)
	}
}

// flushEntry writes the entry's current value unless a newer or equal
// version is already persisted.
func flushEntry[T any](ctx context.Context, s *Store, key string, e *entry[T], snap func(T) any) error {
	e.pending.Store(false)

	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return nil
	}
	version := e.version
	v := snap(e.val)
	e.mu.Unlock()

	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	if version <= e.flushed {
		return nil
	}
	if err := store.SetJSON(ctx, s.kv, key, v); err != nil {
		return fmt.Errorf("flush %s: %w", key, err)
	}
	e.flushed = version
	return nil
}
