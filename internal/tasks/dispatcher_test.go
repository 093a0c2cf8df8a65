package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/triage-ai/privacy-shield/internal/deadletter"
	"go.uber.org/zap"
)

type memSink struct {
	mu      sync.Mutex
	letters []deadletter.Letter
}

func (m *memSink) Record(l deadletter.Letter) {
	m.mu.Lock()
	m.letters = append(m.letters, l)
	m.mu.Unlock()
}
func (m *memSink) Close() {}

func (m *memSink) sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.letters))
	for i, l := range m.letters {
		out[i] = l.Source
	}
	return out
}

func TestDispatcher_RunsTasks(t *testing.T) {
	d := NewDispatcher(Config{Workers: 3, QueueSize: 100}, &memSink{}, zap.NewNop())
	var n atomic.Int32
	for i := 0; i < 50; i++ {
		if !d.Submit("count", "", func(context.Context) error { n.Add(1); return nil }) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	d.Close()
	if n.Load() != 50 {
		t.Errorf("expected 50 runs, got %d", n.Load())
	}
	if s := d.Stats(); s.Completed != 50 || s.Submitted != 50 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestDispatcher_FailuresAndPanicsAreDeadLettered(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Config{Workers: 1, QueueSize: 10}, sink, zap.NewNop())
	d.Submit("fail", "k1", func(context.Context) error { return errors.New("nope") })
	d.Submit("boom", "k2", func(context.Context) error { panic("kaboom") })
	d.Close()

	got := sink.sources()
	if len(got) != 2 || got[0] != "tasks.fail" || got[1] != "tasks.boom" {
		t.Errorf("expected two dead letters, got %v", got)
	}
	if d.Stats().Failed != 2 {
		t.Errorf("expected failed=2, got %d", d.Stats().Failed)
	}
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1}, sink, zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	d.Submit("block", "", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	d.Submit("queued", "", func(context.Context) error { return nil })
	if d.Submit("overflow", "", func(context.Context) error { return nil }) {
		t.Error("expected submit to fail on a full queue")
	}
	close(release)
	d.Close()

	if d.Stats().Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", d.Stats().Dropped)
	}
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Config{}, sink, zap.NewNop())
	d.Close()
	d.Close()
	if d.Submit("late", "", func(context.Context) error { return nil }) {
		t.Error("expected submit after close to fail")
	}
	if len(sink.sources()) != 1 {
		t.Error("expected the dropped task to be dead-lettered")
	}
}

func TestDispatcher_TaskTimeout(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Config{Workers: 1, Timeout: 20 * time.Millisecond}, sink, zap.NewNop())
	d.Submit("slow", "", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d.Close()
	if d.Stats().Failed != 1 {
		t.Errorf("expected timed-out task to count as failed, got %+v", d.Stats())
	}
}
