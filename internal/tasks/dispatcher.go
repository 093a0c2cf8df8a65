// Package tasks runs fire-and-forget background work on a bounded worker
// pool. Failures are reported to a dead-letter sink instead of the caller.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/triage-ai/privacy-shield/internal/deadletter"
	"go.uber.org/zap"
)

// Func is one unit of background work.
type Func func(ctx context.Context) error

type task struct {
	name string
	key  string
	fn   Func
}

// Config sizes a Dispatcher.
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per task
}

// Stats are cumulative dispatcher counters.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Completed uint64 `json:"completed"`
}

// Dispatcher executes submitted tasks on a fixed set of workers.
type Dispatcher struct {
	queue   chan task
	timeout time.Duration
	sink    deadletter.Sink
	logger  *zap.Logger

	mu     sync.RWMutex // guards closed against concurrent Submit/Close
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	completed atomic.Uint64
}

// NewDispatcher starts cfg.Workers workers.
func NewDispatcher(cfg Config, sink deadletter.Sink, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		queue:   make(chan task, cfg.QueueSize),
		timeout: cfg.Timeout,
		sink:    sink,
		logger:  logger,
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	return d
}

// Submit queues fn without blocking. When the queue is full or the
// dispatcher is closed the task is dropped, dead-lettered, and false is
// returned.
func (d *Dispatcher) Submit(name, key string, fn Func) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(name, key, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- task{name: name, key: key, fn: fn}:
		d.submitted.Add(1)
		return true
	default:
		d.drop(name, key, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(name, key, reason string) {
	d.dropped.Add(1)
	l := deadletter.New("tasks."+name, key, fmt.Errorf("task dropped: %s", reason))
	d.sink.Record(l)
}

// Close stops accepting tasks, runs everything already queued, and waits.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
		Completed: d.completed.Load(),
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.queue {
		d.run(t)
	}
}

func (d *Dispatcher) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.fn(ctx)
	}()

	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("background task failed",
			zap.String("task", t.name),
			zap.String("key", t.key),
			zap.Error(err),
		)
		d.sink.Record(deadletter.New("tasks."+t.name, t.key, err))
		return
	}
	d.completed.Add(1)
}
