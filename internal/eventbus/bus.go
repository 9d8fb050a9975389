// Package eventbus implements C11: a bounded in-memory event queue with
// write-through persistence and per-subscriber SSE-style fan-out. Its
// subscriber shape (a map of bounded channels, non-blocking publish with
// drop-on-full) generalizes internal/sse/hub.go's per-site subscriber
// map into a single global bus, since spec.md §4.11 has no per-site
// concept.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veil-scan/warden/internal/model"
)

const (
	queueCapacity      = 2000
	subscriberCapacity = 64
	heartbeatInterval  = 20 * time.Second
)

// Persister is the write-through sink for published events. A failure
// here must never drop the in-memory publish, per spec.md §4.11.
type Persister interface {
	RecordEvent(ctx context.Context, ev model.Event) (int64, error)
}

// Bus is the global bounded event queue plus subscriber fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan model.Event]struct{}

	queue     chan model.Event
	persister Persister
	logger    *slog.Logger

	dropped atomic.Int64

	done chan struct{}
}

// New creates a Bus. persister may be nil, in which case events are not
// persisted (degrades persistence, not the publish path).
func New(persister Persister, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subscribers: make(map[chan model.Event]struct{}),
		queue:       make(chan model.Event, queueCapacity),
		persister:   persister,
		logger:      logger,
		done:        make(chan struct{}),
	}
	return b
}

// Publish enqueues ev for persistence and fan-out. If the bounded queue
// is full, ev is dropped silently (at-most-once delivery), per spec.md
// §4.11's explicit backpressure behavior.
func (b *Bus) Publish(ev model.Event) {
	select {
	case b.queue <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn("eventbus: queue full, dropping event", "type", ev.Type)
	}
}

// Dropped returns the count of events dropped due to a full queue.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Subscribe registers a new fan-out subscriber. The returned cancel
// function must be called when the subscriber disconnects.
func (b *Bus) Subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberCapacity)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Heartbeat builds the synthetic heartbeat event that Run fans out every
// heartbeatInterval, so SSE clients see traffic even when nothing is
// published, per spec.md §4.11's 20s keep-alive ping.
func (b *Bus) Heartbeat() model.Event {
	return model.Event{TS: model.NowTS(), Type: "heartbeat"}
}

// Run drains the queue: it persists each event (best-effort) and fans
// it out to subscribers, then periodically injects a heartbeat. It
// blocks until ctx is canceled.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.persist(ctx, ev)
			b.fanOut(ev)
		case <-ticker.C:
			b.fanOut(b.Heartbeat())
		}
	}
}

func (b *Bus) persist(ctx context.Context, ev model.Event) {
	if b.persister == nil {
		return
	}
	if _, err := b.persister.RecordEvent(ctx, ev); err != nil {
		b.logger.Error("eventbus: persist failed, publish continues", "type", ev.Type, "error", err)
	}
}

func (b *Bus) fanOut(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("eventbus: dropped event for slow subscriber", "type", ev.Type)
		}
	}
}
