// Package events fans firefly events out to observers.
// Publishing never blocks the scheduler: each subscriber receives events on
// its own goroutine, in publish order.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kelindar/event"

	"github.com/sweeney/fireflies/internal/logic"
)

// Event type constants for kelindar/event.
const (
	TypeFirefly uint32 = iota + 1
)

// FireflyEvent wraps a logic.Event for the dispatcher.
type FireflyEvent struct {
	logic.Event
}

// Type returns the event type identifier for FireflyEvent.
func (e FireflyEvent) Type() uint32 { return TypeFirefly }

// Bus wraps kelindar/event dispatcher for firefly events.
type Bus struct {
	dispatcher *event.Dispatcher

	mu      sync.Mutex // orders Emit against Subscribe so pending stays exact
	subs    int
	pending atomic.Int64 // deliveries queued but not yet handled
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Emit publishes ev to all subscribers. It satisfies scheduler.Sink.
func (b *Bus) Emit(ev logic.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.Add(int64(b.subs))
	event.Publish(b.dispatcher, FireflyEvent{Event: ev})
}

// Subscribe registers handler for every future event and returns a function
// that unsubscribes it.
func (b *Bus) Subscribe(handler func(logic.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs++
	cancel := event.Subscribe(b.dispatcher, func(e FireflyEvent) {
		defer b.pending.Add(-1)
		handler(e.Event)
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs--
			b.mu.Unlock()
			cancel()
		})
	}
}

// Pending returns the number of deliveries not yet handled.
func (b *Bus) Pending() int64 {
	return b.pending.Load()
}

// Drain blocks until every event emitted so far has been handled by every
// subscriber, or ctx is done. Events dropped by an unsubscribe while still
// queued are never handled, so drain before unsubscribing.
func (b *Bus) Drain(ctx context.Context) error {
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for b.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}
