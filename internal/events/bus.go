// Package events fans a task's persisted events out to in-process
// subscribers that want to observe a run without polling the repository.
// The engine publishes only when its Deps.Bus is set; the CLI does not set
// one.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Notification is the in-process projection of one appended task event.
type Notification struct {
	TaskID  string
	Type    string
	Round   int
	Seq     int
	Payload map[string]any
	At      time.Time
}

type subscription struct {
	ch     chan Notification
	taskID string          // "" subscribes to every task
	types  map[string]bool // empty subscribes to every type
}

func (s *subscription) wants(n Notification) bool {
	if s.taskID != "" && s.taskID != n.TaskID {
		return false
	}
	if len(s.types) > 0 && !s.types[n.Type] {
		return false
	}
	return true
}

// Bus is a mutex-guarded pub/sub fan-out. Publishing never blocks: when a
// subscriber's buffer is full, the oldest buffered notification is dropped
// to make room, and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	buffer  int
	dropped atomic.Int64
	closed  bool
}

// NewBus creates a Bus whose subscriber channels buffer up to buffer
// notifications each.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 128
	}
	return &Bus{subs: make(map[*subscription]struct{}), buffer: buffer}
}

// Subscribe registers for notifications of the given types across all
// tasks; no types means all types. The returned cancel func unregisters
// the subscription and closes its channel.
func (b *Bus) Subscribe(types ...string) (<-chan Notification, func()) {
	return b.SubscribeTask("", types...)
}

// SubscribeTask registers for one task's notifications. An empty taskID
// behaves like Subscribe.
func (b *Bus) SubscribeTask(taskID string, types ...string) (<-chan Notification, func()) {
	sub := &subscription{
		ch:     make(chan Notification, b.buffer),
		taskID: taskID,
		types:  make(map[string]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers n to every matching subscriber, evicting each full
// subscriber's oldest notification rather than blocking the publisher.
func (b *Bus) Publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if !sub.wants(n) {
			continue
		}
		delivered := false
		for !delivered {
			select {
			case sub.ch <- n:
				delivered = true
			default:
				select {
				case <-sub.ch:
					b.dropped.Add(1)
				default:
				}
			}
		}
	}
}

// Dropped reports how many notifications were evicted from full subscriber
// buffers since the bus was created.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down and closes every subscriber channel. Publish
// and Subscribe become no-ops afterward.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
