// Package events provides typed change notifications for the message store.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Kind identifies what changed.
type Kind string

const (
	// KindLoaded means a page was appended to a partition.
	KindLoaded Kind = "loaded"
	// KindPublished means a pushed message was head-inserted.
	KindPublished Kind = "published"
	// KindRemoved means a message left the visible lists.
	KindRemoved Kind = "removed"
	// KindRestored means a removed message was put back.
	KindRestored Kind = "restored"
	// KindCleared means a partition was reset to the unloaded baseline.
	KindCleared Kind = "cleared"
)

// Event describes a single store mutation.
type Event struct {
	Kind Kind

	// Partitions lists every partition whose list changed.
	Partitions []int64

	// MessageID is set for published, removed and restored events.
	MessageID int64

	// Version is the store version after the mutation.
	Version uint64
}

// Touches reports whether the event changed partition.
func (e Event) Touches(partition int64) bool {
	for _, p := range e.Partitions {
		if p == partition {
			return true
		}
	}
	return false
}

// Handler is invoked for every matching event.
type Handler func(Event)

// Filter defines criteria for matching events.
type Filter struct {
	// Kinds filters by event kind (nil = all kinds).
	Kinds []Kind

	// Partition filters to events touching one partition (nil = all).
	Partition *int64
}

// Matches returns true if the event matches the filter criteria.
func (f Filter) Matches(event Event) bool {
	if len(f.Kinds) > 0 {
		matched := false
		for _, k := range f.Kinds {
			if event.Kind == k {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.Partition != nil && !event.Touches(*f.Partition) {
		return false
	}

	return true
}

type subscription struct {
	filter  Filter
	handler Handler
}

// Bus is an in-process event fan-out. Handlers run synchronously on the
// publishing goroutine, outside the bus lock, in subscription order.
type Bus struct {
	mu    sync.RWMutex
	order []string
	subs  map[string]*subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscription)}
}

// Publish sends an event to all matching subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	var handlers []Handler
	for _, id := range b.order {
		sub := b.subs[id]
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	// Invoke handlers outside the lock so they can call back into the store.
	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers handler. The returned func is safe to call more
// than once.
func (b *Bus) Subscribe(filter Filter, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = &subscription{filter: filter, handler: handler}
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	for i, existing := range b.order {
		if existing == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]*subscription)
	b.order = nil
}

// Partition returns a pointer for use in Filter.Partition.
func Partition(id int64) *int64 {
	return &id
}
