package transport

import (
	"sort"
	"sync"
	"time"
)

type listener struct {
	handler Handler
	types   map[EventType]struct{}
}

func (l listener) accepts(t EventType) bool {
	if len(l.types) == 0 {
		return true
	}
	_, ok := l.types[t]
	return ok
}

// Listeners is a registry of event handlers shared by the backends.
// Handlers are invoked outside the registry lock, in registration order.
type Listeners struct {
	mu      sync.RWMutex
	next    uint64
	entries map[uint64]listener
}

// NewListeners creates an empty registry
func NewListeners() *Listeners {
	return &Listeners{entries: make(map[uint64]listener)}
}

// Add registers handler for the given event types (all types when none are given).
func (l *Listeners) Add(handler Handler, types ...EventType) Unsubscribe {
	entry := listener{handler: handler}
	if len(types) > 0 {
		entry.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			entry.types[t] = struct{}{}
		}
	}

	l.mu.Lock()
	l.next++
	id := l.next
	l.entries[id] = entry
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.entries, id)
			l.mu.Unlock()
		})
	}
}

// Dispatch delivers ev to every handler accepting its type.
func (l *Listeners) Dispatch(ev Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	l.mu.RLock()
	ids := make([]uint64, 0, len(l.entries))
	for id, entry := range l.entries {
		if entry.accepts(ev.Type) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, l.entries[id].handler)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Len returns the number of live registrations.
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Reset drops every registration. Previously returned Unsubscribe funcs stay safe to call.
func (l *Listeners) Reset() {
	l.mu.Lock()
	l.entries = make(map[uint64]listener)
	l.mu.Unlock()
}
