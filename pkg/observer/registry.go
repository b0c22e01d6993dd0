// Package observer is a small event registry: event name to an ordered list
// of handlers. Notification is synchronous and in subscription order.
package observer

import (
	"sync"
)

type Handler[T any] func(T)

// PanicHandler is called when a handler panics during Notify.
type PanicHandler func(event string, panicValue any)

// Subscription identifies one registered handler; Go funcs are not
// comparable, so callers unsubscribe with this instead of the func.
type Subscription struct {
	Event string
	id    uint64
}

type entry[T any] struct {
	id      uint64
	fn      Handler[T]
	removed bool // guarded by Registry.mu
}

type Registry[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	events  map[string][]*entry[T]
	onPanic PanicHandler
}

func New[T any]() *Registry[T] {
	return &Registry[T]{events: make(map[string][]*entry[T])}
}

// SetPanicHandler installs a hook for panicking handlers. Panics are always
// recovered so one bad subscriber cannot take the others down.
func (r *Registry[T]) SetPanicHandler(h PanicHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPanic = h
}

func (r *Registry[T]) Subscribe(event string, fn Handler[T]) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.events == nil {
		r.events = make(map[string][]*entry[T])
	}
	r.nextID++
	r.events[event] = append(r.events[event], &entry[T]{id: r.nextID, fn: fn})
	return Subscription{Event: event, id: r.nextID}
}

// Unsubscribe removes the handler. Unknown or already removed subscriptions
// are ignored; the result reports whether anything was removed.
func (r *Registry[T]) Unsubscribe(s Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.events[s.Event]
	for i, e := range entries {
		if e.id == s.id {
			e.removed = true
			r.events[s.Event] = append(entries[:i:i], entries[i+1:]...)
			if len(r.events[s.Event]) == 0 {
				delete(r.events, s.Event)
			}
			return true
		}
	}
	return false
}

// Notify calls every handler of event with payload and returns how many ran.
// Handlers removed while a notification is in flight are skipped; handlers
// added during it are not called until the next one.
func (r *Registry[T]) Notify(event string, payload T) int {
	r.mu.Lock()
	entries := append([]*entry[T](nil), r.events[event]...)
	onPanic := r.onPanic
	r.mu.Unlock()

	called := 0
	for _, e := range entries {
		r.mu.Lock()
		removed := e.removed
		r.mu.Unlock()
		if removed {
			continue
		}
		call(event, e.fn, payload, onPanic)
		called++
	}
	return called
}

func call[T any](event string, fn Handler[T], payload T, onPanic PanicHandler) {
	defer func() {
		if v := recover(); v != nil && onPanic != nil {
			onPanic(event, v)
		}
	}()
	fn(payload)
}

// Len returns the number of handlers registered for event.
func (r *Registry[T]) Len(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[event])
}

// Clear removes every handler of every event.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entries := range r.events {
		for _, e := range entries {
			e.removed = true
		}
	}
	r.events = make(map[string][]*entry[T])
}
