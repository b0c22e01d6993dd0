// Package transport declares the room message channel the sync layer runs
// over. Delivery is at-least-once and may reorder; a participant may or may
// not see its own messages echoed back.
package transport

import (
	"context"
	"errors"
	"sync"

	"collabsync/pkg/observer"
	"collabsync/pkg/protocol"
)

var ErrClosed = errors.New("transport closed")

type Handler func(protocol.Message)

type Transport interface {
	Publish(ctx context.Context, msg protocol.Message) error
	// Subscribe registers h for inbound messages. The returned cancel func
	// is idempotent.
	Subscribe(h Handler) (cancel func())
}

// Fanout is the inbound handler set shared by transport implementations.
// Dispatch runs handlers in subscription order, outside any lock, so a
// handler may publish or unsubscribe.
type Fanout struct {
	once     sync.Once
	handlers *observer.Registry[protocol.Message]
}

const inbound = "message"

func (f *Fanout) registry() *observer.Registry[protocol.Message] {
	f.once.Do(func() { f.handlers = observer.New[protocol.Message]() })
	return f.handlers
}

func (f *Fanout) Subscribe(h Handler) func() {
	sub := f.registry().Subscribe(inbound, observer.Handler[protocol.Message](h))
	return func() { f.registry().Unsubscribe(sub) }
}

func (f *Fanout) Dispatch(msg protocol.Message) {
	f.registry().Notify(inbound, msg)
}

func (f *Fanout) Len() int {
	return f.registry().Len(inbound)
}

// Clear drops every handler.
func (f *Fanout) Clear() {
	f.registry().Clear()
}
