package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"collabsync/pkg/protocol"
)

type HubOption func(*Hub)

// WithEcho delivers a message back to its sender too.
func WithEcho() HubOption {
	return func(h *Hub) { h.echo = true }
}

// WithDuplicates delivers every message twice.
func WithDuplicates() HubOption {
	return func(h *Hub) { h.duplicate = true }
}

// WithManualDelivery queues messages until Deliver or DeliverShuffled.
func WithManualDelivery() HubOption {
	return func(h *Hub) { h.manual = true }
}

// Hub is an in-process room transport. Messages go through the wire
// encoding so receivers never share memory with the sender.
type Hub struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	queue     []delivery
	echo      bool
	duplicate bool
	manual    bool
}

type delivery struct {
	to   *Endpoint
	data []byte
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect attaches a participant endpoint to the hub.
func (h *Hub) Connect(name string) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := &Endpoint{hub: h, name: name}
	h.endpoints = append(h.endpoints, e)
	return e
}

func (h *Hub) publish(from *Endpoint, data []byte) {
	h.mu.Lock()
	var out []delivery
	for _, e := range h.endpoints {
		if e == from && !h.echo {
			continue
		}
		out = append(out, delivery{to: e, data: data})
		if h.duplicate {
			out = append(out, delivery{to: e, data: data})
		}
	}
	if h.manual {
		h.queue = append(h.queue, out...)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	for _, d := range out {
		d.to.receive(d.data)
	}
}

// Deliver flushes queued messages in publish order, including messages
// published by handlers during the flush.
func (h *Hub) Deliver() {
	h.DeliverShuffled(nil)
}

// DeliverShuffled flushes queued messages in an order drawn from rng.
func (h *Hub) DeliverShuffled(rng *rand.Rand) {
	for {
		h.mu.Lock()
		batch := h.queue
		h.queue = nil
		h.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		if rng != nil {
			rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
		}
		for _, d := range batch {
			d.to.receive(d.data)
		}
	}
}

// Queued returns the number of undelivered messages.
func (h *Hub) Queued() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

func (h *Hub) disconnect(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, v := range h.endpoints {
		if v == e {
			h.endpoints = append(h.endpoints[:i:i], h.endpoints[i+1:]...)
			break
		}
	}
}

// Endpoint is one participant's view of a Hub.
type Endpoint struct {
	hub    *Hub
	name   string
	fanout Fanout

	mu     sync.Mutex
	closed bool
	sent   []protocol.Message
}

func (e *Endpoint) Name() string {
	return e.name
}

func (e *Endpoint) Publish(ctx context.Context, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.sent = append(e.sent, msg)
	e.mu.Unlock()

	e.hub.publish(e, data)
	return nil
}

func (e *Endpoint) Subscribe(h Handler) func() {
	return e.fanout.Subscribe(h)
}

func (e *Endpoint) receive(data []byte) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		return
	}
	e.fanout.Dispatch(msg)
}

// Sent returns every message published through the endpoint.
func (e *Endpoint) Sent() []protocol.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.Message(nil), e.sent...)
}

// SentOf returns the published messages of one kind.
func (e *Endpoint) SentOf(kind protocol.Kind) []protocol.Message {
	var res []protocol.Message
	for _, m := range e.Sent() {
		if m.Kind == kind {
			res = append(res, m)
		}
	}
	return res
}

// Handlers returns the number of live subscriptions.
func (e *Endpoint) Handlers() int {
	return e.fanout.Len()
}

func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.hub.disconnect(e)
	e.fanout.Clear()
}
