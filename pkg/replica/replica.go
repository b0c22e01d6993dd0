// Package replica owns one participant's copy of a room document. It turns
// local edits into deltas and merges remote deltas and snapshots; it never
// talks to the network itself.
package replica

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"collabsync/pkg/crdt"
	"collabsync/pkg/observer"
)

var ErrClosed = errors.New("replica closed")

type Origin int

const (
	Local Origin = iota
	Remote
)

func (o Origin) String() string {
	if o == Local {
		return "local"
	}
	return "remote"
}

// Change is published after the content changed. Delta is set for local
// edits only and is exactly what peers need to reproduce the edit.
type Change struct {
	Origin  Origin
	Content string
	Delta   []byte
}

const changeEvent = "change"

type Option func(*Replica)

func WithReplicaID(id string) Option {
	return func(r *Replica) { r.id = id }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Replica) { r.log = l }
}

type Replica struct {
	id     string
	roomID string
	text   *crdt.Text
	subs   *observer.Registry[Change]
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

func New(roomID string, opts ...Option) *Replica {
	r := &Replica{
		id:     uuid.NewString(),
		roomID: roomID,
		subs:   observer.New[Change](),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("room_id", roomID, "replica_id", r.id)
	r.subs.SetPanicHandler(func(event string, v any) {
		r.log.Error("replica subscriber panicked", "event", event, "panic", v)
	})
	r.text = crdt.NewText(roomID, r.id)
	return r
}

func (r *Replica) ID() string {
	return r.id
}

func (r *Replica) RoomID() string {
	return r.roomID
}

func (r *Replica) Content() string {
	return r.text.String()
}

func (r *Replica) Len() int {
	return r.text.Len()
}

// ApplyLocalEdit applies edits immediately and returns the encoded delta.
// An edit that changes nothing yields a nil delta and no notification.
func (r *Replica) ApplyLocalEdit(edits ...crdt.Edit) ([]byte, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	d, err := r.text.Edit(edits...)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(d.Ops) == 0 {
		return nil, nil
	}

	data, err := d.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	r.subs.Notify(changeEvent, Change{Origin: Local, Content: r.text.String(), Delta: data})
	return data, nil
}

// ApplyRemoteDelta merges an inbound delta. A delta for another document, of
// another format version or with any malformed op is rejected whole and
// leaves the content untouched. Re-applying a delta is a no-op.
func (r *Replica) ApplyRemoteDelta(delta []byte) error {
	d, err := crdt.DecodeTextDelta(delta)
	if err != nil {
		r.log.Warn("rejecting undecodable delta", "error", err)
		return fmt.Errorf("decode delta: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	changed, err := r.text.Apply(d)
	r.mu.Unlock()
	if err != nil {
		r.log.Warn("rejecting delta", "error", err)
		return err
	}

	if changed {
		r.subs.Notify(changeEvent, Change{Origin: Remote, Content: r.text.String()})
	}
	return nil
}

// EncodeFullState returns a compact snapshot for late joiners.
func (r *Replica) EncodeFullState() ([]byte, error) {
	return r.text.Snapshot()
}

// DecodeFullState merges a snapshot produced by any replica of the room.
// Local content is kept; the result is the union of both histories.
func (r *Replica) DecodeFullState(blob []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	changed, err := r.text.MergeSnapshot(blob)
	r.mu.Unlock()
	if err != nil {
		r.log.Warn("rejecting state", "error", err)
		return fmt.Errorf("merge state: %w", err)
	}

	if changed {
		r.subs.Notify(changeEvent, Change{Origin: Remote, Content: r.text.String()})
	}
	return nil
}

// Subscribe registers fn for content changes. Subscribers run synchronously
// after the change is applied, in subscription order.
func (r *Replica) Subscribe(fn func(Change)) (cancel func()) {
	sub := r.subs.Subscribe(changeEvent, fn)
	return func() { r.subs.Unsubscribe(sub) }
}

// Close releases every subscription. Further mutations return ErrClosed.
func (r *Replica) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.subs.Clear()
}
