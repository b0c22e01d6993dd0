// Package presence carries live cursor positions between participants and
// renders remote cursors as short-lived markers. It is decorative only; the
// awareness registry stays authoritative for who is in the room.
package presence

import (
	"context"
	"log/slog"
	"sync"

	"collabsync/pkg/protocol"
)

// Publisher sends cursor events to the room; transport.Transport satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg protocol.Message) error
}

type Broadcaster struct {
	roomID   string
	clientID string
	pub      Publisher
	markers  *Markers
	log      *slog.Logger

	mu     sync.Mutex
	user   protocol.User
	last   *protocol.Position
	closed bool
}

func NewBroadcaster(roomID, clientID string, pub Publisher, markers *Markers, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		roomID:   roomID,
		clientID: clientID,
		pub:      pub,
		markers:  markers,
		log:      logger.With("room_id", roomID, "client_id", clientID),
	}
}

// SetUser changes the identity attached to outgoing cursor events.
func (b *Broadcaster) SetUser(u protocol.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.user = u
}

// OnLocalCursorMove publishes the new position. Every move is sent.
func (b *Broadcaster) OnLocalCursorMove(ctx context.Context, pos protocol.Position) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	user := b.user
	b.last = &pos
	b.mu.Unlock()

	return b.pub.Publish(ctx, protocol.CursorMove(b.roomID, b.clientID, pos, user))
}

// Resend republishes the last local position, if any. Used after reconnect.
func (b *Broadcaster) Resend(ctx context.Context) error {
	b.mu.Lock()
	last := b.last
	b.mu.Unlock()
	if last == nil {
		return nil
	}
	return b.OnLocalCursorMove(ctx, *last)
}

// OnRemoteMessage renders cursor-move events from other participants of the
// room. Everything else is ignored.
func (b *Broadcaster) OnRemoteMessage(msg protocol.Message) {
	if msg.Kind != protocol.KindCursorMove || msg.RoomID != b.roomID {
		return
	}
	if msg.ClientID == "" || msg.ClientID == b.clientID || msg.Position == nil {
		if msg.ClientID != b.clientID {
			b.log.Warn("dropping cursor event", "from", msg.ClientID)
		}
		return
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}

	var user protocol.User
	if msg.User != nil {
		user = *msg.User
	}
	b.markers.Show(msg.ClientID, *msg.Position, user)
}

// Forget drops a participant's marker, e.g. when they leave the roster.
func (b *Broadcaster) Forget(clientID string) {
	b.markers.Remove(clientID)
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.markers.Close()
}
