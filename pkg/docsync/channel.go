// Package docsync ties a document replica to a room transport: local deltas
// go out, remote deltas come in, and joiners exchange full snapshots with
// the peers already in the room.
package docsync

import (
	"context"
	"log/slog"
	"sync"

	"collabsync/pkg/protocol"
	"collabsync/pkg/replica"
	"collabsync/pkg/transport"
)

type Channel struct {
	roomID   string
	clientID string
	replica  *replica.Replica
	tr       transport.Transport
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	closed          bool
	cancelReplica   func()
	cancelTransport func()
}

// Open binds r to tr for roomID and announces the participant with a
// sync-request. Messages for other rooms are ignored.
func Open(ctx context.Context, roomID, clientID string, r *replica.Replica, tr transport.Transport, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		roomID:   roomID,
		clientID: clientID,
		replica:  r,
		tr:       tr,
		log:      logger.With("room_id", roomID, "client_id", clientID),
		ctx:      ctx,
		cancel:   cancel,
	}

	c.cancelReplica = r.Subscribe(func(ch replica.Change) {
		if ch.Origin == replica.Local && ch.Delta != nil {
			c.OnLocalDelta(ch.Delta)
		}
	})
	c.cancelTransport = tr.Subscribe(c.OnRemoteMessage)

	c.Resync()
	return c
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) publish(msg protocol.Message) {
	if err := c.tr.Publish(c.ctx, msg); err != nil {
		c.log.Warn("publish failed", "type", msg.Kind, "error", err)
	}
}

// OnLocalDelta forwards a local delta. No acknowledgement is awaited;
// redelivery is absorbed by the replica merge.
func (c *Channel) OnLocalDelta(delta []byte) {
	if c.isClosed() {
		return
	}
	c.publish(protocol.ContentSync(c.roomID, c.clientID, delta))
}

// OnRemoteMessage handles content-sync and the join handshake. Other message
// kinds belong to other components and are ignored here.
func (c *Channel) OnRemoteMessage(msg protocol.Message) {
	if c.isClosed() || msg.RoomID != c.roomID {
		return
	}

	switch msg.Kind {
	case protocol.KindContentSync:
		if msg.ClientID == c.clientID {
			return
		}
		if err := c.replica.ApplyRemoteDelta(msg.Delta); err != nil {
			c.log.Warn("dropping content-sync", "from", msg.ClientID, "error", err)
		}

	case protocol.KindSyncRequest:
		if msg.ClientID == c.clientID {
			return
		}
		c.mergeState(msg)
		state, err := c.replica.EncodeFullState()
		if err != nil {
			c.log.Error("encode full state", "error", err)
			return
		}
		c.publish(protocol.SyncState(c.roomID, c.clientID, msg.ClientID, state))

	case protocol.KindSyncState:
		if msg.ClientID == c.clientID || (msg.To != "" && msg.To != c.clientID) {
			return
		}
		c.mergeState(msg)
	}
}

func (c *Channel) mergeState(msg protocol.Message) {
	if len(msg.Delta) == 0 {
		return
	}
	if err := c.replica.DecodeFullState(msg.Delta); err != nil {
		c.log.Warn("dropping full state", "type", msg.Kind, "from", msg.ClientID, "error", err)
	}
}

// Resync re-runs the join handshake, e.g. after the transport reconnected.
// Resending state is harmless because merges are idempotent.
func (c *Channel) Resync() {
	if c.isClosed() {
		return
	}
	state, err := c.replica.EncodeFullState()
	if err != nil {
		c.log.Error("encode full state", "error", err)
		return
	}
	c.publish(protocol.SyncRequest(c.roomID, c.clientID, state))
}

// Close detaches from the replica and the transport. It is safe to call
// more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancelReplica()
	c.cancelTransport()
	c.cancel()
}
