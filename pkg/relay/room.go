package relay

import (
	"sync"

	"collabsync/pkg/protocol"
	"collabsync/pkg/structs"
)

// Room is the set of connections of one room on this node.
type Room struct {
	id string

	mu    sync.RWMutex
	conns structs.Set[*conn]
}

func newRoom(id string) *Room {
	return &Room{id: id, conns: structs.NewSet[*conn]()}
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) attach(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns.Add(c)
}

func (r *Room) detach(c *conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns.Remove(c)
	return r.conns.Size()
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns.Size()
}

// Broadcast queues frame on every connection except from. It returns the
// number of connections the frame was queued on.
func (r *Room) Broadcast(from *conn, frame []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for c := range r.conns.All() {
		if c == from {
			continue
		}
		if c.enqueue(frame) {
			n++
		}
	}
	return n
}

// identify records who c speaks for. It reports whether c joined or changed
// identity. It shares the write lock with AnnounceRoster.
func (r *Room) identify(c *conn, msg protocol.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.identify(msg)
}

// AnnounceRoster queues a roster-update on every connection. The roster is
// computed and queued under one write lock, so a roster that misses a client
// is always queued ahead of that client's first frame.
func (r *Room) AnnounceRoster() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	frame, err := protocol.Encode(protocol.RosterUpdate(r.id, r.participants()))
	if err != nil {
		return err
	}
	for c := range r.conns.All() {
		c.enqueue(frame)
	}
	return nil
}

// Participants lists the clients that identified themselves, in client id
// order.
func (r *Room) Participants() []protocol.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participants()
}

func (r *Room) participants() []protocol.Participant {
	seen := make(map[string]protocol.Participant)
	for c := range r.conns.All() {
		if p, ok := c.participant(); ok {
			seen[p.ClientID] = p
		}
	}

	out := make([]protocol.Participant, 0, len(seen))
	for _, id := range structs.SortedKeys(seen) {
		out = append(out, seen[id])
	}
	return out
}
