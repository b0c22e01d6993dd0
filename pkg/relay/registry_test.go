package relay

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRegistry_AcquireRelease(t *testing.T) {
	r := NewRegistry(3, nil)
	assert.Equal(t, r.Shards(), 4)

	c1, c2 := &conn{}, &conn{}
	room := r.Acquire("r1", c1)
	assert.Equal(t, r.Acquire("r1", c2), room)
	assert.Equal(t, room.Len(), 2)
	assert.Equal(t, r.Len(), 1)

	r.Release("r1", c1)
	_, ok := r.Get("r1")
	assert.Equal(t, ok, true)

	r.Release("r1", c2)
	_, ok = r.Get("r1")
	assert.Equal(t, ok, false)
	assert.Equal(t, r.Len(), 0)

	// releasing from a missing room is a no-op
	r.Release("r1", c2)
	assert.Equal(t, r.Len(), 0)
}

func TestRegistry_Grows(t *testing.T) {
	r := NewRegistry(1, nil)
	r.scaleThreshold = 2

	conns := make(map[string]*conn)
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("room-%d", i)
		conns[id] = &conn{}
		r.Acquire(id, conns[id])
	}
	assert.Equal(t, r.Len(), 12)
	assert.Equal(t, r.Shards() > 1, true)
	assert.Equal(t, len(r.Rooms()), 12)

	for id, c := range conns {
		room, ok := r.Get(id)
		assert.Equal(t, ok, true)
		assert.Equal(t, room.ID(), id)
		r.Release(id, c)
	}
	assert.Equal(t, r.Len(), 0)
}

func TestRoom_Participants(t *testing.T) {
	room := newRoom("r1")
	a, b, anon := &conn{clientID: "b"}, &conn{clientID: "a", name: "Ann"}, &conn{}
	room.attach(a)
	room.attach(b)
	room.attach(anon)

	got := room.Participants()
	assert.Equal(t, len(got), 2)
	assert.Equal(t, got[0].ClientID, "a")
	assert.Equal(t, got[0].Name, "Ann")
	assert.Equal(t, got[1].ClientID, "b")
}
