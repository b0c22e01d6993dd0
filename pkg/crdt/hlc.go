package crdt

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Comparison results.
const (
	Lower   = -1
	Equal   = 0
	Greater = 1
)

// Timestamp is a hybrid logical clock reading. WallTime is UnixNano.
type Timestamp struct {
	WallTime uint64 `json:"wall_time"`
	Lamport  uint64 `json:"lamport"`
	ID       string `json:"id"`
}

func (t *Timestamp) Before(other *Timestamp) bool { return Compare(t, other) == Lower }
func (t *Timestamp) After(other *Timestamp) bool  { return Compare(t, other) == Greater }

// Time returns the physical component of the timestamp.
func (t *Timestamp) Time() time.Time {
	return time.Unix(0, int64(t.WallTime))
}

func (t *Timestamp) String() string {
	return fmt.Sprintf("(%s, L=%d, id=%s)",
		t.Time().UTC().Format(time.RFC3339Nano), t.Lamport, t.ID)
}

// Compare orders timestamps by wall time, then logical counter, then id.
// A nil timestamp sorts before any other.
func Compare(a, b *Timestamp) int {
	switch {
	case a == nil && b == nil:
		return Equal
	case a == nil:
		return Lower
	case b == nil:
		return Greater
	}
	if a.WallTime != b.WallTime {
		if a.WallTime < b.WallTime {
			return Lower
		}
		return Greater
	}
	if a.Lamport != b.Lamport {
		if a.Lamport < b.Lamport {
			return Lower
		}
		return Greater
	}
	if a.ID < b.ID {
		return Lower
	}
	if a.ID > b.ID {
		return Greater
	}
	return Equal
}

type pair struct {
	wall    uint64
	logical uint64
}

// Clock is a lock-free HLC generator; the state is swapped with CAS.
type Clock struct {
	nodeID string
	st     atomic.Pointer[pair]
	offset atomic.Int64 // nanoseconds, for simulations
}

func NewClock(nodeID string) *Clock {
	c := &Clock{nodeID: nodeID}
	c.st.Store(&pair{})
	return c
}

// WithOffset shifts the physical clock, for tests and simulations.
func (c *Clock) WithOffset(offset time.Duration) *Clock {
	c.offset.Store(int64(offset))
	return c
}

func (c *Clock) nowNano() uint64 {
	off := time.Duration(c.offset.Load())
	return uint64(time.Now().Add(off).UnixNano())
}

// Now produces a local timestamp strictly greater than every timestamp this
// clock has produced or observed.
func (c *Clock) Now() *Timestamp {
	for {
		now := c.nowNano()
		p := c.st.Load()

		next := &pair{wall: now}
		if now <= p.wall {
			next.wall = p.wall
			next.logical = p.logical + 1
		}

		if c.st.CompareAndSwap(p, next) {
			return &Timestamp{WallTime: next.wall, Lamport: next.logical, ID: c.nodeID}
		}
	}
}

// Observe folds a remote timestamp into the clock and returns a new local
// timestamp. A nil remote behaves like Now.
func (c *Clock) Observe(remote *Timestamp) *Timestamp {
	for {
		now := c.nowNano()
		p := c.st.Load()

		wall := max(p.wall, now)
		if remote != nil && remote.WallTime > wall {
			wall = remote.WallTime
		}

		var logical uint64
		switch {
		case remote != nil && wall == remote.WallTime && wall == p.wall:
			logical = max(remote.Lamport, p.logical) + 1
		case remote != nil && wall == remote.WallTime:
			logical = remote.Lamport + 1
		case wall == now && now > p.wall:
			logical = 0
		default:
			logical = p.logical + 1
		}

		next := &pair{wall: wall, logical: logical}
		if c.st.CompareAndSwap(p, next) {
			return &Timestamp{WallTime: wall, Lamport: logical, ID: c.nodeID}
		}
	}
}
