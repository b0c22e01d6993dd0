package relay

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
)

// defaultScaleThreshold is the number of rooms per shard at which the
// shard count doubles.
const defaultScaleThreshold = 1024

type shard struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// Registry holds the live rooms of this node, sharded by room id. Room
// operations hold growthLock for reading; rescaling holds it for writing.
type Registry struct {
	shards         atomic.Pointer[[]*shard]
	numShards      atomic.Uint32
	growthLock     sync.RWMutex
	lazyMu         sync.Mutex
	scaleThreshold int64
	log            *slog.Logger

	countRooms atomic.Int64
}

func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// NewRegistry creates a registry with initialShards shards, rounded up to a
// power of two.
func NewRegistry(initialShards int, logger *slog.Logger) *Registry {
	if initialShards <= 0 {
		initialShards = 64
	}
	n := uint32(1)
	for n < uint32(initialShards) {
		n <<= 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{scaleThreshold: defaultScaleThreshold, log: logger}
	shards := make([]*shard, n)
	r.shards.Store(&shards)
	r.numShards.Store(n)
	return r
}

// shardFor must be called with growthLock held.
func (r *Registry) shardFor(key string) *shard {
	arr := *r.shards.Load()
	idx := hashKey(key) & (r.numShards.Load() - 1)

	r.lazyMu.Lock()
	defer r.lazyMu.Unlock()
	if arr[idx] == nil {
		arr[idx] = &shard{rooms: make(map[string]*Room, 16)}
	}
	return arr[idx]
}

func (r *Registry) Get(roomID string) (*Room, bool) {
	r.growthLock.RLock()
	defer r.growthLock.RUnlock()

	s := r.shardFor(roomID)
	s.mu.RLock()
	room, ok := s.rooms[roomID]
	s.mu.RUnlock()
	return room, ok
}

// Acquire returns the room, creating it if needed, with c attached.
func (r *Registry) Acquire(roomID string, c *conn) *Room {
	room, created := r.acquire(roomID, c)
	if created {
		r.log.Debug("room opened", "room_id", roomID)
		r.maybeScale()
	}
	return room
}

func (r *Registry) acquire(roomID string, c *conn) (*Room, bool) {
	r.growthLock.RLock()
	defer r.growthLock.RUnlock()

	s := r.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = newRoom(roomID)
		s.rooms[roomID] = room
		r.countRooms.Add(1)
	}
	room.attach(c)
	return room, !ok
}

// Release detaches c and drops the room once it is empty.
func (r *Registry) Release(roomID string, c *conn) {
	r.growthLock.RLock()
	defer r.growthLock.RUnlock()

	s := r.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	if room.detach(c) == 0 {
		delete(s.rooms, roomID)
		r.countRooms.Add(-1)
		r.log.Debug("room closed", "room_id", roomID)
	}
}

// Rooms returns every live room.
func (r *Registry) Rooms() []*Room {
	r.growthLock.RLock()
	defer r.growthLock.RUnlock()

	var out []*Room
	for _, s := range *r.shards.Load() {
		if s == nil {
			continue
		}
		s.mu.RLock()
		for _, room := range s.rooms {
			out = append(out, room)
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *Registry) Len() int {
	return int(r.countRooms.Load())
}

func (r *Registry) Shards() int {
	return int(r.numShards.Load())
}

func (r *Registry) maybeScale() {
	if r.countRooms.Load()/int64(r.numShards.Load()) > r.scaleThreshold {
		r.growShards()
	}
}

func (r *Registry) growShards() {
	r.growthLock.Lock()
	defer r.growthLock.Unlock()

	current := r.numShards.Load()
	if r.countRooms.Load()/int64(current) <= r.scaleThreshold {
		return // someone already grew it
	}

	newCount := current * 2
	oldArr := *r.shards.Load()
	newArr := make([]*shard, newCount)

	for _, old := range oldArr {
		if old == nil {
			continue
		}
		for id, room := range old.rooms {
			idx := hashKey(id) & (newCount - 1)
			if newArr[idx] == nil {
				newArr[idx] = &shard{rooms: make(map[string]*Room, 16)}
			}
			newArr[idx].rooms[id] = room
		}
	}

	r.shards.Store(&newArr)
	r.numShards.Store(newCount)
	r.log.Info("room registry rescaled", "shards", newCount)
}
