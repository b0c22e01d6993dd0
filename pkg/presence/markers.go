package presence

import (
	"log/slog"
	"sync"
	"time"

	"collabsync/pkg/protocol"
	"collabsync/pkg/structs"
	"collabsync/pkg/util/timer"
)

const DefaultDwell = 3 * time.Second

type marker struct {
	gen     uint64
	pos     protocol.Position
	expires time.Time
	dispose func()
	timer   timer.Timer
}

// Markers keeps at most one live decoration per remote owner.
type Markers struct {
	deco  Decorator
	sched timer.Scheduler
	dwell time.Duration
	log   *slog.Logger

	mu      sync.Mutex
	gen     uint64
	markers map[string]*marker
	closed  bool
}

func NewMarkers(deco Decorator, sched timer.Scheduler, dwell time.Duration, logger *slog.Logger) *Markers {
	if sched == nil {
		sched = timer.Real{}
	}
	if dwell <= 0 {
		dwell = DefaultDwell
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Markers{
		deco:    deco,
		sched:   sched,
		dwell:   dwell,
		log:     logger,
		markers: make(map[string]*marker),
	}
}

func once(d Disposer) func() {
	var o sync.Once
	return func() {
		if d != nil {
			o.Do(d)
		}
	}
}

// Show installs a marker for owner at pos, disposing the owner's previous
// marker first, and schedules its removal after the dwell time.
func (m *Markers) Show(owner string, pos protocol.Position, user protocol.User) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	prev := m.markers[owner]
	delete(m.markers, owner)
	if prev != nil {
		prev.timer.Stop()
	}
	m.mu.Unlock()

	// decorator calls happen outside the lock; widgets may call back in
	if prev != nil {
		prev.dispose()
	}
	dispose := once(m.deco.Decorate(CursorRange(pos), StyleFor(owner, user), m.dwell))
	if stale := m.install(owner, pos, dispose); stale != nil {
		stale()
	}
}

// install records a freshly decorated marker and returns the disposer that
// lost, if any, for the caller to run once m.mu is released.
func (m *Markers) install(owner string, pos protocol.Position, dispose func()) (stale func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return dispose
	}
	if other := m.markers[owner]; other != nil {
		// a concurrent Show for the same owner got here first
		other.timer.Stop()
		stale = other.dispose
	}
	m.gen++
	mk := &marker{gen: m.gen, pos: pos, expires: m.sched.Now().Add(m.dwell), dispose: dispose}
	gen := m.gen
	mk.timer = m.sched.AfterFunc(m.dwell, func() { m.expire(owner, gen) })
	m.markers[owner] = mk
	return stale
}

// expire removes owner's marker only if it is still the one scheduled.
func (m *Markers) expire(owner string, gen uint64) {
	m.mu.Lock()
	mk, ok := m.markers[owner]
	if !ok || mk.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.markers, owner)
	m.mu.Unlock()

	m.log.Debug("cursor marker expired", "owner", owner)
	mk.dispose()
}

// Remove disposes owner's marker immediately, if any.
func (m *Markers) Remove(owner string) bool {
	m.mu.Lock()
	mk, ok := m.markers[owner]
	if ok {
		delete(m.markers, owner)
		mk.timer.Stop()
	}
	m.mu.Unlock()

	if ok {
		mk.dispose()
	}
	return ok
}

func (m *Markers) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markers)
}

// Owners lists the owners with a live marker in ascending order.
func (m *Markers) Owners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return structs.SortedKeys(m.markers)
}

// Position returns where owner's marker is drawn and when it expires.
func (m *Markers) Position(owner string) (protocol.Position, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[owner]
	if !ok {
		return protocol.Position{}, time.Time{}, false
	}
	return mk.pos, mk.expires, true
}

// Close disposes every marker and cancels every expiry. Later calls to Show
// are ignored.
func (m *Markers) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	all := m.markers
	m.markers = make(map[string]*marker)
	m.mu.Unlock()

	for _, owner := range structs.SortedKeys(all) {
		mk := all[owner]
		mk.timer.Stop()
		mk.dispose()
	}
}
