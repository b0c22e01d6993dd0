// Package awareness keeps the ephemeral per-participant presence of a room:
// who is here, their display identity and cursor. Each participant authors
// exactly one entry; every other entry is a wholesale replica of a remote
// participant's last update.
package awareness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"collabsync/pkg/crdt"
	"collabsync/pkg/observer"
	"collabsync/pkg/protocol"
	"collabsync/pkg/structs"
	"collabsync/pkg/util/timer"
)

const (
	DefaultStaleTimeout  = 30 * time.Second
	DefaultRenewInterval = 15 * time.Second
)

// Publisher sends presence updates to the room; transport.Transport
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg protocol.Message) error
}

type entry struct {
	reg    *crdt.Register[json.RawMessage]
	seenAt time.Time
}

type Option func(*Registry)

func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.pub = p }
}

func WithScheduler(s timer.Scheduler) Option {
	return func(r *Registry) { r.sched = s }
}

func WithClock(c *crdt.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithStaleTimeout sets how long a remote entry survives without an update.
func WithStaleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.staleTimeout = d }
}

// WithRenewInterval sets how often the local entry is re-broadcast.
func WithRenewInterval(d time.Duration) Option {
	return func(r *Registry) { r.renewInterval = d }
}

type Registry struct {
	roomID   string
	clientID string
	clock    *crdt.Clock
	sched    timer.Scheduler
	pub      Publisher
	obs      *observer.Registry[Event]
	log      *slog.Logger

	staleTimeout  time.Duration
	renewInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	// stamp of the last removal per client, so delayed older updates
	// cannot resurrect a participant that left
	gone   map[string]*crdt.Timestamp
	ticker timer.Timer
	closed bool
}

var _ PresenceSource = (*Registry)(nil)

func New(roomID, clientID string, opts ...Option) *Registry {
	r := &Registry{
		roomID:        roomID,
		clientID:      clientID,
		sched:         timer.Real{},
		obs:           observer.New[Event](),
		log:           slog.Default(),
		staleTimeout:  DefaultStaleTimeout,
		renewInterval: DefaultRenewInterval,
		entries:       make(map[string]*entry),
		gone:          make(map[string]*crdt.Timestamp),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = crdt.NewClock(clientID)
	}
	r.log = r.log.With("room_id", roomID, "client_id", clientID)
	r.obs.SetPanicHandler(func(event string, v any) {
		r.log.Error("awareness subscriber panicked", "event", event, "panic", v)
	})
	return r
}

func (r *Registry) ClientID() string {
	return r.clientID
}

func (r *Registry) Subscribe(event string, h observer.Handler[Event]) observer.Subscription {
	return r.obs.Subscribe(event, h)
}

// Unsubscribe is a no-op for unknown subscriptions.
func (r *Registry) Unsubscribe(s observer.Subscription) bool {
	return r.obs.Unsubscribe(s)
}

func (r *Registry) Notify(event string, ev Event) {
	r.obs.Notify(event, ev)
}

// SetLocalState replaces the local entry wholesale, broadcasts it and
// notifies subscribers before returning. A nil state is a clean leave.
func (r *Registry) SetLocalState(s State) error {
	if s == nil {
		r.Leave()
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode local state: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	ts := r.clock.Now()
	added := r.write(r.clientID, raw, ts)
	r.mu.Unlock()

	r.publish(protocol.PresenceUpdate(r.roomID, r.clientID, raw, ts))
	r.emit(OriginLocal, r.clientID, added)
	return nil
}

// SetLocalStateField sets one top-level field on a copy of the local state.
func (r *Registry) SetLocalStateField(field string, value any) error {
	s := r.GetLocalState()
	if s == nil {
		s = State{}
	}
	s[field] = value
	return r.SetLocalState(s)
}

// write stores raw for clientID unconditionally. Caller holds r.mu.
func (r *Registry) write(clientID string, raw json.RawMessage, ts *crdt.Timestamp) (added bool) {
	e, ok := r.entries[clientID]
	if !ok {
		e = &entry{reg: crdt.NewRegister(raw, ts)}
		r.entries[clientID] = e
	} else if !e.reg.Write(raw, ts) {
		e.reg = crdt.NewRegister(raw, ts)
	}
	e.seenAt = r.sched.Now()
	delete(r.gone, clientID)
	return !ok
}

func (r *Registry) GetLocalState() State {
	return r.stateOf(r.clientID)
}

func (r *Registry) stateOf(clientID string) State {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	raw, _ := e.reg.Read()
	s, err := decodeState(raw)
	if err != nil {
		return nil
	}
	return s
}

// GetStates returns a fresh copy of every entry, the local one included.
func (r *Registry) GetStates() map[string]State {
	r.mu.Lock()
	raws := make(map[string]json.RawMessage, len(r.entries))
	for id, e := range r.entries {
		raws[id], _ = e.reg.Read()
	}
	r.mu.Unlock()

	states := make(map[string]State, len(raws))
	for id, raw := range raws {
		if s, err := decodeState(raw); err == nil {
			states[id] = s
		}
	}
	return states
}

// ClientIDs returns the ids of every entry in ascending order.
func (r *Registry) ClientIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return structs.SortedKeys(r.entries)
}

// ApplyMessage handles an inbound presence-update.
func (r *Registry) ApplyMessage(msg protocol.Message) error {
	if msg.Kind != protocol.KindPresenceUpdate || msg.RoomID != r.roomID {
		return nil
	}
	return r.ApplyRemoteUpdate(msg.ClientID, msg.State, msg.Clock)
}

// ApplyRemoteUpdate replaces a remote participant's entry wholesale. Updates
// naming the local client are rejected, updates stamped older than the
// stored entry are ignored, and a null state removes the entry. An unknown
// client is an implicit join.
func (r *Registry) ApplyRemoteUpdate(clientID string, raw json.RawMessage, ts *crdt.Timestamp) error {
	if clientID == r.clientID {
		r.log.Debug("ignoring presence update for local client")
		return ErrSelfUpdate
	}
	leaving := isNull(raw)
	if !leaving {
		if _, err := decodeState(raw); err != nil {
			r.log.Warn("dropping presence update", "from", clientID, "error", err)
			return fmt.Errorf("%w: from %s", ErrNotObject, clientID)
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if ts != nil {
		r.clock.Observe(ts)
	} else {
		// unstamped updates always win
		ts = r.clock.Now()
	}

	e, exists := r.entries[clientID]
	var current *crdt.Timestamp
	if exists {
		_, current = e.reg.Read()
	} else {
		current = r.gone[clientID]
	}
	if current != nil && !ts.After(current) {
		r.mu.Unlock()
		return nil
	}

	if leaving {
		if exists {
			delete(r.entries, clientID)
		}
		r.gone[clientID] = ts
		r.mu.Unlock()
		if exists {
			r.emitRemoved(OriginRemote, []string{clientID})
		}
		return nil
	}

	added := r.write(clientID, raw, ts)
	r.mu.Unlock()

	r.emit(OriginRemote, clientID, added)
	return nil
}

// Leave removes the local entry and tells the room.
func (r *Registry) Leave() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	_, existed := r.entries[r.clientID]
	delete(r.entries, r.clientID)
	ts := r.clock.Now()
	r.mu.Unlock()

	r.publish(protocol.PresenceUpdate(r.roomID, r.clientID, json.RawMessage(null), ts))
	if existed {
		r.emitRemoved(OriginLocal, []string{r.clientID})
	}
}

// Renew re-broadcasts the local entry with a fresh stamp so peers keep it
// alive. Subscribers are not notified; the content did not change.
func (r *Registry) Renew() {
	r.mu.Lock()
	e, ok := r.entries[r.clientID]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	raw, _ := e.reg.Read()
	ts := r.clock.Now()
	r.write(r.clientID, raw, ts)
	r.mu.Unlock()

	r.publish(protocol.PresenceUpdate(r.roomID, r.clientID, raw, ts))
}

// ApplyRoster removes every remote entry whose client is not listed.
func (r *Registry) ApplyRoster(participants []protocol.Participant) []string {
	present := structs.NewSet[string]()
	for _, p := range participants {
		present.Add(p.ClientID)
	}
	return r.removeWhere(OriginRoster, func(id string, _ *entry) bool {
		return !present.Contains(id)
	})
}

// RemoveStale removes remote entries not refreshed within the stale timeout.
func (r *Registry) RemoveStale(now time.Time) []string {
	return r.removeWhere(OriginTimeout, func(_ string, e *entry) bool {
		return now.Sub(e.seenAt) >= r.staleTimeout
	})
}

func (r *Registry) removeWhere(origin Origin, match func(string, *entry) bool) []string {
	r.mu.Lock()
	var removed []string
	for _, id := range structs.SortedKeys(r.entries) {
		e := r.entries[id]
		if id == r.clientID || !match(id, e) {
			continue
		}
		_, ts := e.reg.Read()
		r.gone[id] = ts
		delete(r.entries, id)
		removed = append(removed, id)
	}
	r.mu.Unlock()

	if len(removed) > 0 {
		r.log.Debug("removed presence entries", "origin", origin, "clients", removed)
		r.emitRemoved(origin, removed)
	}
	return removed
}

func (r *Registry) emit(origin Origin, clientID string, added bool) {
	ev := Event{Origin: origin, States: r.GetStates()}
	if added {
		ev.Added = []string{clientID}
	} else {
		ev.Updated = []string{clientID}
	}
	r.obs.Notify(EventChange, ev)
}

func (r *Registry) emitRemoved(origin Origin, ids []string) {
	r.obs.Notify(EventChange, Event{Origin: origin, Removed: ids, States: r.GetStates()})
}

func (r *Registry) publish(msg protocol.Message) {
	if r.pub == nil {
		return
	}
	if err := r.pub.Publish(context.Background(), msg); err != nil {
		r.log.Warn("presence publish failed", "error", err)
	}
}
