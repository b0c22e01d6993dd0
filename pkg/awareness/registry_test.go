package awareness

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"collabsync/pkg/crdt"
	"collabsync/pkg/protocol"
	"collabsync/pkg/util/timer"
)

type recorder struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (r *recorder) Publish(_ context.Context, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorder) last() protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

func stamp(wall uint64, id string) *crdt.Timestamp {
	return &crdt.Timestamp{WallTime: wall, ID: id}
}

func annState() State {
	return State{"user": map[string]any{"name": "Ann", "color": "#f00"}}
}

func TestRegistry_SetLocalState(t *testing.T) {
	pub := &recorder{}
	r := New("r1", "a", WithPublisher(pub))

	var events []Event
	r.Subscribe(EventChange, func(ev Event) { events = append(events, ev) })

	if err := r.SetLocalState(annState()); err != nil {
		t.Fatalf("SetLocalState() error = %v", err)
	}

	name, color := r.GetLocalState().User()
	assert.Equal(t, name, "Ann")
	assert.Equal(t, color, "#f00")

	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0].Origin, OriginLocal)
	assert.Equal(t, events[0].Added, []string{"a"})
	assert.Equal(t, len(events[0].States), 1)

	msg := pub.last()
	assert.Equal(t, msg.Kind, protocol.KindPresenceUpdate)
	assert.Equal(t, msg.ClientID, "a")
	assert.Equal(t, msg.Clock != nil, true)

	got, err := decodeState(msg.State)
	if err != nil {
		t.Fatalf("decodeState() error = %v", err)
	}
	name, _ = got.User()
	assert.Equal(t, name, "Ann")
}

func TestRegistry_SetLocalStateField(t *testing.T) {
	r := New("r1", "a")
	if err := r.SetLocalState(annState()); err != nil {
		t.Fatal(err)
	}
	before := r.GetLocalState()

	if err := r.SetLocalStateField("cursor", protocol.Position{Line: 2, Column: 5}); err != nil {
		t.Fatalf("SetLocalStateField() error = %v", err)
	}

	_, hasCursor := before["cursor"]
	assert.Equal(t, hasCursor, false)

	after := r.GetLocalState()
	cursor, ok := after["cursor"].(map[string]any)
	assert.Equal(t, ok, true)
	assert.Equal(t, cursor["line"], float64(2))
	name, _ := after.User()
	assert.Equal(t, name, "Ann")
}

func TestRegistry_GetStatesReturnsCopies(t *testing.T) {
	r := New("r1", "a")
	if err := r.SetLocalState(annState()); err != nil {
		t.Fatal(err)
	}

	states := r.GetStates()
	states["a"]["user"] = "mutated"

	name, _ := r.GetLocalState().User()
	assert.Equal(t, name, "Ann")
}

func TestRegistry_ApplyRemoteUpdate(t *testing.T) {
	r := New("r1", "a")
	var events []Event
	r.Subscribe(EventChange, func(ev Event) { events = append(events, ev) })

	bob := json.RawMessage(`{"user":{"name":"Bob","color":"#00f"}}`)
	if err := r.ApplyRemoteUpdate("b", bob, stamp(100, "b")); err != nil {
		t.Fatalf("ApplyRemoteUpdate() error = %v", err)
	}
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0].Origin, OriginRemote)
	assert.Equal(t, events[0].Added, []string{"b"})

	bob2 := json.RawMessage(`{"user":{"name":"Bobby","color":"#00f"}}`)
	if err := r.ApplyRemoteUpdate("b", bob2, stamp(200, "b")); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, len(events), 2)
	assert.Equal(t, events[1].Updated, []string{"b"})

	name, _ := r.GetStates()["b"].User()
	assert.Equal(t, name, "Bobby")
}

func TestRegistry_OutOfOrderUpdatesIgnored(t *testing.T) {
	r := New("r1", "a")
	var events int
	r.Subscribe(EventChange, func(Event) { events++ })

	newer := json.RawMessage(`{"user":{"name":"new"}}`)
	older := json.RawMessage(`{"user":{"name":"old"}}`)

	if err := r.ApplyRemoteUpdate("b", newer, stamp(200, "b")); err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyRemoteUpdate("b", older, stamp(100, "b")); err != nil {
		t.Fatal(err)
	}
	// redelivery of the same update
	if err := r.ApplyRemoteUpdate("b", newer, stamp(200, "b")); err != nil {
		t.Fatal(err)
	}

	name, _ := r.GetStates()["b"].User()
	assert.Equal(t, name, "new")
	assert.Equal(t, events, 1)
}

func TestRegistry_RemoteLeave(t *testing.T) {
	r := New("r1", "a")
	var removed []string
	r.Subscribe(EventChange, func(ev Event) { removed = append(removed, ev.Removed...) })

	bob := json.RawMessage(`{"user":{"name":"Bob"}}`)
	if err := r.ApplyRemoteUpdate("b", bob, stamp(100, "b")); err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyRemoteUpdate("b", json.RawMessage("null"), stamp(200, "b")); err != nil {
		t.Fatal(err)
	}
	_, present := r.GetStates()["b"]
	assert.Equal(t, present, false)
	assert.Equal(t, removed, []string{"b"})

	// a delayed update from before the leave must not resurrect the entry
	if err := r.ApplyRemoteUpdate("b", bob, stamp(150, "b")); err != nil {
		t.Fatal(err)
	}
	_, present = r.GetStates()["b"]
	assert.Equal(t, present, false)

	// a later rejoin does
	if err := r.ApplyRemoteUpdate("b", bob, stamp(300, "b")); err != nil {
		t.Fatal(err)
	}
	_, present = r.GetStates()["b"]
	assert.Equal(t, present, true)
}

func TestRegistry_RejectsSelfAndMalformed(t *testing.T) {
	r := New("r1", "a")
	if err := r.SetLocalState(annState()); err != nil {
		t.Fatal(err)
	}

	forged := json.RawMessage(`{"user":{"name":"Mallory"}}`)
	err := r.ApplyRemoteUpdate("a", forged, stamp(1<<62, "x"))
	assert.Equal(t, errors.Is(err, ErrSelfUpdate), true)
	name, _ := r.GetLocalState().User()
	assert.Equal(t, name, "Ann")

	for _, raw := range []string{`42`, `"ann"`, `[1,2]`} {
		err := r.ApplyRemoteUpdate("b", json.RawMessage(raw), stamp(100, "b"))
		assert.Equal(t, errors.Is(err, ErrNotObject), true)
	}
	assert.Equal(t, len(r.GetStates()), 1)
}

func TestRegistry_MissingStateIsNotLeave(t *testing.T) {
	r := New("r1", "a")
	bob := json.RawMessage(`{"user":{"name":"Bob"}}`)
	if err := r.ApplyRemoteUpdate("b", bob, stamp(100, "b")); err != nil {
		t.Fatal(err)
	}
	var removed []string
	r.Subscribe(EventChange, func(ev Event) { removed = append(removed, ev.Removed...) })

	for _, raw := range []json.RawMessage{nil, json.RawMessage(""), json.RawMessage("  ")} {
		err := r.ApplyRemoteUpdate("b", raw, stamp(200, "b"))
		assert.Equal(t, errors.Is(err, ErrNotObject), true)
	}
	// an envelope that omits the state field decodes to an empty state
	msg, err := protocol.Decode([]byte(`{"type":"presence-update","roomId":"r1","clientId":"b"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	assert.Equal(t, errors.Is(r.ApplyMessage(msg), ErrNotObject), true)

	assert.Equal(t, r.ClientIDs(), []string{"b"})
	assert.Equal(t, len(removed), 0)
}

func TestRegistry_ApplyMessage(t *testing.T) {
	r := New("r1", "a")
	raw := json.RawMessage(`{"user":{"name":"Bob"}}`)

	if err := r.ApplyMessage(protocol.PresenceUpdate("other", "b", raw, stamp(1, "b"))); err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyMessage(protocol.ContentSync("r1", "b", []byte("{}"))); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, len(r.GetStates()), 0)

	if err := r.ApplyMessage(protocol.PresenceUpdate("r1", "b", raw, stamp(1, "b"))); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, r.ClientIDs(), []string{"b"})
}

func TestRegistry_LocalLeave(t *testing.T) {
	pub := &recorder{}
	r := New("r1", "a", WithPublisher(pub))
	if err := r.SetLocalState(annState()); err != nil {
		t.Fatal(err)
	}

	var removed []string
	r.Subscribe(EventChange, func(ev Event) { removed = ev.Removed })

	if err := r.SetLocalState(nil); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, r.GetLocalState() == nil, true)
	assert.Equal(t, removed, []string{"a"})
	assert.Equal(t, string(pub.last().State), "null")
}

func TestRegistry_ApplyRoster(t *testing.T) {
	r := New("r1", "a")
	if err := r.SetLocalState(annState()); err != nil {
		t.Fatal(err)
	}
	for i, id := range []string{"b", "c", "d"} {
		raw := json.RawMessage(`{"user":{"name":"` + id + `"}}`)
		if err := r.ApplyRemoteUpdate(id, raw, stamp(uint64(i+1), id)); err != nil {
			t.Fatal(err)
		}
	}

	var ev Event
	r.Subscribe(EventChange, func(e Event) { ev = e })

	removed := r.ApplyRoster([]protocol.Participant{{ClientID: "b"}})
	assert.Equal(t, removed, []string{"c", "d"})
	assert.Equal(t, ev.Origin, OriginRoster)
	assert.Equal(t, r.ClientIDs(), []string{"a", "b"})
}

func TestRegistry_Liveness(t *testing.T) {
	clock := timer.NewManual(time.Unix(1000, 0))
	pub := &recorder{}
	r := New("r1", "a",
		WithPublisher(pub),
		WithScheduler(clock),
		WithStaleTimeout(30*time.Second),
		WithRenewInterval(15*time.Second),
	)
	defer r.Close()

	if err := r.SetLocalState(annState()); err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyRemoteUpdate("b", json.RawMessage(`{}`), stamp(1, "b")); err != nil {
		t.Fatal(err)
	}

	var changes int
	r.Subscribe(EventChange, func(Event) { changes++ })
	r.StartLiveness()

	clock.Advance(15 * time.Second)
	assert.Equal(t, len(pub.sent), 2)
	assert.Equal(t, changes, 0)
	assert.Equal(t, r.ClientIDs(), []string{"a", "b"})

	clock.Advance(15 * time.Second)
	assert.Equal(t, len(pub.sent), 3)
	assert.Equal(t, changes, 1)
	assert.Equal(t, r.ClientIDs(), []string{"a"})
}

func TestRegistry_UnsubscribeAndClose(t *testing.T) {
	r := New("r1", "a")
	var calls int
	sub := r.Subscribe(EventChange, func(Event) { calls++ })

	assert.Equal(t, r.Unsubscribe(sub), true)
	assert.Equal(t, r.Unsubscribe(sub), false)

	if err := r.SetLocalState(annState()); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, calls, 0)

	r.Close()
	r.Close()
	assert.Equal(t, r.SetLocalState(annState()), ErrClosed)
	assert.Equal(t, r.ApplyRemoteUpdate("b", json.RawMessage(`{}`), nil), ErrClosed)
}
