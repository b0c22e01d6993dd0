package replica

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"collabsync/pkg/crdt"
)

func TestReplica_Scenario(t *testing.T) {
	a := New("r1", WithReplicaID("A"))
	b := New("r1", WithReplicaID("B"))

	d1, err := a.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "hello"})
	if err != nil {
		t.Fatalf("ApplyLocalEdit() error = %v", err)
	}
	assert.Equal(t, a.Content(), "hello")

	if err := b.ApplyRemoteDelta(d1); err != nil {
		t.Fatalf("ApplyRemoteDelta() error = %v", err)
	}
	assert.Equal(t, b.Content(), "hello")

	d2, err := b.ApplyLocalEdit(crdt.Edit{Index: 5, Insert: " world"})
	if err != nil {
		t.Fatalf("ApplyLocalEdit() error = %v", err)
	}
	if err := a.ApplyRemoteDelta(d2); err != nil {
		t.Fatalf("ApplyRemoteDelta() error = %v", err)
	}
	assert.Equal(t, a.Content(), "hello world")

	if err := a.ApplyRemoteDelta(d2); err != nil {
		t.Fatalf("ApplyRemoteDelta(dup) error = %v", err)
	}
	assert.Equal(t, a.Content(), "hello world")
}

func TestReplica_NotifiesSubscribers(t *testing.T) {
	a := New("r1", WithReplicaID("A"))
	b := New("r1", WithReplicaID("B"))

	var changes []Change
	cancel := b.Subscribe(func(c Change) { changes = append(changes, c) })

	d, _ := a.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "hi"})
	_ = b.ApplyRemoteDelta(d)
	_ = b.ApplyRemoteDelta(d)
	local, _ := b.ApplyLocalEdit(crdt.Edit{Index: 2, Insert: "!"})

	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2 (duplicate delta must not notify)", len(changes))
	}
	assert.Equal(t, changes[0].Origin, Remote)
	assert.Equal(t, changes[0].Content, "hi")
	assert.Equal(t, changes[1].Origin, Local)
	assert.Equal(t, changes[1].Content, "hi!")
	assert.Equal(t, string(changes[1].Delta), string(local))

	cancel()
	_, _ = b.ApplyLocalEdit(crdt.Edit{Index: 0, Delete: 1})
	assert.Equal(t, len(changes), 2)
}

func TestReplica_BufferedDeleteDoesNotNotify(t *testing.T) {
	a := New("r1", WithReplicaID("A"))
	b := New("r1", WithReplicaID("B"))

	insert, _ := a.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "x"})
	remove, _ := a.ApplyLocalEdit(crdt.Edit{Index: 0, Delete: 1})

	var changes []Change
	b.Subscribe(func(c Change) { changes = append(changes, c) })

	// the delete overtakes the insert it removes
	if err := b.ApplyRemoteDelta(remove); err != nil {
		t.Fatalf("ApplyRemoteDelta(delete) error = %v", err)
	}
	assert.Equal(t, b.Content(), "")
	assert.Equal(t, len(changes), 0)

	// the insert lands already tombstoned, so visible content never changes
	if err := b.ApplyRemoteDelta(insert); err != nil {
		t.Fatalf("ApplyRemoteDelta(insert) error = %v", err)
	}
	assert.Equal(t, b.Content(), "")
	assert.Equal(t, len(changes), 0)

	// the replica still holds the removed character for later snapshots
	blob, _ := b.EncodeFullState()
	late := New("r1", WithReplicaID("L"))
	if err := late.DecodeFullState(blob); err != nil {
		t.Fatalf("DecodeFullState() error = %v", err)
	}
	assert.Equal(t, late.Content(), "")
	more, _ := a.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "y"})
	if err := late.ApplyRemoteDelta(more); err != nil {
		t.Fatalf("ApplyRemoteDelta() error = %v", err)
	}
	assert.Equal(t, late.Content(), "y")
}

func TestReplica_LocalEditVisibleBeforeNotification(t *testing.T) {
	a := New("r1")
	var seen string
	a.Subscribe(func(Change) { seen = a.Content() })

	_, _ = a.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "x"})
	assert.Equal(t, seen, "x")
}

func TestReplica_EmptyEditYieldsNoDelta(t *testing.T) {
	a := New("r1")
	notified := false
	a.Subscribe(func(Change) { notified = true })

	d, err := a.ApplyLocalEdit(crdt.Edit{Index: 0})
	if err != nil {
		t.Fatalf("ApplyLocalEdit() error = %v", err)
	}
	assert.Equal(t, d == nil, true)
	assert.Equal(t, notified, false)
}

func TestReplica_RejectsMalformedDelta(t *testing.T) {
	a := New("r1", WithReplicaID("A"))
	_, _ = a.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "safe"})

	foreign := New("r2", WithReplicaID("F"))
	fd, _ := foreign.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "evil"})

	tests := []struct {
		name    string
		delta   []byte
		wantErr error
	}{
		{name: "foreign room", delta: fd, wantErr: crdt.ErrForeignDocument},
		{name: "wrong version", delta: []byte(`{"type":"RGADelta","v":9,"doc":"r1","ops":[]}`), wantErr: crdt.ErrUnsupportedVersion},
		{name: "garbage", delta: []byte(`\x00\x01`)},
		{
			name:    "partially valid",
			delta:   []byte(`{"type":"RGADelta","v":1,"doc":"r1","ops":[{"k":"ins","id":{"c":50,"r":"X"},"o":{"c":0,"r":""},"v":"z"},{"k":"ins","id":{"c":51,"r":"X"},"o":{"c":0,"r":""},"v":""}]}`),
			wantErr: crdt.ErrMalformedOp,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := a.ApplyRemoteDelta(tc.delta)
			if err == nil {
				t.Fatalf("ApplyRemoteDelta() error = nil")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("ApplyRemoteDelta() error = %v, want %v", err, tc.wantErr)
			}
			assert.Equal(t, a.Content(), "safe")
		})
	}
}

func TestReplica_FullStateLateJoin(t *testing.T) {
	a := New("r1", WithReplicaID("A"))
	_, _ = a.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "shared history"})
	_, _ = a.ApplyLocalEdit(crdt.Edit{Index: 0, Delete: 7})

	blob, err := a.EncodeFullState()
	if err != nil {
		t.Fatalf("EncodeFullState() error = %v", err)
	}

	late := New("r1", WithReplicaID("L"))
	var notified int
	late.Subscribe(func(Change) { notified++ })
	if err := late.DecodeFullState(blob); err != nil {
		t.Fatalf("DecodeFullState() error = %v", err)
	}
	assert.Equal(t, late.Content(), "history")
	assert.Equal(t, notified, 1)

	if err := late.DecodeFullState(blob); err != nil {
		t.Fatalf("DecodeFullState(again) error = %v", err)
	}
	assert.Equal(t, notified, 1)

	if err := late.DecodeFullState([]byte(`{"type":"RGAState","v":1,"doc":"other","elems":[]}`)); !errors.Is(err, crdt.ErrForeignDocument) {
		t.Errorf("DecodeFullState(foreign) error = %v", err)
	}
}

func TestReplica_Close(t *testing.T) {
	a := New("r1")
	calls := 0
	a.Subscribe(func(Change) { calls++ })

	a.Close()
	a.Close()

	if _, err := a.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("ApplyLocalEdit() after Close error = %v, want ErrClosed", err)
	}
	other := New("r1")
	d, _ := other.ApplyLocalEdit(crdt.Edit{Index: 0, Insert: "y"})
	if err := a.ApplyRemoteDelta(d); !errors.Is(err, ErrClosed) {
		t.Errorf("ApplyRemoteDelta() after Close error = %v, want ErrClosed", err)
	}
	assert.Equal(t, calls, 0)
}
