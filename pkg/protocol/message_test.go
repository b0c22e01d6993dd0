package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Kind
		wantErr error
	}{
		{
			name: "content sync",
			data: `{"type":"content-sync","roomId":"r1","clientId":"a","delta":"AQID"}`,
			want: KindContentSync,
		},
		{
			name: "presence update with null state",
			data: `{"type":"presence-update","roomId":"r1","clientId":"a","state":null}`,
			want: KindPresenceUpdate,
		},
		{
			name: "cursor move",
			data: `{"type":"cursor-move","roomId":"r1","clientId":"a","position":{"line":1,"column":2},"user":{"name":"Ann"}}`,
			want: KindCursorMove,
		},
		{
			name: "roster update",
			data: `{"type":"roster-update","roomId":"r1","participants":[{"clientId":"a"}]}`,
			want: KindRosterUpdate,
		},
		{
			name:    "unknown type",
			data:    `{"type":"chat","roomId":"r1"}`,
			wantErr: ErrUnknownKind,
		},
		{
			name:    "missing room",
			data:    `{"type":"sync-request","clientId":"a"}`,
			wantErr: ErrMissingRoom,
		},
		{
			name:    "content sync without delta",
			data:    `{"type":"content-sync","roomId":"r1"}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "cursor without position",
			data:    `{"type":"cursor-move","roomId":"r1","clientId":"a"}`,
			wantErr: ErrMissingField,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Decode([]byte(tc.data))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			assert.Equal(t, m.Kind, tc.want)
		})
	}
}

func TestEncode_PresenceKeepsNullState(t *testing.T) {
	data, err := Encode(PresenceUpdate("r1", "a", json.RawMessage("null"), nil))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	assert.Equal(t, string(m.State), "null")
}

func TestNewPersistRequest(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewPersistRequest("r1", "hello", "go", now)
	b := NewPersistRequest("r1", "hello", "go", now.Add(time.Second))

	assert.Equal(t, a.RoomID, "r1")
	assert.Equal(t, a.Content, "hello")
	assert.Equal(t, a.Language, "go")
	if a.ID >= b.ID {
		t.Errorf("ids not time ordered: %s >= %s", a.ID, b.ID)
	}

	m := Persist(a)
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
