// Package protocol defines the room-scoped messages exchanged with the
// transport. Every message is a flat JSON envelope discriminated by Kind.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"collabsync/pkg/crdt"
)

type Kind string

const (
	KindContentSync    Kind = "content-sync"
	KindPresenceUpdate Kind = "presence-update"
	KindCursorMove     Kind = "cursor-move"
	KindPersistRequest Kind = "persist-request"
	KindRosterUpdate   Kind = "roster-update"

	// join handshake
	KindSyncRequest Kind = "sync-request"
	KindSyncState   Kind = "sync-state"
)

var knownKinds = map[Kind]struct{}{
	KindContentSync:    {},
	KindPresenceUpdate: {},
	KindCursorMove:     {},
	KindPersistRequest: {},
	KindRosterUpdate:   {},
	KindSyncRequest:    {},
	KindSyncState:      {},
}

// Position is a zero-based cursor location in the editing widget.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// User is the display identity of a participant.
type User struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type Participant struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name,omitempty"`
}

// Message is the envelope for every row of the wire table. Only the fields
// relevant to Kind are set.
type Message struct {
	Kind     Kind   `json:"type"`
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId,omitempty"`

	// content-sync; sync-request and sync-state carry a full state
	Delta []byte `json:"delta,omitempty"`
	// sync-state: addressee; empty means every peer
	To string `json:"to,omitempty"`

	// presence-update: null state means the participant left. Clock is the
	// author's HLC stamp, used to discard reordered updates.
	State json.RawMessage `json:"state,omitempty"`
	Clock *crdt.Timestamp `json:"clock,omitempty"`

	// cursor-move
	Position *Position `json:"position,omitempty"`
	User     *User     `json:"user,omitempty"`

	// persist-request
	Persist *PersistRequest `json:"persist,omitempty"`

	// roster-update
	Participants []Participant `json:"participants,omitempty"`
}

// PersistRequest is the debounced intent to save a room's content.
type PersistRequest struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	Content     string    `json:"content"`
	Language    string    `json:"language"`
	RequestedAt time.Time `json:"requestedAt"`
}

// NewPersistRequest stamps a request with a sortable id.
func NewPersistRequest(roomID, content, language string, now time.Time) PersistRequest {
	return PersistRequest{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		RoomID:      roomID,
		Content:     content,
		Language:    language,
		RequestedAt: now,
	}
}

func ContentSync(roomID, clientID string, delta []byte) Message {
	return Message{Kind: KindContentSync, RoomID: roomID, ClientID: clientID, Delta: delta}
}

func PresenceUpdate(roomID, clientID string, state json.RawMessage, clock *crdt.Timestamp) Message {
	return Message{Kind: KindPresenceUpdate, RoomID: roomID, ClientID: clientID, State: state, Clock: clock}
}

func CursorMove(roomID, clientID string, pos Position, user User) Message {
	return Message{Kind: KindCursorMove, RoomID: roomID, ClientID: clientID, Position: &pos, User: &user}
}

func Persist(req PersistRequest) Message {
	return Message{Kind: KindPersistRequest, RoomID: req.RoomID, Persist: &req}
}

func RosterUpdate(roomID string, participants []Participant) Message {
	return Message{Kind: KindRosterUpdate, RoomID: roomID, Participants: participants}
}

// SyncRequest announces a joiner. state is the joiner's own full state, so
// edits it made before joining reach the room too; it may be nil.
func SyncRequest(roomID, clientID string, state []byte) Message {
	return Message{Kind: KindSyncRequest, RoomID: roomID, ClientID: clientID, Delta: state}
}

func SyncState(roomID, clientID, to string, state []byte) Message {
	return Message{Kind: KindSyncState, RoomID: roomID, ClientID: clientID, To: to, Delta: state}
}

// Validate checks the envelope, not the payload semantics.
func (m *Message) Validate() error {
	if _, ok := knownKinds[m.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	switch m.Kind {
	case KindContentSync, KindSyncState:
		if len(m.Delta) == 0 {
			return fmt.Errorf("%w: %s without delta", ErrMissingField, m.Kind)
		}
	case KindPresenceUpdate, KindSyncRequest:
		if m.ClientID == "" {
			return fmt.Errorf("%w: %s without clientId", ErrMissingField, m.Kind)
		}
	case KindCursorMove:
		if m.ClientID == "" || m.Position == nil {
			return fmt.Errorf("%w: cursor-move needs clientId and position", ErrMissingField)
		}
	case KindPersistRequest:
		if m.Persist == nil {
			return fmt.Errorf("%w: persist-request without payload", ErrMissingField)
		}
	}
	return nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates one envelope.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
