package awareness

import (
	"bytes"
	"encoding/json"

	"collabsync/pkg/observer"
)

// State is an open JSON record, minimally {"user": {"name", "color"}} and
// optionally {"cursor": {"line", "column"}}.
type State map[string]any

const EventChange = "change"

type Origin string

const (
	OriginLocal   Origin = "local"
	OriginRemote  Origin = "remote"
	OriginTimeout Origin = "timeout"
	OriginRoster  Origin = "roster"
)

// Event is the payload of EventChange. States is the full state map after
// the change, decoded afresh for every event.
type Event struct {
	Origin  Origin
	Added   []string
	Updated []string
	Removed []string
	States  map[string]State
}

// PresenceSource is the contract collaborative-cursor renderers bind to.
// Widget adapters depend on this, not on Registry.
type PresenceSource interface {
	Subscribe(event string, h observer.Handler[Event]) observer.Subscription
	Unsubscribe(s observer.Subscription) bool
	Notify(event string, ev Event)
	GetLocalState() State
	SetLocalState(s State) error
	GetStates() map[string]State
}

var null = []byte("null")

// isNull reports a literal JSON null, the only state that means leave. A
// missing state is malformed, not a leave.
func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), null)
}

// decodeState parses raw into a fresh State; anything but an object fails.
func decodeState(raw json.RawMessage) (State, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var s State
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// User extracts the display identity from a state.
func (s State) User() (name, color string) {
	u, ok := s["user"].(map[string]any)
	if !ok {
		return "", ""
	}
	name, _ = u["name"].(string)
	color, _ = u["color"].(string)
	return name, color
}
