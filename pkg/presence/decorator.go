package presence

import (
	"fmt"
	"hash/fnv"
	"time"

	"collabsync/pkg/protocol"
)

// Range is a span in the editing widget. A bare cursor has Start == End.
type Range struct {
	Start protocol.Position
	End   protocol.Position
}

func CursorRange(pos protocol.Position) Range {
	return Range{Start: pos, End: pos}
}

// Style describes how a remote marker is drawn.
type Style struct {
	Label     string
	Color     string
	ClassName string
}

// Disposer removes one decoration. Implementations need not be idempotent;
// Markers guarantees each disposer runs at most once.
type Disposer func()

// Decorator is the decoration API of the editing widget. ttl is a hint; the
// marker manager removes the decoration itself when the dwell time elapses.
type Decorator interface {
	Decorate(r Range, s Style, ttl time.Duration) Disposer
}

var palette = []string{"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4", "#42d4f4", "#f032e6", "#469990"}

// StyleFor derives a marker style from a user, falling back to a color
// picked from the name so one user keeps one color.
func StyleFor(clientID string, u protocol.User) Style {
	label := u.Name
	if label == "" {
		label = clientID
	}
	color := u.Color
	if color == "" {
		h := fnv.New32a()
		h.Write([]byte(label))
		color = palette[h.Sum32()%uint32(len(palette))]
	}
	return Style{Label: label, Color: color, ClassName: fmt.Sprintf("remote-cursor-%s", clientID)}
}

// Nop draws nothing. Headless participants use it.
type Nop struct{}

func (Nop) Decorate(Range, Style, time.Duration) Disposer {
	return func() {}
}
