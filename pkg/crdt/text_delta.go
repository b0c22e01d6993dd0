package crdt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	TextDeltaName = "RGADelta"
	TextStateName = "RGAState"

	// FormatVersion tags every encoded delta and state.
	FormatVersion = 1

	// MaxDeleteRun bounds the count of one delete op, since a run is
	// expanded in memory before integration.
	MaxDeleteRun = 1 << 20
)

// ID identifies one character across all replicas: a Lamport clock plus the
// replica that generated it.
type ID struct {
	Clock   uint64 `json:"c"`
	Replica string `json:"r"`
}

func (id ID) IsZero() bool {
	return id.Clock == 0 && id.Replica == ""
}

func (id ID) Less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Replica < other.Replica
}

func (id ID) next() ID {
	return ID{Clock: id.Clock + 1, Replica: id.Replica}
}

func compareIDs(a, b ID) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%s", id.Clock, id.Replica)
}

type OpKind string

const (
	OpInsert OpKind = "ins"
	OpDelete OpKind = "del"
)

// Op is one replicated mutation. For inserts ID names the first new character
// and Origin the character it was typed after (zero for the document start).
// A multi-rune Value is a run: rune i gets ID.Clock+i on the same replica and
// is typed after rune i-1. For deletes ID names the first removed character and
// N, when above one, the number of consecutive clocks removed.
type Op struct {
	Kind   OpKind `json:"k"`
	ID     ID     `json:"id"`
	Origin ID     `json:"o"`
	Value  string `json:"v,omitempty"`
	N      int    `json:"n,omitempty"`
}

// span is the number of characters the op covers.
func (op Op) span() int {
	if op.Kind == OpInsert {
		return utf8.RuneCountInString(op.Value)
	}
	if op.N > 1 {
		return op.N
	}
	return 1
}

func (op Op) last() ID {
	return ID{Clock: op.ID.Clock + uint64(op.span()) - 1, Replica: op.ID.Replica}
}

func (op Op) validate() error {
	switch op.Kind {
	case OpInsert:
		if op.ID.Clock == 0 || op.ID.Replica == "" {
			return fmt.Errorf("%w: insert without id", ErrMalformedOp)
		}
		if !op.Origin.IsZero() && op.Origin.Clock >= op.ID.Clock {
			return fmt.Errorf("%w: origin %s does not precede %s", ErrMalformedOp, op.Origin, op.ID)
		}
		if op.Value == "" || !utf8.ValidString(op.Value) {
			return fmt.Errorf("%w: insert %s must carry valid text", ErrMalformedOp, op.ID)
		}
		if op.N != 0 {
			return fmt.Errorf("%w: insert %s carries a delete count", ErrMalformedOp, op.ID)
		}
	case OpDelete:
		if op.ID.IsZero() {
			return fmt.Errorf("%w: delete without target", ErrMalformedOp)
		}
		if op.N < 0 || op.N > MaxDeleteRun {
			return fmt.Errorf("%w: delete %s with count %d", ErrMalformedOp, op.ID, op.N)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedOp, op.Kind)
	}
	if uint64(op.span()-1) > math.MaxUint64-op.ID.Clock {
		return fmt.Errorf("%w: run at %s overflows the clock", ErrMalformedOp, op.ID)
	}
	return nil
}

// expand splits runs into one op per character.
func expand(ops []Op) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			id, origin := op.ID, op.Origin
			for _, r := range op.Value {
				out = append(out, Op{Kind: OpInsert, ID: id, Origin: origin, Value: string(r)})
				origin, id = id, id.next()
			}
		case OpDelete:
			id := op.ID
			for i := op.span(); i > 0; i-- {
				out = append(out, Op{Kind: OpDelete, ID: id})
				id = id.next()
			}
		}
	}
	return out
}

// compact folds consecutive ops into runs: an insert whose id follows the
// previous insert's last id and whose origin is that id, or a delete of the
// next clock of the same replica.
func compact(ops []Op) []Op {
	var (
		out  = make([]Op, 0, len(ops))
		run  strings.Builder
		last ID
	)
	flush := func() {
		if n := len(out); n > 0 && out[n-1].Kind == OpInsert {
			out[n-1].Value = run.String()
		}
		run.Reset()
	}
	for _, op := range ops {
		if n := len(out); n > 0 && out[n-1].Kind == op.Kind && op.ID == last.next() {
			switch op.Kind {
			case OpDelete:
				if merged := out[n-1].span() + op.span(); merged <= MaxDeleteRun {
					out[n-1].N = merged
					last = op.last()
					continue
				}
			case OpInsert:
				if op.Origin == last {
					run.WriteString(op.Value)
					last = op.last()
					continue
				}
			}
		}
		flush()
		out = append(out, op)
		run.WriteString(op.Value)
		last = op.last()
	}
	flush()
	return out
}

// TextDelta is a batch of ops produced by one local edit.
type TextDelta struct {
	Doc string `json:"doc"`
	Ops []Op   `json:"ops"`
}

func (d *TextDelta) Type() string {
	return TextDeltaName
}

func (d *TextDelta) validate(doc string) error {
	if d.Doc != doc {
		return fmt.Errorf("%w: got %q, want %q", ErrForeignDocument, d.Doc, doc)
	}
	for _, op := range d.Ops {
		if err := op.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (d *TextDelta) MarshalJSON() ([]byte, error) {
	type Alias TextDelta
	return json.Marshal(struct {
		Type    string `json:"type"`
		Version int    `json:"v"`
		*Alias
	}{
		Type:    TextDeltaName,
		Version: FormatVersion,
		Alias:   (*Alias)(d),
	})
}

func (d *TextDelta) UnmarshalJSON(data []byte) error {
	type Alias TextDelta
	aux := struct {
		Type    string `json:"type"`
		Version int    `json:"v"`
		*Alias
	}{
		Alias: (*Alias)(d),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Type != TextDeltaName {
		return fmt.Errorf("%w: expected %s, got %q", ErrInvalidDeltaType, TextDeltaName, aux.Type)
	}
	if aux.Version != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, aux.Version)
	}
	return nil
}

// DecodeTextDelta parses an encoded delta without applying it.
func DecodeTextDelta(data []byte) (*TextDelta, error) {
	var d TextDelta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Elem is a run of characters of an encoded full state, tombstones included.
// Runs follow the same rule as insert ops; every rune of a run shares Deleted.
type Elem struct {
	ID      ID     `json:"id"`
	Origin  ID     `json:"o"`
	Value   string `json:"v"`
	Deleted bool   `json:"d,omitempty"`
}

// TextState is the compact full state used to bootstrap late joiners.
type TextState struct {
	Doc     string `json:"doc"`
	Elems   []Elem `json:"elems"`
	Pending []Op   `json:"pending,omitempty"`
}

func (s *TextState) ops() []Op {
	ops := make([]Op, 0, len(s.Elems)+len(s.Pending))
	for _, e := range s.Elems {
		ins := Op{Kind: OpInsert, ID: e.ID, Origin: e.Origin, Value: e.Value}
		ops = append(ops, ins)
		if e.Deleted {
			id := e.ID
			for left := ins.span(); left > 0; left -= MaxDeleteRun {
				n := min(left, MaxDeleteRun)
				ops = append(ops, Op{Kind: OpDelete, ID: id, N: n})
				id.Clock += uint64(n)
			}
		}
	}
	return append(ops, s.Pending...)
}

func (s *TextState) MarshalJSON() ([]byte, error) {
	type Alias TextState
	return json.Marshal(struct {
		Type    string `json:"type"`
		Version int    `json:"v"`
		*Alias
	}{
		Type:    TextStateName,
		Version: FormatVersion,
		Alias:   (*Alias)(s),
	})
}

func (s *TextState) UnmarshalJSON(data []byte) error {
	type Alias TextState
	aux := struct {
		Type    string `json:"type"`
		Version int    `json:"v"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Type != TextStateName {
		return fmt.Errorf("%w: expected %s, got %q", ErrInvalidDeltaType, TextStateName, aux.Type)
	}
	if aux.Version != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, aux.Version)
	}
	return nil
}
