package crdt

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"collabsync/pkg/structs"
)

// Edit is a range replace in rune offsets of the visible text, the shape
// editing widgets report changes in: remove Delete runes at Index, then
// insert Insert there.
type Edit struct {
	Index  int    `json:"index"`
	Delete int    `json:"delete"`
	Insert string `json:"insert"`
}

type element struct {
	id      ID
	origin  ID
	value   string
	deleted bool
	next    *element
}

// Text is a replicated growable array of runes. Characters are never
// removed, only tombstoned, and concurrent inserts after the same origin are
// ordered by descending ID, so every replica that integrated the same set of
// ops holds the same sequence regardless of delivery order or duplication.
type Text struct {
	mu      sync.RWMutex
	doc     string
	replica string
	clock   uint64
	head    *element
	index   map[ID]*element
	size    int

	// ops that arrived before what they refer to
	waiting    map[ID][]Op
	tombstones structs.Set[ID]
}

func NewText(doc, replica string) *Text {
	return &Text{
		doc:        doc,
		replica:    replica,
		head:       &element{},
		index:      make(map[ID]*element),
		waiting:    make(map[ID][]Op),
		tombstones: structs.NewSet[ID](),
	}
}

func (t *Text) Doc() string {
	return t.doc
}

func (t *Text) Replica() string {
	return t.replica
}

// String returns the visible text.
func (t *Text) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var b strings.Builder
	for e := t.head.next; e != nil; e = e.next {
		if !e.deleted {
			b.WriteString(e.value)
		}
	}
	return b.String()
}

// Len returns the number of visible runes.
func (t *Text) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Pending returns the number of buffered ops still waiting for a dependency.
func (t *Text) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.tombstones.Size()
	for _, ops := range t.waiting {
		n += len(ops)
	}
	return n
}

// Edit applies local edits in order and returns the delta describing them.
// Either every edit applies or none does.
func (t *Text) Edit(edits ...Edit) (*TextDelta, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkEdits(edits); err != nil {
		return nil, err
	}

	delta := &TextDelta{Doc: t.doc}
	for _, e := range edits {
		if e.Delete > 0 {
			for _, el := range t.visibleRange(e.Index, e.Delete) {
				el.deleted = true
				t.size--
				delta.Ops = append(delta.Ops, Op{Kind: OpDelete, ID: el.id})
			}
		}

		origin := ID{}
		if e.Index > 0 {
			origin = t.visibleRange(e.Index-1, 1)[0].id
		}
		for _, r := range e.Insert {
			t.clock++
			op := Op{
				Kind:   OpInsert,
				ID:     ID{Clock: t.clock, Replica: t.replica},
				Origin: origin,
				Value:  string(r),
			}
			t.integrateInsert(op)
			delta.Ops = append(delta.Ops, op)
			origin = op.ID
		}
	}
	delta.Ops = compact(delta.Ops)
	return delta, nil
}

func (t *Text) checkEdits(edits []Edit) error {
	size := t.size
	for _, e := range edits {
		if e.Index < 0 || e.Delete < 0 || e.Index+e.Delete > size {
			return fmt.Errorf("%w: edit [%d,+%d) on %d runes", ErrPositionOutOfRange, e.Index, e.Delete, size)
		}
		size += utf8.RuneCountInString(e.Insert) - e.Delete
	}
	return nil
}

// visibleRange returns n visible elements starting at visible index from.
// Bounds are checked by the caller.
func (t *Text) visibleRange(from, n int) []*element {
	res := make([]*element, 0, n)
	i := 0
	for e := t.head.next; e != nil && len(res) < n; e = e.next {
		if e.deleted {
			continue
		}
		if i >= from {
			res = append(res, e)
		}
		i++
	}
	return res
}

// Apply validates the whole delta before touching state, then integrates
// it. It reports whether anything new was integrated; re-applying a delta
// is a no-op.
func (t *Text) Apply(d *TextDelta) (bool, error) {
	if err := d.validate(t.doc); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.integrate(expand(d.Ops)), nil
}

func (t *Text) integrate(ops []Op) bool {
	changed := false
	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			changed = t.integrateInsert(op) || changed
		case OpDelete:
			changed = t.integrateDelete(op.ID) || changed
		}
	}
	return changed
}

// integrateInsert places op and then every buffered insert that was waiting
// on it, breadth first. It reports whether visible text changed.
func (t *Text) integrateInsert(op Op) bool {
	changed := false
	queue := []Op{op}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		el := t.place(next)
		if el == nil {
			continue
		}
		changed = changed || !el.deleted
		if children, ok := t.waiting[next.ID]; ok {
			delete(t.waiting, next.ID)
			queue = append(queue, children...)
		}
	}
	return changed
}

// place links op into the sequence and returns the new element, or nil when
// op was a duplicate or had to wait for its origin.
func (t *Text) place(op Op) *element {
	if _, seen := t.index[op.ID]; seen {
		return nil
	}

	left := t.head
	if !op.Origin.IsZero() {
		origin, ok := t.index[op.Origin]
		if !ok {
			t.wait(op)
			return nil
		}
		left = origin
	}
	for left.next != nil && op.ID.Less(left.next.id) {
		left = left.next
	}

	el := &element{id: op.ID, origin: op.Origin, value: op.Value, next: left.next}
	left.next = el
	t.index[el.id] = el
	t.clock = max(t.clock, el.id.Clock)

	if t.tombstones.Contains(el.id) {
		t.tombstones.Remove(el.id)
		el.deleted = true
	} else {
		t.size++
	}
	return el
}

func (t *Text) wait(op Op) {
	queued := t.waiting[op.Origin]
	if slices.ContainsFunc(queued, func(q Op) bool { return q.ID == op.ID }) {
		return
	}
	t.waiting[op.Origin] = append(queued, op)
}

// integrateDelete reports whether visible text changed. A delete for a
// character not seen yet is only buffered.
func (t *Text) integrateDelete(id ID) bool {
	el, ok := t.index[id]
	if !ok {
		t.tombstones.Add(id)
		return false
	}
	if el.deleted {
		return false
	}
	el.deleted = true
	t.size--
	return true
}

// State returns the full state, tombstones and buffered ops included.
func (t *Text) State() *TextState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := &TextState{Doc: t.doc, Elems: []Elem{}}
	var (
		run  strings.Builder
		last ID
	)
	flush := func() {
		if n := len(st.Elems); n > 0 {
			st.Elems[n-1].Value = run.String()
		}
		run.Reset()
	}
	for e := t.head.next; e != nil; e = e.next {
		if n := len(st.Elems); n > 0 && e.id == last.next() && e.origin == last && e.deleted == st.Elems[n-1].Deleted {
			run.WriteString(e.value)
			last = e.id
			continue
		}
		flush()
		st.Elems = append(st.Elems, Elem{ID: e.id, Origin: e.origin, Deleted: e.deleted})
		run.WriteString(e.value)
		last = e.id
	}
	flush()

	var pending []Op
	for _, origin := range sortedIDs(t.waiting) {
		pending = append(pending, t.waiting[origin]...)
	}
	tombstones := slices.Collect(t.tombstones.All())
	slices.SortFunc(tombstones, compareIDs)
	for _, id := range tombstones {
		pending = append(pending, Op{Kind: OpDelete, ID: id})
	}
	if len(pending) > 0 {
		st.Pending = compact(pending)
	}
	return st
}

func (t *Text) Snapshot() ([]byte, error) {
	return json.Marshal(t.State())
}

// MergeSnapshot merges an encoded full state into t and reports whether the
// visible text changed. It never discards local content, so it is safe on a
// replica that already has edits of its own.
func (t *Text) MergeSnapshot(data []byte) (bool, error) {
	var st TextState
	if err := json.Unmarshal(data, &st); err != nil {
		return false, err
	}
	return t.Merge(&st)
}

func (t *Text) Merge(st *TextState) (bool, error) {
	if st.Doc != t.doc {
		return false, fmt.Errorf("%w: got %q, want %q", ErrForeignDocument, st.Doc, t.doc)
	}
	ops := st.ops()
	for _, op := range ops {
		if err := op.validate(); err != nil {
			return false, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.integrate(expand(ops)), nil
}

func sortedIDs(m map[ID][]Op) []ID {
	ids := make([]ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	return ids
}
