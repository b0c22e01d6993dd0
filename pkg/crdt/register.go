package crdt

import "sync"

// Register is a last-writer-wins register ordered by HLC timestamps. A write
// only lands if its timestamp is strictly newer than the stored one, so
// redelivered or reordered writes never roll the value back.
type Register[V any] struct {
	mu    sync.RWMutex
	value V
	ts    *Timestamp
}

func NewRegister[V any](value V, ts *Timestamp) *Register[V] {
	return &Register[V]{value: value, ts: ts}
}

// Write stores value if ts is newer than the current stamp and reports
// whether it did.
func (r *Register[V]) Write(value V, ts *Timestamp) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ts != nil && !ts.After(r.ts) {
		return false
	}
	r.value = value
	r.ts = ts
	return true
}

// Read returns the current value and its stamp.
func (r *Register[V]) Read() (V, *Timestamp) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.ts
}
