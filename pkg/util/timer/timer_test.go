package timer

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestManual_FiresInDeadlineOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var fired []string

	m.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	m.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	m.AfterFunc(2*time.Second, func() {
		fired = append(fired, "b")
		m.AfterFunc(time.Second, func() { fired = append(fired, "b+1") })
	})

	m.Advance(2 * time.Second)
	assert.Equal(t, fired, []string{"a", "b"})
	if !m.Now().Equal(time.Unix(2, 0)) {
		t.Errorf("Now() = %v, want %v", m.Now(), time.Unix(2, 0))
	}

	m.Advance(5 * time.Second)
	assert.Equal(t, fired, []string{"a", "b", "c", "b+1"})
	assert.Equal(t, m.Pending(), 0)
}

func TestManual_Stop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	called := false
	tm := m.AfterFunc(time.Second, func() { called = true })

	assert.Equal(t, tm.Stop(), true)
	assert.Equal(t, tm.Stop(), false)
	m.Advance(time.Minute)
	assert.Equal(t, called, false)

	fired := m.AfterFunc(time.Second, func() {})
	m.Advance(time.Second)
	assert.Equal(t, fired.Stop(), false)
}
