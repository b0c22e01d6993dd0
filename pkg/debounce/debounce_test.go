package debounce

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"collabsync/pkg/persist"
	"collabsync/pkg/protocol"
	"collabsync/pkg/util/timer"
)

type doc struct{ text string }

func (d *doc) Content() string { return d.text }

type saved struct {
	at  time.Time
	req protocol.PersistRequest
}

func setup(window time.Duration) (*Debouncer, *doc, *timer.Manual, *[]saved) {
	clock := timer.NewManual(time.Unix(0, 0))
	content := &doc{}
	var got []saved
	sink := persist.SinkFunc(func(_ context.Context, req protocol.PersistRequest) error {
		got = append(got, saved{at: clock.Now(), req: req})
		return nil
	})
	d := New("r1", content, sink, WithScheduler(clock), WithWindow(window), WithLanguage("go"))
	return d, content, clock, &got
}

func TestDebouncer_CollapsesBurst(t *testing.T) {
	d, content, clock, got := setup(5 * time.Second)

	for i, text := range []string{"a", "ab", "abc"} {
		content.text = text
		d.OnLocalContentChanged()
		if i < 2 {
			clock.Advance(time.Second)
		}
	}
	assert.Equal(t, len(*got), 0)

	clock.Advance(4 * time.Second)
	assert.Equal(t, len(*got), 0)

	clock.Advance(time.Second)
	assert.Equal(t, len(*got), 1)
	assert.Equal(t, (*got)[0].at.Equal(time.Unix(7, 0)), true)
	assert.Equal(t, (*got)[0].req.Content, "abc")
	assert.Equal(t, (*got)[0].req.Language, "go")
	assert.Equal(t, (*got)[0].req.RoomID, "r1")
	assert.Equal(t, d.Pending(), false)

	clock.Advance(time.Minute)
	assert.Equal(t, len(*got), 1)
}

func TestDebouncer_ReadsContentAtFireTime(t *testing.T) {
	d, content, clock, got := setup(5 * time.Second)

	content.text = "draft"
	d.OnLocalContentChanged()
	content.text = "final"
	clock.Advance(5 * time.Second)

	assert.Equal(t, len(*got), 1)
	assert.Equal(t, (*got)[0].req.Content, "final")
}

func TestDebouncer_Flush(t *testing.T) {
	d, content, clock, got := setup(5 * time.Second)

	d.Flush()
	assert.Equal(t, len(*got), 0)

	content.text = "x"
	d.OnLocalContentChanged()
	d.Flush()
	assert.Equal(t, len(*got), 1)
	assert.Equal(t, clock.Pending(), 0)

	clock.Advance(10 * time.Second)
	assert.Equal(t, len(*got), 1)
}

func TestDebouncer_CloseCancels(t *testing.T) {
	d, _, clock, got := setup(5 * time.Second)

	d.OnLocalContentChanged()
	d.Close()
	d.Close()
	clock.Advance(10 * time.Second)
	assert.Equal(t, len(*got), 0)

	d.OnLocalContentChanged()
	d.Flush()
	assert.Equal(t, clock.Pending(), 0)
	assert.Equal(t, len(*got), 0)
}

func TestDebouncer_SeparateBursts(t *testing.T) {
	d, content, clock, got := setup(2 * time.Second)

	content.text = "one"
	d.OnLocalContentChanged()
	clock.Advance(3 * time.Second)

	d.SetLanguage("python")
	content.text = "two"
	d.OnLocalContentChanged()
	clock.Advance(3 * time.Second)

	assert.Equal(t, len(*got), 2)
	assert.Equal(t, (*got)[1].req.Content, "two")
	assert.Equal(t, (*got)[1].req.Language, "python")
	assert.NotEqual(t, (*got)[0].req.ID, (*got)[1].req.ID)
}
