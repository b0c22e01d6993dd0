// Package debounce collapses a burst of local content changes into one
// persist request after a quiet period.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"collabsync/pkg/persist"
	"collabsync/pkg/protocol"
	"collabsync/pkg/util/timer"
)

const DefaultWindow = 2 * time.Second

// ContentSource is read when the timer fires, never when a change arrives.
type ContentSource interface {
	Content() string
}

type Option func(*Debouncer)

func WithScheduler(s timer.Scheduler) Option {
	return func(d *Debouncer) { d.sched = s }
}

func WithWindow(w time.Duration) Option {
	return func(d *Debouncer) {
		if w > 0 {
			d.window = w
		}
	}
}

func WithLanguage(lang string) Option {
	return func(d *Debouncer) { d.language = lang }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Debouncer) { d.log = l }
}

// Debouncer holds at most one pending save per room.
type Debouncer struct {
	roomID string
	src    ContentSource
	sink   persist.Sink
	sched  timer.Scheduler
	window time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	language string
	pending  timer.Timer
	gen      uint64
	closed   bool
}

func New(roomID string, src ContentSource, sink persist.Sink, opts ...Option) *Debouncer {
	d := &Debouncer{
		roomID: roomID,
		src:    src,
		sink:   sink,
		sched:  timer.Real{},
		window: DefaultWindow,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("room_id", roomID)
	return d
}

// SetLanguage changes the language sent with the next save.
func (d *Debouncer) SetLanguage(lang string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.language = lang
}

// OnLocalContentChanged restarts the quiet period.
func (d *Debouncer) OnLocalContentChanged() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if d.pending != nil {
		d.pending.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = d.sched.AfterFunc(d.window, func() { d.fire(gen) })
}

// Pending reports whether a save is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.mu.Unlock()

	d.save()
}

// Flush saves now if a save is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.closed || d.pending == nil {
		d.mu.Unlock()
		return
	}
	d.pending.Stop()
	d.pending = nil
	d.gen++
	d.mu.Unlock()

	d.save()
}

func (d *Debouncer) save() {
	d.mu.Lock()
	lang := d.language
	d.mu.Unlock()

	req := protocol.NewPersistRequest(d.roomID, d.src.Content(), lang, d.sched.Now())
	if err := d.sink.Save(context.Background(), req); err != nil {
		d.log.Warn("persist request failed", "request_id", req.ID, "error", err)
		return
	}
	d.log.Debug("persist request sent", "request_id", req.ID, "bytes", len(req.Content))
}

// Close cancels any pending save. Nothing fires afterwards.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}
