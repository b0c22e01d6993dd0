// Package session wires the sync components for one participant in one
// room and routes inbound room traffic to them.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabsync/pkg/awareness"
	"collabsync/pkg/crdt"
	"collabsync/pkg/debounce"
	"collabsync/pkg/docsync"
	"collabsync/pkg/persist"
	"collabsync/pkg/presence"
	"collabsync/pkg/protocol"
	"collabsync/pkg/replica"
	"collabsync/pkg/transport"
	"collabsync/pkg/util/timer"
)

type Options struct {
	RoomID   string
	ClientID string
	User     protocol.User
	Language string

	Transport transport.Transport
	// Decorator draws remote cursors; nil draws nothing.
	Decorator presence.Decorator
	// Sink receives debounced saves; nil publishes persist-request on the
	// transport.
	Sink      persist.Sink
	Scheduler timer.Scheduler
	Logger    *slog.Logger

	MarkerDwell    time.Duration
	StaleTimeout   time.Duration
	RenewInterval  time.Duration
	DebounceWindow time.Duration
}

type Room struct {
	roomID   string
	clientID string
	tr       transport.Transport
	log      *slog.Logger

	replica   *replica.Replica
	channel   *docsync.Channel
	awareness *awareness.Registry
	cursors   *presence.Broadcaster
	debouncer *debounce.Debouncer

	cancels []func()

	mu   sync.Mutex
	left bool
}

// Join builds every component, subscribes to the transport, runs the join
// handshake and announces the participant's presence.
func Join(ctx context.Context, o Options) (*Room, error) {
	if o.RoomID == "" {
		return nil, ErrMissingRoom
	}
	if o.Transport == nil {
		return nil, ErrMissingTransport
	}
	if o.ClientID == "" {
		o.ClientID = uuid.NewString()
	}
	if o.Scheduler == nil {
		o.Scheduler = timer.Real{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Decorator == nil {
		o.Decorator = presence.Nop{}
	}
	if o.Sink == nil {
		o.Sink = persist.NewTransportSink(o.Transport)
	}

	r := &Room{
		roomID:   o.RoomID,
		clientID: o.ClientID,
		tr:       o.Transport,
		log:      o.Logger.With("room_id", o.RoomID, "client_id", o.ClientID),
	}

	r.replica = replica.New(o.RoomID, replica.WithReplicaID(o.ClientID), replica.WithLogger(o.Logger))

	awOpts := []awareness.Option{
		awareness.WithPublisher(o.Transport),
		awareness.WithScheduler(o.Scheduler),
		awareness.WithClock(crdt.NewClock(o.ClientID)),
		awareness.WithLogger(o.Logger),
	}
	if o.StaleTimeout > 0 {
		awOpts = append(awOpts, awareness.WithStaleTimeout(o.StaleTimeout))
	}
	if o.RenewInterval > 0 {
		awOpts = append(awOpts, awareness.WithRenewInterval(o.RenewInterval))
	}
	r.awareness = awareness.New(o.RoomID, o.ClientID, awOpts...)

	markers := presence.NewMarkers(o.Decorator, o.Scheduler, o.MarkerDwell, o.Logger)
	r.cursors = presence.NewBroadcaster(o.RoomID, o.ClientID, o.Transport, markers, o.Logger)
	r.cursors.SetUser(o.User)

	r.debouncer = debounce.New(o.RoomID, r.replica, o.Sink,
		debounce.WithScheduler(o.Scheduler),
		debounce.WithWindow(o.DebounceWindow),
		debounce.WithLanguage(o.Language),
		debounce.WithLogger(o.Logger),
	)

	r.cancels = append(r.cancels,
		r.replica.Subscribe(func(ch replica.Change) {
			if ch.Origin == replica.Local {
				r.debouncer.OnLocalContentChanged()
			}
		}),
		o.Transport.Subscribe(r.dispatch),
	)

	sub := r.awareness.Subscribe(awareness.EventChange, func(ev awareness.Event) {
		for _, id := range ev.Removed {
			r.cursors.Forget(id)
		}
	})
	r.cancels = append(r.cancels, func() { r.awareness.Unsubscribe(sub) })

	r.channel = docsync.Open(ctx, o.RoomID, o.ClientID, r.replica, o.Transport, o.Logger)

	if err := r.awareness.SetLocalState(awareness.State{"user": o.User}); err != nil {
		r.Leave()
		return nil, err
	}
	r.awareness.StartLiveness()

	r.log.Info("joined room")
	return r, nil
}

// dispatch routes presence traffic. Content and the join handshake are
// handled by the sync channel's own subscription.
func (r *Room) dispatch(msg protocol.Message) {
	if msg.RoomID != r.roomID {
		return
	}
	switch msg.Kind {
	case protocol.KindPresenceUpdate:
		if msg.ClientID == r.clientID {
			return
		}
		if err := r.awareness.ApplyMessage(msg); err != nil {
			r.log.Warn("dropping presence-update", "from", msg.ClientID, "error", err)
		}
	case protocol.KindCursorMove:
		r.cursors.OnRemoteMessage(msg)
	case protocol.KindRosterUpdate:
		removed := r.awareness.ApplyRoster(msg.Participants)
		if len(removed) > 0 {
			r.log.Info("participants left", "clients", removed)
		}
	case protocol.KindSyncRequest:
		// a joiner needs to learn who is already here
		if msg.ClientID != r.clientID {
			r.awareness.Renew()
		}
	}
}

func (r *Room) ID() string { return r.roomID }

func (r *Room) ClientID() string { return r.clientID }

func (r *Room) Content() string { return r.replica.Content() }

func (r *Room) Replica() *replica.Replica { return r.replica }

func (r *Room) Awareness() *awareness.Registry { return r.awareness }

// Presence is the seam cursor renderers bind to.
func (r *Room) Presence() awareness.PresenceSource { return r.awareness }

// Edit applies a local edit; the delta goes out through the sync channel.
func (r *Room) Edit(edits ...crdt.Edit) error {
	_, err := r.replica.ApplyLocalEdit(edits...)
	return err
}

// MoveCursor broadcasts the cursor and records it in the awareness state.
func (r *Room) MoveCursor(ctx context.Context, pos protocol.Position) error {
	if err := r.cursors.OnLocalCursorMove(ctx, pos); err != nil {
		return err
	}
	return r.awareness.SetLocalStateField("cursor", pos)
}

// SetUser changes the display identity everywhere it is broadcast.
func (r *Room) SetUser(u protocol.User) error {
	r.cursors.SetUser(u)
	return r.awareness.SetLocalStateField("user", u)
}

func (r *Room) SetLanguage(lang string) {
	r.debouncer.SetLanguage(lang)
}

// Reconnect resends everything peers may have missed while the transport
// was down.
func (r *Room) Reconnect(ctx context.Context) {
	r.channel.Resync()
	r.awareness.Renew()
	if err := r.cursors.Resend(ctx); err != nil {
		r.log.Warn("cursor resend failed", "error", err)
	}
}

// Leave flushes a pending save, announces the departure and releases
// everything. Safe to call more than once.
func (r *Room) Leave() {
	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return
	}
	r.left = true
	r.mu.Unlock()

	r.debouncer.Flush()
	r.awareness.Leave()

	for _, cancel := range r.cancels {
		cancel()
	}
	if r.channel != nil {
		r.channel.Close()
	}
	r.debouncer.Close()
	r.cursors.Close()
	r.awareness.Close()
	r.replica.Close()
	r.log.Info("left room")
}
