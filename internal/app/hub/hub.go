// Package hub is the presence and relay hub. All room membership, presence
// and call bookkeeping happens on one event loop goroutine, so handlers
// never run concurrently and need no locks.
package hub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/Pulse/internal/app"
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultStoreTimeout = 5 * time.Second

type Options struct {
	Presence     core.PresenceStore
	Messages     core.MessageStore
	Policy       app.Policy
	StoreTimeout time.Duration
	QueueSize    int
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evInbound
)

type event struct {
	kind eventKind
	conn domain.ConnID
	sc   core.SignalConnection
	in   domain.Inbound
}

type Hub struct {
	registry     *app.Registry
	presence     core.PresenceStore
	messages     core.MessageStore
	policy       app.Policy
	storeTimeout time.Duration

	calls map[domain.ConnID]*call

	events chan event
	done   chan struct{}
	count  atomic.Int64
	now    func() time.Time
}

func New(opts Options) *Hub {
	if opts.Policy == nil {
		opts.Policy = app.SimplePolicy{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	return &Hub{
		registry:     app.NewRegistry(),
		presence:     opts.Presence,
		messages:     opts.Messages,
		policy:       opts.Policy,
		storeTimeout: opts.StoreTimeout,
		calls:        make(map[domain.ConnID]*call),
		events:       make(chan event, opts.QueueSize),
		done:         make(chan struct{}),
		now:          time.Now,
	}
}

// Run processes events until ctx is cancelled. Events submitted after
// that are discarded.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	log.Info().Str("module", "hub").Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "hub").Msg("event loop stopped")
			return nil
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

// Connect registers a transport and returns its new connection id.
func (h *Hub) Connect(sc core.SignalConnection) domain.ConnID {
	id := domain.ConnID(uuid.NewString())
	h.enqueue(event{kind: evConnect, conn: id, sc: sc})
	return id
}

func (h *Hub) Dispatch(id domain.ConnID, in domain.Inbound) {
	h.enqueue(event{kind: evInbound, conn: id, in: in})
}

func (h *Hub) Disconnect(id domain.ConnID) {
	h.enqueue(event{kind: evDisconnect, conn: id})
}

// Connections is safe to call from any goroutine.
func (h *Hub) Connections() int64 { return h.count.Load() }

func (h *Hub) enqueue(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case evConnect:
		h.registry.Bind(ev.conn, ev.sc)
		h.count.Store(int64(h.registry.Count()))
	case evDisconnect:
		h.onDisconnect(ev.conn)
		h.count.Store(int64(h.registry.Count()))
	case evInbound:
		h.onInbound(ev.conn, ev.in)
	}
}

func (h *Hub) onInbound(id domain.ConnID, in domain.Inbound) {
	if _, ok := h.registry.Conn(id); !ok {
		log.Warn().Str("module", "hub").Str("conn", string(id)).Str("event", string(in.Name())).Msg("event from unknown connection")
		return
	}
	switch e := in.(type) {
	case domain.JoinRoom:
		h.join(id, e.UserID)
	case domain.SendMessage:
		h.relayMessage(id, e)
	case domain.CallUser:
		h.relayCallInvite(id, e)
	case domain.AnswerCall:
		h.relayCallAnswer(id, e)
	case domain.IceCandidate:
		h.relayIceCandidate(id, e)
	case domain.HangUp:
		h.relayHangup(id, e)
	default:
		log.Warn().Str("module", "hub").Str("event", string(in.Name())).Msg("unhandled event")
	}
}

func (h *Hub) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.storeTimeout)
}

// send delivers one event to one connection; it reports false when the
// connection is gone or its queue was full.
func (h *Hub) send(id domain.ConnID, name domain.EventName, payload any) bool {
	frame, err := domain.Encode(name, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("encode")
		return false
	}
	return h.sendFrame(id, frame)
}

func (h *Hub) sendFrame(id domain.ConnID, frame core.Frame) bool {
	conn, ok := h.registry.Conn(id)
	if !ok {
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		switch h.policy.OnBackPressure(id, conn) {
		case app.KickMember:
			log.Warn().Err(err).Str("module", "hub").Str("conn", string(id)).Msg("slow connection kicked")
			// The read pump notices the closed socket and reports the disconnect.
			conn.Close()
		case app.MarkSlow, app.DropFrame, app.NoAction:
			log.Warn().Err(err).Str("module", "hub").Str("conn", string(id)).Msg("frame dropped")
		}
		return false
	}
	return true
}

// sendRoom fans one event out to every member of room and returns how many
// connections accepted it.
func (h *Hub) sendRoom(room domain.RoomID, name domain.EventName, payload any) int {
	frame, err := domain.Encode(name, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("encode")
		return 0
	}
	sent := 0
	for _, id := range h.registry.MembersOfRoom(room) {
		if h.sendFrame(id, frame) {
			sent++
		}
	}
	return sent
}

func (h *Hub) sendTo(ids []domain.ConnID, name domain.EventName, payload any) int {
	if len(ids) == 0 {
		return 0
	}
	frame, err := domain.Encode(name, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("encode")
		return 0
	}
	sent := 0
	for _, id := range ids {
		if h.sendFrame(id, frame) {
			sent++
		}
	}
	return sent
}
