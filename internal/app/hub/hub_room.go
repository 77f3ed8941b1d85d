package hub

import (
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/rs/zerolog/log"
)

func (h *Hub) join(id domain.ConnID, uid domain.UserID) {
	if uid == "" {
		log.Warn().Str("module", "hub").Str("conn", string(id)).Msg("join without user id ignored")
		return
	}
	room := domain.RoomOf(uid)
	first, joined := h.registry.Join(id, room)
	if !joined {
		return
	}
	log.Info().Str("module", "hub").Str("conn", string(id)).Str("user", string(uid)).Msg("joined")
	if first {
		h.writePresence(uid, true)
	}
}

// onDisconnect drops the connection from its rooms, marks users whose last
// connection it was as offline and ends any call it took part in.
func (h *Hub) onDisconnect(id domain.ConnID) {
	if _, ok := h.registry.Conn(id); !ok {
		return
	}
	// Unbind first so call teardown does not try to notify the dead socket.
	emptied := h.registry.Unbind(id)
	h.leaveCall(id)

	for _, room := range emptied {
		h.writePresence(domain.UserID(room), false)
	}
	log.Info().Str("module", "hub").Str("conn", string(id)).Msg("disconnected")
}

// writePresence is last-write-wins; failures are logged and the event
// loop moves on.
func (h *Hub) writePresence(uid domain.UserID, online bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := h.storeCtx()
	defer cancel()
	if err := h.presence.UpdatePresence(ctx, uid, online, h.now()); err != nil {
		log.Error().Err(err).Str("module", "hub").Str("user", string(uid)).Bool("online", online).Msg("presence write failed")
		return
	}
	log.Debug().Str("module", "hub").Str("user", string(uid)).Bool("online", online).Msg("presence written")
}
