package hub

import (
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/rs/zerolog/log"
)

const errSendFailed = "failed to send message"

// relayMessage persists first and only then delivers; a failed write is
// reported to the originating connection and nothing is broadcast.
func (h *Hub) relayMessage(from domain.ConnID, p domain.SendMessage) {
	msg, err := domain.NewMessage(p.SenderID, p.ReceiverID, p.Content, p.At)
	if err != nil {
		h.send(from, domain.EventMessageError, domain.MessageError{Error: err.Error()})
		return
	}

	ctx, cancel := h.storeCtx()
	err = h.messages.CreateMessage(ctx, msg)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Str("conn", string(from)).Msg("persist message")
		h.send(from, domain.EventMessageError, domain.MessageError{Error: errSendFailed})
		return
	}

	delivered := h.sendRoom(domain.RoomOf(msg.ReceiverID), domain.EventReceiveMessage, msg)
	if delivered == 0 {
		log.Debug().Str("module", "hub").Str("receiver", string(msg.ReceiverID)).Msg("recipient offline, message stored only")
	}
	h.sendRoom(domain.RoomOf(msg.SenderID), domain.EventMessageSent, domain.MessageSent{
		Status:    domain.StatusDelivered,
		MessageID: msg.ID,
	})
}
