package hub

import (
	"slices"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/rs/zerolog/log"
)

// call tracks who is involved in one call so the hub can tell the other
// side when somebody disconnects. Offers, answers and candidates are never
// stored.
type call struct {
	caller  domain.ConnID
	callee  domain.RoomID
	ringing map[domain.ConnID]struct{}
	// answeredBy is empty until one of the ringing connections answers.
	answeredBy domain.ConnID
}

func (c *call) participants() []domain.ConnID {
	out := []domain.ConnID{c.caller}
	for id := range c.ringing {
		out = append(out, id)
	}
	if c.answeredBy != "" {
		out = append(out, c.answeredBy)
	}
	return out
}

func (h *Hub) relayCallInvite(from domain.ConnID, e domain.CallUser) {
	room := domain.RoomOf(e.To)
	members := h.registry.MembersOfRoom(room)
	if len(members) == 0 {
		log.Info().Str("module", "hub").Str("conn", string(from)).Str("to", string(e.To)).Msg("callee offline, invite dropped")
		return
	}
	h.leaveCall(from)

	c := &call{caller: from, callee: room, ringing: make(map[domain.ConnID]struct{})}
	for _, id := range members {
		if id == from {
			continue
		}
		if _, busy := h.calls[id]; busy {
			continue
		}
		c.ringing[id] = struct{}{}
	}
	if len(c.ringing) == 0 {
		h.send(from, domain.EventCallEnded, nil)
		log.Info().Str("module", "hub").Str("conn", string(from)).Str("to", string(e.To)).Msg("callee busy")
		return
	}

	h.calls[from] = c
	ids := make([]domain.ConnID, 0, len(c.ringing))
	for id := range c.ringing {
		h.calls[id] = c
		ids = append(ids, id)
	}
	n := h.sendTo(ids, domain.EventIncomingCall, domain.IncomingCall{From: from, Offer: e.Offer})
	log.Info().Str("module", "hub").Str("conn", string(from)).Str("to", string(e.To)).Int("sent_to", n).Msg("call invite relayed")
}

// relayCallAnswer goes to the caller's connection, not its room: the callee
// only learned a connection id from incoming-call.
func (h *Hub) relayCallAnswer(from domain.ConnID, e domain.AnswerCall) {
	if !h.send(e.To, domain.EventCallAccepted, domain.CallAccepted{Answer: e.Answer}) {
		log.Info().Str("module", "hub").Str("conn", string(from)).Str("to", string(e.To)).Msg("caller gone, answer dropped")
		return
	}

	c, ok := h.calls[e.To]
	if !ok || c.caller != e.To || c.answeredBy != "" {
		c = &call{caller: e.To}
		h.calls[e.To] = c
	}
	c.answeredBy = from
	h.calls[from] = c

	// Other tabs of the callee stop ringing.
	for id := range c.ringing {
		if id == from {
			continue
		}
		h.send(id, domain.EventCallEnded, nil)
		delete(h.calls, id)
	}
	c.ringing = nil
	log.Info().Str("module", "hub").Str("conn", string(from)).Str("caller", string(e.To)).Msg("call answered")
}

func (h *Hub) relayIceCandidate(from domain.ConnID, e domain.IceCandidate) {
	if h.sendCallTarget(from, e.To, domain.EventIceCandidate, domain.RelayedCandidate{Candidate: e.Candidate}) == 0 {
		log.Debug().Str("module", "hub").Str("conn", string(from)).Str("to", e.To).Msg("candidate dropped, no target")
	}
}

func (h *Hub) relayHangup(from domain.ConnID, e domain.HangUp) {
	notified := h.callTargets(from, e.To)
	h.sendCallTarget(from, e.To, domain.EventCallEnded, nil)
	if c, ok := h.calls[from]; ok {
		h.finishCall(c, from, notified)
	}
	log.Info().Str("module", "hub").Str("conn", string(from)).Str("to", e.To).Msg("hang-up relayed")
}

// callTargets maps a relay target to connections: a live connection id wins,
// otherwise the target is read as a room id. Room members that are part of
// a call other than from's are left out.
func (h *Hub) callTargets(from domain.ConnID, target string) []domain.ConnID {
	if _, ok := h.registry.Conn(domain.ConnID(target)); ok {
		return []domain.ConnID{domain.ConnID(target)}
	}
	own := h.calls[from]
	var out []domain.ConnID
	for _, id := range h.registry.MembersOfRoom(domain.RoomID(target)) {
		if c, ok := h.calls[id]; ok && c != own {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (h *Hub) sendCallTarget(from domain.ConnID, target string, name domain.EventName, payload any) int {
	return h.sendTo(h.callTargets(from, target), name, payload)
}

// leaveCall removes id from whatever call it is part of. Losing the caller
// or the answering side ends the call for everybody.
func (h *Hub) leaveCall(id domain.ConnID) {
	c, ok := h.calls[id]
	if !ok {
		return
	}
	if id == c.caller || id == c.answeredBy {
		h.finishCall(c, id, nil)
		return
	}
	// A ringing tab went away; the caller only hears about it once no
	// other tab is left ringing.
	delete(c.ringing, id)
	delete(h.calls, id)
	if len(c.ringing) == 0 && c.answeredBy == "" {
		h.finishCall(c, id, nil)
	}
}

// finishCall sends call-ended to every participant except the initiator
// and those already notified, then forgets the call.
func (h *Hub) finishCall(c *call, initiator domain.ConnID, notified []domain.ConnID) {
	for _, id := range c.participants() {
		if id == initiator || slices.Contains(notified, id) {
			continue
		}
		h.send(id, domain.EventCallEnded, nil)
	}
	for _, id := range c.participants() {
		if h.calls[id] == c {
			delete(h.calls, id)
		}
	}
}
