package call

import (
	"encoding/json"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/rs/zerolog/log"
)

// HandleEvent feeds one server-to-client frame into the controller.
// Events that are not about calls are ignored.
func (c *Controller) HandleEvent(env domain.Envelope) {
	switch env.Event {
	case domain.EventIncomingCall:
		var p domain.IncomingCall
		if !decode(env, &p) {
			return
		}
		c.incomingCall(p)
	case domain.EventCallAccepted:
		var p domain.CallAccepted
		if !decode(env, &p) {
			return
		}
		c.callAccepted(p)
	case domain.EventIceCandidate:
		var p domain.RelayedCandidate
		if !decode(env, &p) {
			return
		}
		c.remoteCandidate(p.Candidate)
	case domain.EventCallEnded:
		c.callEnded()
	}
}

func decode(env domain.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("event", string(env.Event)).Msg("bad payload")
		return false
	}
	return true
}

func (c *Controller) incomingCall(p domain.IncomingCall) {
	c.mu.Lock()
	defer c.unlock()
	if c.state != Idle {
		log.Info().Str("module", "call").Str("from", string(p.From)).Str("state", c.state.String()).Msg("busy, incoming call ignored")
		return
	}
	if p.From == "" || len(p.Offer) == 0 {
		log.Warn().Str("module", "call").Msg("incoming call without caller or offer")
		return
	}
	c.gen++
	c.target = string(p.From)
	c.offer = p.Offer
	c.setState(Ringing)
	c.armTimer(c.gen)
	if fn := c.opts.OnIncoming; fn != nil {
		from := p.From
		c.notes = append(c.notes, func() { fn(from) })
	}
}

func (c *Controller) callAccepted(p domain.CallAccepted) {
	c.mu.Lock()
	defer c.unlock()
	if c.state != AwaitingAnswer {
		log.Debug().Str("module", "call").Str("state", c.state.String()).Msg("stray call-accepted")
		return
	}
	if err := c.peer.ApplyAnswer(p.Answer); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("apply answer failed")
		return
	}
	c.stopTimer()
	c.remoteApplied()
	c.setState(InCall)
}

func (c *Controller) remoteCandidate(cand json.RawMessage) {
	c.mu.Lock()
	defer c.unlock()
	if c.state == Idle {
		return
	}
	if c.peer != nil && c.remoteSet {
		if err := c.peer.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("remote candidate rejected")
		}
		return
	}
	if len(c.pending) >= maxPendingCandidates {
		log.Warn().Str("module", "call").Msg("candidate buffer full, dropping")
		return
	}
	c.pending = append(c.pending, cand)
}

func (c *Controller) callEnded() {
	c.mu.Lock()
	defer c.unlock()
	if c.state == Idle {
		return
	}
	c.teardown(EndRemote, false)
}
