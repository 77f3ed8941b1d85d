// Package call drives one peer-to-peer call at a time for a single user
// session: media acquisition, offer/answer, ICE exchange and teardown.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrCallInProgress = errors.New("call already in progress")
	ErrNotRinging     = errors.New("no incoming call")
	ErrCancelled      = errors.New("call cancelled")
)

const maxPendingCandidates = 64

// Signaler sends one event to the relay hub. Emit must not block.
type Signaler interface {
	Emit(name domain.EventName, payload any) error
}

type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	ApplyAnswer(answer json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	OnICECandidate(fn func(json.RawMessage))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

type PeerFactory func() (PeerConnection, error)

type Options struct {
	Signaler Signaler
	Peers    PeerFactory
	Media    media.Source
	// RingTimeout bounds both AwaitingAnswer and Ringing. Zero disables it.
	RingTimeout time.Duration

	OnStateChange func(State)
	OnIncoming    func(from domain.ConnID)
	OnRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnEnded       func(EndReason)
}

var degradeOrder = []media.Constraints{{Video: true, Audio: true}, {Audio: true}}

type Controller struct {
	opts Options

	mu    sync.Mutex
	state State
	// gen changes on every teardown; work started under an older gen is
	// stale and must not touch the current call.
	gen    uint64
	target string
	offer  json.RawMessage
	peer   PeerConnection
	stream media.Stream
	// pending holds remote candidates until the remote description is set.
	pending   []json.RawMessage
	remoteSet bool
	timer     *time.Timer

	// notes run after mu is released.
	notes []func()
}

func NewController(opts Options) *Controller {
	return &Controller{opts: opts}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) unlock() {
	notes := c.notes
	c.notes = nil
	c.mu.Unlock()
	for _, fn := range notes {
		fn()
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	log.Info().Str("module", "call").Str("from", c.state.String()).Str("to", s.String()).Msg("state")
	c.state = s
	if fn := c.opts.OnStateChange; fn != nil {
		c.notes = append(c.notes, func() { fn(s) })
	}
}

func (c *Controller) emit(name domain.EventName, payload any) {
	if err := c.opts.Signaler.Emit(name, payload); err != nil {
		log.Error().Err(err).Str("module", "call").Str("event", string(name)).Msg("emit failed")
	}
}

// CallUser places a call. It returns once the offer is sent; the answer
// arrives later through HandleEvent.
func (c *Controller) CallUser(ctx context.Context, target domain.UserID) error {
	if err := target.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state != Idle {
		c.unlock()
		return ErrCallInProgress
	}
	c.gen++
	gen := c.gen
	c.target = string(target)
	c.setState(Calling)
	c.unlock()

	stream, got, err := media.Acquire(ctx, c.opts.Media, degradeOrder...)

	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen {
		stopStream(stream)
		return ErrCancelled
	}
	if err != nil {
		c.teardown(EndFailed, false)
		return fmt.Errorf("acquire media: %w", err)
	}
	log.Info().Str("module", "call").Str("to", string(target)).Str("media", got.String()).Msg("placing call")

	if err := c.preparePeer(gen, stream); err != nil {
		c.teardown(EndFailed, false)
		return err
	}
	offer, err := c.peer.CreateOffer(ctx)
	if err != nil {
		c.teardown(EndFailed, false)
		return fmt.Errorf("create offer: %w", err)
	}
	c.emit(domain.EventCallUser, domain.CallUser{To: target, Offer: offer})
	c.setState(AwaitingAnswer)
	c.armTimer(gen)
	return nil
}

// AcceptCall answers the ringing call. Without any usable device the call
// is answered receive-only.
func (c *Controller) AcceptCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Ringing {
		c.unlock()
		return ErrNotRinging
	}
	gen := c.gen
	c.stopTimer()
	offer := c.offer
	c.unlock()

	stream, got, err := media.Acquire(ctx, c.opts.Media, degradeOrder...)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("module", "call").Msg("no local media, answering receive-only")
	}

	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen || c.state != Ringing {
		stopStream(stream)
		return ErrCancelled
	}
	if ctx.Err() != nil {
		stopStream(stream)
		c.teardown(EndFailed, true)
		return ctx.Err()
	}
	log.Info().Str("module", "call").Str("from", c.target).Str("media", got.String()).Msg("accepting call")

	if err := c.preparePeer(gen, stream); err != nil {
		c.teardown(EndFailed, true)
		return err
	}
	answer, err := c.peer.AcceptOffer(ctx, offer)
	if err != nil {
		c.teardown(EndFailed, true)
		return fmt.Errorf("accept offer: %w", err)
	}
	c.remoteApplied()
	c.emit(domain.EventAnswerCall, domain.AnswerCall{To: domain.ConnID(c.target), Answer: answer})
	c.offer = nil
	c.setState(InCall)
	return nil
}

// HangUp ends whatever call is in progress. Calling it while Idle does
// nothing, so repeated calls emit hang-up once. While media is still being
// acquired no offer has left yet and the callee is not told.
func (c *Controller) HangUp() {
	c.mu.Lock()
	defer c.unlock()
	if c.state == Idle {
		return
	}
	c.teardown(EndLocalHangUp, c.state != Calling)
}

// preparePeer creates the peer connection for gen and attaches the local
// stream. Called with mu held.
func (c *Controller) preparePeer(gen uint64, stream media.Stream) error {
	c.stream = stream
	pc, err := c.opts.Peers()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	c.peer = pc
	c.remoteSet = false

	pc.OnICECandidate(func(cand json.RawMessage) {
		c.mu.Lock()
		defer c.unlock()
		if c.gen != gen || c.state == Idle {
			return
		}
		c.emit(domain.EventIceCandidate, domain.IceCandidate{To: c.target, Candidate: cand})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		c.mu.Lock()
		live := c.gen == gen && c.state != Idle
		c.mu.Unlock()
		if live && c.opts.OnRemoteTrack != nil {
			c.opts.OnRemoteTrack(track, recv)
		}
	})

	if stream != nil {
		for _, t := range stream.Tracks() {
			if err := pc.AddTrack(t); err != nil {
				return fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
		}
	}
	return nil
}

// teardown returns to Idle. Called with mu held; closing the peer and the
// stream happens after mu is released.
func (c *Controller) teardown(reason EndReason, notifyPeer bool) {
	if notifyPeer && c.target != "" {
		c.emit(domain.EventHangUp, domain.HangUp{To: c.target})
	}
	c.gen++
	c.stopTimer()

	peer, stream := c.peer, c.stream
	c.notes = append(c.notes, func() {
		if peer != nil {
			_ = peer.Close()
		}
		stopStream(stream)
	})
	c.peer, c.stream = nil, nil
	c.target = ""
	c.offer = nil
	c.pending = nil
	c.remoteSet = false

	log.Info().Str("module", "call").Str("reason", string(reason)).Msg("call ended")
	c.setState(Idle)
	if fn := c.opts.OnEnded; fn != nil {
		c.notes = append(c.notes, func() { fn(reason) })
	}
}

func (c *Controller) armTimer(gen uint64) {
	if c.opts.RingTimeout <= 0 {
		return
	}
	c.timer = time.AfterFunc(c.opts.RingTimeout, func() { c.onTimeout(gen) })
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) onTimeout(gen uint64) {
	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen {
		return
	}
	switch c.state {
	case AwaitingAnswer:
		c.teardown(EndNotAnswered, true)
	case Ringing:
		c.teardown(EndMissed, false)
	}
}

// remoteApplied flushes buffered candidates. Called with mu held.
func (c *Controller) remoteApplied() {
	c.remoteSet = true
	for _, cand := range c.pending {
		if err := c.peer.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("buffered candidate rejected")
		}
	}
	c.pending = nil
}

func stopStream(s media.Stream) {
	if s != nil {
		s.Stop()
	}
}
