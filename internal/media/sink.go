package media

import (
	"context"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// RTPReader is the part of *webrtc.TrackRemote a Sink reads from.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink drains a remote track and keeps counters. The headless peer has no
// renderer, but reading keeps the receiver's buffers moving and lets the
// operator see that media arrives.
type Sink struct {
	Kind  string
	Track string

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

func NewSink(kind, track string) *Sink { return &Sink{Kind: kind, Track: track} }

// Drain reads packets until ctx is cancelled or the track ends.
func (s *Sink) Drain(ctx context.Context, src RTPReader) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "media").Str("track", s.Track).Str("kind", s.Kind).Uint64("packets", s.Packets()).Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "media").Str("track", s.Track).Str("kind", s.Kind).Uint64("packets", s.Packets()).Msg("sink read ended")
			return
		}
		s.record(pkt)
	}
}

func (s *Sink) record(pkt *rtp.Packet) {
	s.packets.Add(1)
	s.lastSeq.Store(uint32(pkt.SequenceNumber))
	s.bytes.Add(uint64(len(pkt.Payload)))
}

func (s *Sink) Packets() uint64 { return s.packets.Load() }
func (s *Sink) Bytes() uint64   { return s.bytes.Load() }

// LastSequence is the RTP sequence number of the newest packet.
func (s *Sink) LastSequence() uint16 { return uint16(s.lastSeq.Load()) }
