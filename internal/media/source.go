// Package media provides local tracks for a call and drains remote ones.
package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var ErrDeviceUnavailable = errors.New("media device unavailable")

type Constraints struct {
	Video bool
	Audio bool
}

func (c Constraints) String() string {
	switch {
	case c.Video && c.Audio:
		return "video+audio"
	case c.Video:
		return "video"
	case c.Audio:
		return "audio"
	}
	return "none"
}

// Stream is a set of local tracks that stops together.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// Source acquires local media. It either returns every requested track or
// fails as a unit.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// opusSilence is one 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// HeadlessSource has no capture hardware. It hands out static-sample
// tracks for the devices it pretends to have and keeps the audio track fed
// with silence.
type HeadlessSource struct {
	Camera     bool
	Microphone bool
}

func (s HeadlessSource) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if (c.Video && !s.Camera) || (c.Audio && !s.Microphone) {
		return nil, ErrDeviceUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "pulse-" + uuid.NewString()
	st := &staticStream{done: make(chan struct{})}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, err
		}
		st.tracks = append(st.tracks, t)
	}
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, err
		}
		st.tracks = append(st.tracks, t)
		st.wg.Add(1)
		go st.pumpSilence(t)
	}
	log.Debug().Str("module", "media").Str("constraints", c.String()).Str("stream", streamID).Msg("acquired")
	return st, nil
}

type staticStream struct {
	tracks []webrtc.TrackLocal
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (s *staticStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *staticStream) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// pumpSilence writes until Stop. WriteSample is a no-op while the track is
// not bound to a sender, so it can start before negotiation.
func (s *staticStream) pumpSilence(t *webrtc.TrackLocalStaticSample) {
	defer s.wg.Done()
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := t.WriteSample(pmedia.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Debug().Err(err).Str("module", "media").Msg("silence write stopped")
				return
			}
		}
	}
}

// Acquire applies the degrade order: each constraint set is tried in turn
// and the first stream obtained wins. The error of the last attempt is
// returned when every attempt fails.
func Acquire(ctx context.Context, src Source, order ...Constraints) (Stream, Constraints, error) {
	var lastErr error = ErrDeviceUnavailable
	for _, c := range order {
		st, err := src.Acquire(ctx, c)
		if err == nil {
			return st, c, nil
		}
		if ctx.Err() != nil {
			return nil, Constraints{}, ctx.Err()
		}
		log.Info().Err(err).Str("module", "media").Str("constraints", c.String()).Msg("acquire failed, degrading")
		lastErr = err
	}
	return nil, Constraints{}, lastErr
}
