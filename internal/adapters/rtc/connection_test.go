package rtc

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dkeye/Pulse/internal/call"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (*WebRTCConnection, *WebRTCConnection) {
	t.Helper()
	f, err := NewFactory(webrtc.Configuration{})
	require.NoError(t, err)
	a, err := f.New()
	require.NoError(t, err)
	b, err := f.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestConfiguration_DefaultsToPublicSTUN(t *testing.T) {
	cfg := Configuration(nil)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)

	cfg = Configuration([]string{"stun:example.org:3478"})
	assert.Equal(t, []string{"stun:example.org:3478"}, cfg.ICEServers[0].URLs)
}

func TestNegotiation_OfferAnswer(t *testing.T) {
	a, b := newPair(t)
	ctx := context.Background()

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	require.NoError(t, a.AddTrack(audio))

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)

	var sd webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(offer, &sd))
	assert.Equal(t, webrtc.SDPTypeOffer, sd.Type)
	assert.True(t, strings.Contains(sd.SDP, "m=audio"))
	assert.True(t, strings.Contains(sd.SDP, "m=video"), "video offered receive-only")

	answer, err := b.AcceptOffer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(answer, &sd))
	assert.Equal(t, webrtc.SDPTypeAnswer, sd.Type)

	require.NoError(t, a.ApplyAnswer(answer))
}

func TestApplyAnswer_RejectsGarbage(t *testing.T) {
	a, _ := newPair(t)
	assert.Error(t, a.ApplyAnswer(json.RawMessage(`"nope"`)))
	assert.Error(t, a.AddICECandidate(json.RawMessage(`[]`)))
}

func TestClose_Idempotent(t *testing.T) {
	a, _ := newPair(t)
	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

var _ call.PeerConnection = (*WebRTCConnection)(nil)
