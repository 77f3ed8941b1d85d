package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadlessSource_Acquire(t *testing.T) {
	src := HeadlessSource{Camera: true, Microphone: true}
	st, err := src.Acquire(context.Background(), Constraints{Video: true, Audio: true})
	require.NoError(t, err)
	defer st.Stop()

	kinds := map[webrtc.RTPCodecType]bool{}
	for _, tr := range st.Tracks() {
		kinds[tr.Kind()] = true
	}
	assert.True(t, kinds[webrtc.RTPCodecTypeVideo])
	assert.True(t, kinds[webrtc.RTPCodecTypeAudio])
}

func TestHeadlessSource_MissingDevice(t *testing.T) {
	src := HeadlessSource{Microphone: true}
	_, err := src.Acquire(context.Background(), Constraints{Video: true, Audio: true})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	st, err := src.Acquire(context.Background(), Constraints{Audio: true})
	require.NoError(t, err)
	assert.Len(t, st.Tracks(), 1)
	st.Stop()
	st.Stop()
}

func TestAcquire_DegradeOrder(t *testing.T) {
	src := HeadlessSource{Microphone: true}
	st, got, err := Acquire(context.Background(), src,
		Constraints{Video: true, Audio: true},
		Constraints{Audio: true},
	)
	require.NoError(t, err)
	defer st.Stop()
	assert.Equal(t, Constraints{Audio: true}, got)

	_, _, err = Acquire(context.Background(), HeadlessSource{},
		Constraints{Video: true, Audio: true},
		Constraints{Audio: true},
	)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestAcquire_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Acquire(ctx, HeadlessSource{Microphone: true}, Constraints{Audio: true})
	assert.ErrorIs(t, err, context.Canceled)
}

type scriptedReader struct {
	pkts []*rtp.Packet
}

func (r *scriptedReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(r.pkts) == 0 {
		return nil, nil, io.EOF
	}
	p := r.pkts[0]
	r.pkts = r.pkts[1:]
	return p, nil, nil
}

func TestSink_Drain(t *testing.T) {
	r := &scriptedReader{pkts: []*rtp.Packet{
		{Header: rtp.Header{SequenceNumber: 7}, Payload: []byte{1, 2, 3}},
		{Header: rtp.Header{SequenceNumber: 8}, Payload: []byte{4}},
	}}
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	s := NewSink("audio", "t1")
	s.Drain(context.Background(), r)

	assert.Equal(t, uint64(2), s.Packets())
	assert.Equal(t, uint64(4), s.Bytes())
	assert.Equal(t, uint16(8), s.LastSequence())
	assert.Contains(t, buf.String(), `"module":"media"`)
	assert.Contains(t, buf.String(), `"track":"t1"`)
}

func TestSink_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSink("video", "t2")
	s.Drain(ctx, readerFunc(func() (*rtp.Packet, interceptor.Attributes, error) {
		return nil, nil, errors.New("must not be read")
	}))
	assert.Zero(t, s.Packets())
}

type readerFunc func() (*rtp.Packet, interceptor.Attributes, error)

func (f readerFunc) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) { return f() }
