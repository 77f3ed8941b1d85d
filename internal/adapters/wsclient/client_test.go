package wsclient

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	router "github.com/dkeye/Pulse/internal/adapters/http"
	"github.com/dkeye/Pulse/internal/adapters/signal"
	"github.com/dkeye/Pulse/internal/app/hub"
	"github.com/dkeye/Pulse/internal/call"
	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/media"
	"github.com/dkeye/Pulse/internal/store/memory"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	url      string
	presence *memory.PresenceStore
}

func startHub(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	presence := memory.NewPresenceStore()
	h := hub.New(hub.Options{Presence: presence, Messages: memory.NewMessageStore()})
	go func() { _ = h.Run(ctx) }()

	cfg := &config.Config{Mode: "test"}
	ctl := signal.NewSignalWSController(h, nil, signal.Settings{}, router.CheckOrigin(cfg.CORS))
	ts := httptest.NewServer(router.SetupRouter(ctx, cfg, router.Deps{Counter: h, Signal: ctl}))
	t.Cleanup(ts.Close)
	return &env{url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket", presence: presence}
}

func (e *env) connect(t *testing.T, user domain.UserID) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := Dial(ctx, e.url, user, nil)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		p, err := e.presence.FindPresence(context.Background(), user)
		return err == nil && p.IsOnline
	}, 2*time.Second, 10*time.Millisecond)
	return c
}

type inbox struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (b *inbox) add(e domain.Envelope) {
	b.mu.Lock()
	b.envs = append(b.envs, e)
	b.mu.Unlock()
}

func (b *inbox) find(name domain.EventName) (domain.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.envs {
		if e.Event == name {
			return e, true
		}
	}
	return domain.Envelope{}, false
}

func TestDial_RejectsEmptyUser(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/socket", "", nil)
	assert.ErrorIs(t, err, domain.ErrUserIDEmpty)
}

func TestChat_RoundTrip(t *testing.T) {
	e := startHub(t)
	var aliceBox, bobBox inbox
	alice := e.connect(t, "alice")
	alice.OnEvent(aliceBox.add)
	bob := e.connect(t, "bob")
	bob.OnEvent(bobBox.add)

	require.NoError(t, alice.SendMessage("bob", "hi bob"))

	require.Eventually(t, func() bool {
		_, ok := bobBox.find(domain.EventReceiveMessage)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	got, _ := bobBox.find(domain.EventReceiveMessage)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(got.Data, &msg))
	assert.Equal(t, "hi bob", msg.Content)
	assert.Equal(t, domain.UserID("alice"), msg.SenderID)

	require.Eventually(t, func() bool {
		_, ok := aliceBox.find(domain.EventMessageSent)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEmit_AfterClose(t *testing.T) {
	e := startHub(t)
	c := e.connect(t, "erin")
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Emit(domain.EventHangUp, domain.HangUp{To: "x"}), ErrClosed)
}

// stubPeer negotiates nothing; it is enough to drive both controllers
// through the real hub.
type stubPeer struct{}

func (stubPeer) AddTrack(webrtc.TrackLocal) error { return nil }
func (stubPeer) CreateOffer(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}
func (stubPeer) AcceptOffer(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}
func (stubPeer) ApplyAnswer(json.RawMessage) error                       { return nil }
func (stubPeer) AddICECandidate(json.RawMessage) error                   { return nil }
func (stubPeer) OnICECandidate(func(json.RawMessage))                    {}
func (stubPeer) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}
func (stubPeer) Close() error                                            { return nil }

func newController(c *Client, onIncoming func(domain.ConnID)) *call.Controller {
	ctl := call.NewController(call.Options{
		Signaler:   c,
		Peers:      func() (call.PeerConnection, error) { return stubPeer{}, nil },
		Media:      media.HeadlessSource{Microphone: true},
		OnIncoming: onIncoming,
	})
	c.OnEvent(ctl.HandleEvent)
	return ctl
}

func autoAnswer(c *Client) *call.Controller {
	ringing := make(chan struct{}, 1)
	ctl := newController(c, func(domain.ConnID) { ringing <- struct{}{} })
	go func() {
		<-ringing
		_ = ctl.AcceptCall(context.Background())
	}()
	return ctl
}

func TestCall_ThroughHub(t *testing.T) {
	e := startHub(t)
	alice := e.connect(t, "alice")
	bob := e.connect(t, "bob")

	aliceCtl := newController(alice, nil)
	bobCtl := autoAnswer(bob)

	require.NoError(t, aliceCtl.CallUser(context.Background(), "bob"))
	require.Eventually(t, func() bool {
		return aliceCtl.State() == call.InCall && bobCtl.State() == call.InCall
	}, 2*time.Second, 10*time.Millisecond)

	aliceCtl.HangUp()
	assert.Equal(t, call.Idle, aliceCtl.State())
	require.Eventually(t, func() bool { return bobCtl.State() == call.Idle }, 2*time.Second, 10*time.Millisecond)
}

func TestCall_CalleeDisconnectEndsCall(t *testing.T) {
	e := startHub(t)
	alice := e.connect(t, "alice")
	bob := e.connect(t, "bob")

	aliceCtl := newController(alice, nil)
	autoAnswer(bob)

	require.NoError(t, aliceCtl.CallUser(context.Background(), "bob"))
	require.Eventually(t, func() bool { return aliceCtl.State() == call.InCall }, 2*time.Second, 10*time.Millisecond)

	bob.Close()
	require.Eventually(t, func() bool { return aliceCtl.State() == call.Idle }, 2*time.Second, 10*time.Millisecond)
}
