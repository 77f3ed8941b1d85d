package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Pulse/internal/adapters/signal"
	"github.com/dkeye/Pulse/internal/app/hub"
	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/store/memory"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode: "test",
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			TrustedDomain:  "vercel.app",
		},
	}
}

type server struct {
	url      string
	presence *memory.PresenceStore
	messages *memory.MessageStore
	hub      *hub.Hub
}

func startServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := testConfig()
	s := &server{presence: memory.NewPresenceStore(), messages: memory.NewMessageStore()}
	s.hub = hub.New(hub.Options{Presence: s.presence, Messages: s.messages})
	go func() { _ = s.hub.Run(ctx) }()

	ctl := signal.NewSignalWSController(s.hub, nil, signal.Settings{}, CheckOrigin(cfg.CORS))
	r := SetupRouter(ctx, cfg, Deps{
		Counter:  s.hub,
		Signal:   ctl,
		Presence: s.presence,
		Messages: s.messages,
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	s.url = ts.URL
	return s
}

func dial(t *testing.T, s *server, uid string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/socket", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	require.NoError(t, ws.WriteJSON(map[string]any{"event": "join-room", "data": uid}))
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env domain.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func TestOriginAllowed(t *testing.T) {
	allowed := OriginAllowed(testConfig().CORS)

	assert.True(t, allowed("http://localhost:3000"))
	assert.True(t, allowed("https://my-app.vercel.app"))
	assert.True(t, allowed("https://preview.my-app.vercel.app"))
	assert.False(t, allowed("http://my-app.vercel.app"), "plain http subdomain")
	assert.False(t, allowed("https://vercel.app.evil.com"))
	assert.False(t, allowed("https://evilvercel.app"))
	assert.False(t, allowed("http://localhost:4000"))
}

func TestCORS_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(context.Background(), testConfig(), Deps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/messages/read", nil)
	req.Header.Set("Origin", "https://chat.vercel.app")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://chat.vercel.app", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/messages/read", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	s := startServer(t)
	dial(t, s, "u1")

	require.Eventually(t, func() bool { return s.hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(s.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		Connections int64  `json:"connections"`
		DB          string `json:"db"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.Timestamp)
	assert.Equal(t, int64(1), body.Connections)
	assert.Equal(t, "disabled", body.DB)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth_DatabasePing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		err    error
		code   int
		status string
		db     string
	}{
		{"reachable", nil, http.StatusOK, "ok", "ok"},
		{"down", errors.New("no reachable servers"), http.StatusServiceUnavailable, "degraded", "down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pinged := false
			r := SetupRouter(context.Background(), testConfig(), Deps{DB: pingFunc(func(context.Context) error {
				pinged = true
				return tt.err
			})})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.True(t, pinged)
			assert.Equal(t, tt.code, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body["status"])
			assert.Equal(t, tt.db, body["db"])
		})
	}
}

func TestSocket_RejectsForeignOrigin(t *testing.T) {
	s := startServer(t)
	header := http.Header{"Origin": []string{"https://example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/socket", header)
	require.Error(t, err)
	if resp != nil {
		assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
	}
}

func TestSocket_MessageRoundTrip(t *testing.T) {
	s := startServer(t)
	alice := dial(t, s, "alice")
	bob := dial(t, s, "bob")

	require.Eventually(t, func() bool {
		p, err := s.presence.FindPresence(context.Background(), "bob")
		return err == nil && p.IsOnline
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"event": "send-message",
		"data":  map[string]any{"senderId": "alice", "receiverId": "bob", "content": "hello"},
	}))

	got := readEvent(t, bob)
	assert.Equal(t, domain.EventReceiveMessage, got.Event)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(got.Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.NotEmpty(t, msg.ID)

	ack := readEvent(t, alice)
	assert.Equal(t, domain.EventMessageSent, ack.Event)
	var sent domain.MessageSent
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.Equal(t, domain.StatusDelivered, sent.Status)
	assert.Equal(t, msg.ID, sent.MessageID)
}

func TestSocket_DisconnectMarksOffline(t *testing.T) {
	s := startServer(t)
	ws := dial(t, s, "carol")

	require.Eventually(t, func() bool {
		p, err := s.presence.FindPresence(context.Background(), "carol")
		return err == nil && p.IsOnline
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		p, err := s.presence.FindPresence(context.Background(), "carol")
		return err == nil && !p.IsOnline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresenceEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	presence := memory.NewPresenceStore()
	seen := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, presence.UpdatePresence(context.Background(), "dave", true, seen))
	r := SetupRouter(context.Background(), testConfig(), Deps{Presence: presence})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/presence/dave", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"dave","isOnline":true,"lastSeen":"2025-01-02T03:04:05Z"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/presence/nobody", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkRead(t *testing.T) {
	gin.SetMode(gin.TestMode)
	messages := memory.NewMessageStore()
	for _, content := range []string{"a", "b"} {
		msg, err := domain.NewMessage("erin", "frank", content, time.Time{})
		require.NoError(t, err)
		require.NoError(t, messages.CreateMessage(context.Background(), msg))
	}
	r := SetupRouter(context.Background(), testConfig(), Deps{Messages: messages})

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"senderId":"erin","receiverId":"frank"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/messages/read", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":2}`, w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/messages/read", strings.NewReader(`{"senderId":"erin"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
