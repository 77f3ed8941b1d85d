package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Pulse/internal/app/hub"
	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Hub is the part of the relay hub the socket adapter drives.
type Hub interface {
	Connect(core.SignalConnection) domain.ConnID
	Dispatch(domain.ConnID, domain.Inbound)
	Disconnect(domain.ConnID)
}

var _ Hub = (*hub.Hub)(nil)

type Settings struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteTimeout: cfg.Hub.WriteTimeout,
		SendBuffer:   cfg.Hub.SendBuffer,
	}
}

type SignalWSController struct {
	Hub      Hub
	Limiter  *ConnRateLimiter
	settings Settings
	upgrader websocket.Upgrader
}

func NewSignalWSController(h Hub, limiter *ConnRateLimiter, s Settings, checkOrigin func(*http.Request) bool) *SignalWSController {
	if s.SendBuffer <= 0 {
		s.SendBuffer = 32
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 5 * time.Second
	}
	return &SignalWSController{
		Hub:      h,
		Limiter:  limiter,
		settings: s,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.settings.SendBuffer),
	}
	id := ctl.Hub.Connect(conn)
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
