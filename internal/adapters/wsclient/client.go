// Package wsclient is the peer side of the signaling socket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrBackpressure = errors.New("send queue full")
	ErrClosed       = errors.New("client closed")
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

type Client struct {
	conn *websocket.Conn
	user domain.UserID
	send chan []byte

	mu       sync.RWMutex
	closed   bool
	handlers []func(domain.Envelope)
}

// Dial connects to the hub and joins the user's room. The join is queued
// and goes out once Run starts.
func Dial(ctx context.Context, url string, user domain.UserID, header http.Header) (*Client, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{conn: conn, user: user, send: make(chan []byte, sendBuffer)}
	if err := c.Emit(domain.EventJoinRoom, user); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info().Str("module", "wsclient").Str("user", string(user)).Str("url", url).Msg("connected")
	return c, nil
}

func (c *Client) User() domain.UserID { return c.user }

// OnEvent registers a handler for every inbound frame. Handlers run on the
// read goroutine in registration order.
func (c *Client) OnEvent(fn func(domain.Envelope)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// Emit queues one event without blocking.
func (c *Client) Emit(name domain.EventName, payload any) error {
	b, err := domain.Encode(name, payload)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) SendMessage(to domain.UserID, content string) error {
	return c.Emit(domain.EventSendMessage, domain.SendMessage{
		SenderID:   c.user,
		ReceiverID: to,
		Content:    content,
	})
}

// Run pumps frames both ways until ctx ends or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writePump(ctx) })
	g.Go(func() error { return c.readPump() })
	g.Go(func() error {
		<-ctx.Done()
		c.Close()
		return nil
	})
	err := g.Wait()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-c.send:
			if !ok {
				return ErrClosed
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (c *Client) readPump() error {
	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if closed {
				return ErrClosed
			}
			return err
		}
		c.mu.RLock()
		handlers := c.handlers
		c.mu.RUnlock()
		for _, fn := range handlers {
			fn(env)
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}
