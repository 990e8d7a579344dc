// Package channel is the client side of the signaling link: a persistent,
// authenticated websocket delivering ordered envelopes, plus the
// reconnection controller that replaces the underlying transport when it
// drops.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/signaling/internal/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrChannelClosed = errors.New("channel closed")

// Channel is one underlying transport. Reconnection produces a new
// Channel; the old one is discarded whole.
type Channel struct {
	conn     *websocket.Conn
	incoming chan *core.Envelope
	outgoing chan *core.Envelope
	done     chan struct{}

	closeOnce sync.Once
	userClose bool
}

// Dial opens an authenticated channel. The token is the capability minted
// by the portal's auth service; the server rejects the upgrade without it.
func Dial(ctx context.Context, serverURL, token string) (*Channel, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	c := &Channel{
		conn:     conn,
		incoming: make(chan *core.Envelope, 16),
		outgoing: make(chan *core.Envelope, 16),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// readPump preserves arrival order: one reader, one ordered channel.
func (c *Channel) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
		c.closeOnce.Do(func() { close(c.done) })
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := core.Decode(data)
		if err != nil {
			// a malformed server frame is dropped, not fatal
			continue
		}
		c.incoming <- env
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case env, ok := <-c.outgoing:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues an envelope for delivery in order.
func (c *Channel) Send(env *core.Envelope) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	case c.outgoing <- env:
		return nil
	}
}

// Incoming delivers server events in arrival order. Closed when the
// underlying transport is gone.
func (c *Channel) Incoming() <-chan *core.Envelope { return c.incoming }

// Done is closed when the channel is no longer usable, whether by Close or
// transport loss.
func (c *Channel) Done() <-chan struct{} { return c.done }

// UserClosed reports whether the channel was shut down locally; the
// reconnection controller only reacts to closures that were not.
func (c *Channel) UserClosed() bool { return c.userClose }

// Close shuts the channel down on user initiative (leave).
func (c *Channel) Close() {
	c.userClose = true
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.outgoing)
	})
}

// Abort tears the channel down without marking it user-closed, so the
// reconnection controller treats the loss as involuntary and retries.
func (c *Channel) Abort() {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.outgoing)
	})
}
