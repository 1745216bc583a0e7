package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a single frame write may block on a congested
// connection before the write fails.
const writeWait = 10 * time.Second

// WSChannel adapts a gorilla websocket connection to the Channel interface.
//
// gorilla connections support one concurrent writer; WSChannel serializes all
// writes behind a mutex so every component can treat the channel as an
// ordered queue.
type WSChannel struct {
	conn *websocket.Conn

	mu    sync.Mutex
	state ReadyState
}

// NewWSChannel wraps an established websocket connection.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{
		conn:  conn,
		state: StateOpen,
	}
}

// Send marshals v and writes it as a text frame.
func (c *WSChannel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return ErrChannelClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendBinary writes a binary frame.
func (c *WSChannel) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return ErrChannelClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Ping writes a ping control frame.
func (c *WSChannel) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return ErrChannelClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close writes a close frame and tears down the connection. Idempotent.
func (c *WSChannel) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed

	// Best effort close handshake; the connection is torn down either way.
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	return c.conn.Close()
}

// MarkClosed records that the peer closed the connection (observed by the
// read loop). Subsequent writes fail with ErrChannelClosed.
func (c *WSChannel) MarkClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

// State reports the channel's current ready state.
func (c *WSChannel) State() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open reports whether the channel accepts writes.
func (c *WSChannel) Open() bool {
	return c.State() == StateOpen
}

// SetPongHandler installs a pong observer on the underlying connection.
func (c *WSChannel) SetPongHandler(fn func(appData string)) {
	c.conn.SetPongHandler(func(appData string) error {
		fn(appData)
		return nil
	})
}
