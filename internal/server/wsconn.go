package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single websocket write.
const writeTimeout = 10 * time.Second

// wsConn adapts a coder/websocket connection to the runtime's Conn
// interface.
type wsConn struct {
	sock *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSConn(sock *websocket.Conn) *wsConn {
	return &wsConn{sock: sock}
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("connection closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := c.sock.Write(ctx, websocket.MessageText, data); err != nil {
		c.closed = true
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.sock.Close(websocket.StatusNormalClosure, "")
}

func (c *wsConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// markClosed records that the transport died without a local Close call,
// so later sends are skipped instead of erroring.
func (c *wsConn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
