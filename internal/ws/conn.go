package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn serialises writes to a gorilla connection. The broadcaster, bid
// acks and pong replies all write to the same socket, and gorilla allows
// only one concurrent writer.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

// NewConn wraps a websocket connection for hub use.
func NewConn(c *websocket.Conn) Conn {
	return &wsConn{c: c}
}

func (w *wsConn) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteJSON(v)
}

// WriteText sends a raw text frame (pong replies).
func (w *wsConn) WriteText(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

// TextWriter is implemented by hub connections that can send raw text frames.
type TextWriter interface {
	WriteText(msg string) error
}
