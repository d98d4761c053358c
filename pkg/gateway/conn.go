package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harun/workbench/pkg/orchestrator"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// wsConn adapts a WebSocket to orchestrator.Conn. Transport failures are
// reported as orchestrator.ErrDisconnected; undecodable messages are not.
type wsConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(maxMessageSize)
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadJSON(v any) error {
	_, r, err := c.ws.NextReader()
	if err != nil {
		return fmt.Errorf("%w: %v", orchestrator.ErrDisconnected, err)
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: %v", orchestrator.ErrDisconnected, err)
	}
	return nil
}

// Close sends a normal close frame and closes the socket. It is safe to
// call more than once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
