package ws

import (
	"github.com/gorilla/websocket"
	"io"
	"time"
)

const (
	// Time allowed to write a message to the peer, added to every write deadline
	writeWait = 10 * time.Second
)

// wsConn exposes a websocket as a byte stream. Every Write becomes one binary
// message, Read concatenates the payloads of incoming binary messages.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader // reader of the current message
}

func newConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// Read reads from the current binary message, text messages are skipped
func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			typ, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write sends p as one binary message
func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetWriteDeadline sets the write deadline. Messages are not split, so the
// deadline is extended by writeWait to let a started message complete.
func (c *wsConn) SetWriteDeadline(t time.Time) error {
	if t.IsZero() {
		return c.ws.SetWriteDeadline(t)
	}
	return c.ws.SetWriteDeadline(t.Add(writeWait))
}

// SetReadDeadline sets the read deadline of the underlying connection
func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close sends a close message and closes the underlying connection
func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
