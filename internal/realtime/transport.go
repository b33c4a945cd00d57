// =====================================
// File: internal/realtime/transport.go
// =====================================
package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialHandshakeTimeout = 10 * time.Second
	writeDeadline        = 5 * time.Second
)

// Conn is the duplex transport a Manager exclusively owns. The
// websocket implementation below is the production one; tests inject
// scripted conns through Options.Dial.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadFrame() (*Frame, error)
	Close() error
}

// DialFunc opens a transport to the gateway.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// ServerCloseError marks a disconnect the server initiated on purpose,
// as opposed to a transport-level fault. The manager backs off for a
// full cooldown window on these instead of retrying.
type ServerCloseError struct {
	Code int
	Text string
}

func (e *ServerCloseError) Error() string {
	return fmt.Sprintf("server closed connection: code=%d text=%q", e.Code, e.Text)
}

// IsServerClose reports whether err represents a server-initiated close.
func IsServerClose(err error) bool {
	var sc *ServerCloseError
	return errors.As(err, &sc)
}

type wsConn struct {
	conn *websocket.Conn
}

// DialWebsocket opens a gorilla websocket connection to the gateway.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) WriteJSON(v interface{}) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// ReadFrame reads the next frame, translating deliberate close frames
// into ServerCloseError so the manager can classify the cause.
func (c *wsConn) ReadFrame() (*Frame, error) {
	var frame Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && isDeliberateClose(closeErr.Code) {
			return nil, &ServerCloseError{Code: closeErr.Code, Text: closeErr.Text}
		}
		return nil, err
	}
	return &frame, nil
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(writeDeadline)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

func isDeliberateClose(code int) bool {
	switch code {
	case websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.ClosePolicyViolation,
		websocket.CloseTryAgainLater:
		return true
	}
	return false
}
