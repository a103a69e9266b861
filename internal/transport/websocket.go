package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
)

// Subprotocol is the only websocket subprotocol both sides accept.
const Subprotocol = "binary"

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WebSockets is the websocket backend, used by both clients and servers.
type WebSockets struct {
	*pump
}

var _ Backend = (*WebSockets)(nil)

// DialWebSockets starts connecting to the configured websocket endpoint.
// It returns at once with a backend in the Connecting state.
func DialWebSockets(ctx context.Context, s *config.Settings) (*WebSockets, error) {
	url := s.WebSocketsURL()
	b := &WebSockets{pump: newPump("websockets", s.SendQueueSize, url)}

	dialer := &websocket.Dialer{
		HandshakeTimeout: s.ConnectTimeout,
		ReadBufferSize:   s.BufferSize,
		WriteBufferSize:  s.BufferSize,
		Subprotocols:     []string{Subprotocol},
	}
	if s.TLSInsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed test servers
	}

	dialCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	logrus.WithFields(logrus.Fields{
		"function": "DialWebSockets",
		"url":      url,
	}).Debug("Dialing websockets backend")

	go func() {
		defer cancel()
		conn, resp, err := dialer.DialContext(dialCtx, url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "DialWebSockets",
				"url":      url,
				"error":    err.Error(),
			}).Warn("Failed to connect")
			b.fail(gamenet.TransportError("websockets.dial", err))
			return
		}
		if conn.Subprotocol() != Subprotocol {
			conn.Close()
			b.fail(gamenet.TransportError("websockets.dial", fmt.Errorf("%s: %q", gamenet.ErrMsgBadSubprotocol, conn.Subprotocol())))
			return
		}
		b.attach(newWSConduit(conn))
	}()

	return b, nil
}

// NewWebSocketConn wraps an upgraded server-side websocket. The backend is
// connected immediately.
func NewWebSocketConn(conn *websocket.Conn, queueSize int) *WebSockets {
	b := &WebSockets{pump: newPump("websockets", queueSize, conn.RemoteAddr().String())}
	b.attach(newWSConduit(conn))
	return b
}

type wsConduit struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func newWSConduit(conn *websocket.Conn) *wsConduit {
	c := &wsConduit{conn: conn}

	// Set read deadline to prevent indefinite blocking
	conn.SetReadDeadline(time.Now().Add(pongWait))

	// Set pong handler to reset read deadline on pong
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return c
}

// readLoop accepts binary frames only.
func (c *wsConduit) readLoop(deliver func([]byte)) error {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("peer closed the connection")
			}
			return err
		}

		// Reset read deadline after successful read
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind != websocket.BinaryMessage {
			c.closeWithCode(websocket.CloseUnsupportedData, gamenet.ErrMsgTextFrame)
			return errors.New(gamenet.ErrMsgTextFrame)
		}
		deliver(data)
	}
}

func (c *wsConduit) write(p []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (c *wsConduit) keepaliveInterval() time.Duration {
	return pingPeriod
}

// ping sends a ping to keep the connection alive
func (c *wsConduit) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *wsConduit) close() error {
	return c.closeWithCode(websocket.CloseNormalClosure, "")
}

// closeWithCode closes the connection with a close code and optional reason
func (c *wsConduit) closeWithCode(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConduit) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}
