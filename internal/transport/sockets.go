package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
)

const (
	// maxReadBuffer bounds the doubling of the socket read buffer.
	maxReadBuffer = 16 * 1024 * 1024
	writeTimeout  = 10 * time.Second
)

// Sockets is the raw TCP backend.
type Sockets struct {
	*pump
}

var _ Backend = (*Sockets)(nil)

// DialSockets starts connecting to the configured server, directly or
// through the configured proxy. It returns at once with a backend in the
// Connecting state; dialing and proxy negotiation run on a goroutine.
func DialSockets(ctx context.Context, s *config.Settings) (*Sockets, error) {
	d, err := newProxyDialer(s)
	if err != nil {
		return nil, err
	}

	addr := s.ServerAddr()
	b := &Sockets{pump: newPump("sockets", s.SendQueueSize, addr)}

	timeout := s.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	b.cancel = cancel

	logrus.WithFields(logrus.Fields{
		"function":   "DialSockets",
		"addr":       addr,
		"proxy_type": string(s.ProxyType),
	}).Debug("Dialing sockets backend")

	go func() {
		defer cancel()
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "DialSockets",
				"addr":     addr,
				"error":    err.Error(),
			}).Warn("Failed to connect")
			if !gamenet.IsKind(err, gamenet.KindHandshake) {
				err = gamenet.TransportError("sockets.dial", err)
			}
			b.fail(err)
			return
		}
		b.attach(newTCPConduit(conn, s))
	}()

	return b, nil
}

// NewSocketsConn wraps an accepted server-side socket. The backend is
// connected immediately.
func NewSocketsConn(conn net.Conn, s *config.Settings) *Sockets {
	b := &Sockets{pump: newPump("sockets", s.SendQueueSize, conn.RemoteAddr().String())}
	b.attach(newTCPConduit(conn, s))
	return b
}

// noDelayer is implemented by *net.TCPConn and by proxied connections
// wrapping one.
type noDelayer interface {
	SetNoDelay(noDelay bool) error
}

type tcpConduit struct {
	conn    net.Conn
	bufSize int
}

func newTCPConduit(conn net.Conn, s *config.Settings) *tcpConduit {
	if tc, ok := conn.(noDelayer); ok {
		if err := tc.SetNoDelay(s.DisableNagle); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "newTCPConduit",
				"error":    err.Error(),
			}).Warn("Failed to set TCP_NODELAY")
		}
	}
	size := s.BufferSize
	if size <= 0 {
		size = 4096
	}
	return &tcpConduit{conn: conn, bufSize: size}
}

// readLoop grows its buffer whenever a read fills it completely.
func (c *tcpConduit) readLoop(deliver func([]byte)) error {
	buf := make([]byte, c.bufSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			deliver(buf[:n])
			if n == len(buf) && len(buf) < maxReadBuffer {
				buf = make([]byte, 2*len(buf))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("peer closed the connection")
			}
			return err
		}
	}
}

func (c *tcpConduit) write(p []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(p)
	return err
}

func (c *tcpConduit) close() error {
	return c.conn.Close()
}

func (c *tcpConduit) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}
