package transport

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
)

// TCPListener accepts raw sockets and wraps each one in a Sockets backend.
type TCPListener struct {
	settings *config.Settings
	accept   AcceptFunc

	ln   net.Listener
	wg   sync.WaitGroup
	once sync.Once
}

// ListenTCP binds addr and starts accepting on a background goroutine.
func ListenTCP(addr string, s *config.Settings, accept AcceptFunc) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, gamenet.TransportError("sockets.Listen", err)
	}

	l := &TCPListener{settings: s, accept: accept, ln: ln}

	logrus.WithFields(logrus.Fields{
		"function": "ListenTCP",
		"addr":     ln.Addr().String(),
	}).Info("TCP listener started")

	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *TCPListener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "TCPListener.acceptLoop",
					"error":    err.Error(),
				}).Error("Accept failed")
			}
			return
		}
		l.accept(NewSocketsConn(conn, l.settings))
	}
}

// Addr returns the bound address.
func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting and joins the accept goroutine.
func (l *TCPListener) Close() error {
	var err error
	l.once.Do(func() {
		err = l.ln.Close()
		l.wg.Wait()
	})
	return err
}
