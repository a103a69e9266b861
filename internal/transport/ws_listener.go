package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
)

// AcceptFunc receives every backend a listener accepts.
type AcceptFunc func(b Backend)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// AllOrigins returns a CheckOriginFn that allows every origin.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// WebSocketListener upgrades incoming HTTP requests to websocket backends.
// It serves plain ws:// or, with SecuredWebSockets, wss://.
type WebSocketListener struct {
	settings *config.Settings
	accept   AcceptFunc
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
	done   chan struct{}
}

// NewWebSocketListener creates a listener handing upgraded connections to
// accept. A nil checkOrigin allows every origin.
func NewWebSocketListener(s *config.Settings, checkOrigin CheckOriginFn, accept AcceptFunc) *WebSocketListener {
	if checkOrigin == nil {
		checkOrigin = AllOrigins()
	}
	return &WebSocketListener{
		settings: s,
		accept:   accept,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  s.BufferSize,
			WriteBufferSize: s.BufferSize,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin:     checkOrigin,
		},
	}
}

// Listen binds addr and serves on a background goroutine.
func (l *WebSocketListener) Listen(addr string) error {
	if err := l.settings.ValidateTLS(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return gamenet.TransportError("websockets.Listen", err)
	}

	l.mu.Lock()
	l.ln = ln
	l.server = &http.Server{Handler: l}
	l.done = make(chan struct{})
	server, done := l.server, l.done
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "WebSocketListener.Listen",
		"addr":     ln.Addr().String(),
		"tls":      l.settings.SecuredWebSockets,
	}).Info("WebSocket listener started")

	go func() {
		defer close(done)
		var err error
		if l.settings.SecuredWebSockets {
			err = server.ServeTLS(ln, l.settings.TLSCertFile, l.settings.TLSKeyFile)
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "WebSocketListener.Listen",
				"error":    err.Error(),
			}).Error("WebSocket listener stopped")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *WebSocketListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close stops accepting and waits for the serve goroutine to exit.
// Upgraded connections are owned by their backends and stay open.
func (l *WebSocketListener) Close(ctx context.Context) error {
	l.mu.Lock()
	server, done := l.server, l.done
	l.server = nil
	l.mu.Unlock()

	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	<-done
	return err
}

// ServeHTTP handles incoming WebSocket connections. Plain HTTP requests
// are dropped without a response.
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		rejectPlainHTTP(w, r)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		logrus.WithFields(logrus.Fields{
			"function":    "WebSocketListener.ServeHTTP",
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		}).Debug("Failed to upgrade connection")
		return
	}

	if conn.Subprotocol() != Subprotocol {
		logrus.WithFields(logrus.Fields{
			"function":    "WebSocketListener.ServeHTTP",
			"remote_addr": r.RemoteAddr,
		}).Warn(gamenet.ErrMsgBadSubprotocol)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, gamenet.ErrMsgBadSubprotocol))
		conn.Close()
		return
	}

	l.accept(NewWebSocketConn(conn, l.settings.SendQueueSize))
}

func rejectPlainHTTP(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":    "rejectPlainHTTP",
		"remote_addr": r.RemoteAddr,
	}).Debug("Dropped non-upgrade request")
	conn.Close()
}
