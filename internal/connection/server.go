package connection

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
	"github.com/luciancaetano/gamenet/internal/metrics"
	"github.com/luciancaetano/gamenet/internal/transport"
)

// OnConnectFn is a callback function that is called when a client completes
// the handshake. This is the ideal place to:
//   - Track connected clients
//   - Send welcome messages
//   - Initialize client-specific state
//
// Note: This function runs on the connection's dispatch goroutine.
// Avoid long-running operations that would stall the connection.
type OnConnectFn = func(conn gamenet.Conn)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithOnConnect sets the callback run when a client completes the handshake.
func WithOnConnect(fn OnConnectFn) ServerOption {
	return func(s *Server) {
		s.onConnect = fn
	}
}

// WithOnDisconnect sets the callback run when a handshaken client goes away.
func WithOnDisconnect(fn OnDisconnectFn) ServerOption {
	return func(s *Server) {
		s.onDisconnect = fn
	}
}

// WithCheckOrigin sets the origin policy of the websocket listener.
func WithCheckOrigin(fn transport.CheckOriginFn) ServerOption {
	return func(s *Server) {
		s.checkOrigin = fn
	}
}

// WithServerMetrics records the traffic of every accepted connection in m.
func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server accepts connections over every configured transport
type Server struct {
	settings *config.Settings
	registry *transport.Registry

	onConnect    OnConnectFn
	onDisconnect OnDisconnectFn
	checkOrigin  transport.CheckOriginFn
	metrics      *metrics.Metrics

	handlers sync.Map // map[gamenet.NetMessage]gamenet.Handler
	conns    sync.Map // map[string]*Connection

	mu         sync.Mutex
	running    bool
	registered bool
	tcp        *transport.TCPListener
	ws         *transport.WebSocketListener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

var _ gamenet.Server = (*Server)(nil)

// NewServer creates a server. A nil registry disables the interthread
// listener.
func NewServer(settings *config.Settings, registry *transport.Registry, opts ...ServerOption) *Server {
	if settings == nil {
		settings = config.Default()
	}
	s := &Server{
		settings: settings,
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the listeners: TCP on ServerPort unless the transport is
// restricted to websockets or interthread, websockets on WebSocketsPort if
// set, and the interthread listener on ServerPort if a registry was given.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return gamenet.ConfigurationError("server.Start", errors.New(gamenet.ErrMsgServerRunning))
	}
	if err := s.settings.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.settings.WebSocketsPort > 0 {
		if err := s.settings.ValidateTLS(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.mu.Unlock()

	if err := s.listen(); err != nil {
		s.Shutdown(ctx)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Server.Start",
		"port":            s.settings.ServerPort,
		"websockets_port": s.settings.WebSocketsPort,
		"interthread":     s.registry != nil,
	}).Info("Server started")
	return nil
}

func (s *Server) listen() error {
	port := s.settings.ServerPort

	if s.registry != nil {
		if err := s.registry.Register(port, transport.AcceptListener(port, s.accept)); err != nil {
			return err
		}
		s.mu.Lock()
		s.registered = true
		s.mu.Unlock()
	}

	switch s.settings.Transport {
	case config.TransportAuto, config.TransportSockets:
		if port > 0 {
			tcp, err := transport.ListenTCP(s.settings.ServerAddr(), s.settings, s.accept)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.tcp = tcp
			s.mu.Unlock()
		}
	}

	if wsPort := s.settings.WebSocketsPort; wsPort > 0 {
		ws := transport.NewWebSocketListener(s.settings, s.checkOrigin, s.accept)
		if err := ws.Listen(s.settings.HostAddr(wsPort)); err != nil {
			return err
		}
		s.mu.Lock()
		s.ws = ws
		s.mu.Unlock()
	}
	return nil
}

// TCPAddr returns the bound sockets address, or nil.
func (s *Server) TCPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcp == nil {
		return nil
	}
	return s.tcp.Addr()
}

// WebSocketsAddr returns the bound websockets address, or nil.
func (s *Server) WebSocketsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return nil
	}
	return s.ws.Addr()
}

// Shutdown stops the listeners, hard-disconnects every connection and waits
// for their goroutines to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	registered, tcp, ws := s.registered, s.tcp, s.ws
	s.registered, s.tcp, s.ws = false, nil, nil
	s.mu.Unlock()

	// Listeners may be blocked in accept on s.mu, so close them unlocked.
	if registered {
		s.registry.Unregister(s.settings.ServerPort)
	}
	if tcp != nil {
		tcp.Close()
	}
	if ws != nil {
		if err := ws.Close(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.Shutdown",
				"error":    err.Error(),
			}).Warn("WebSocket listener shutdown")
		}
	}

	s.conns.Range(func(key, value any) bool {
		value.(*Connection).HardDisconnect()
		return true
	})
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.WithField("function", "Server.Shutdown").Info("Server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accept turns a backend into a server-side connection and runs it.
func (s *Server) accept(b transport.Backend) {
	c, err := newConnection(s.settings, sideServer, s.metrics)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.accept",
			"error":    err.Error(),
		}).Error("Failed to create connection")
		b.Disconnect()
		return
	}

	c.limiter = s.settings.RateLimit.NewLimiter()
	s.handlers.Range(func(key, value any) bool {
		c.handle(key.(gamenet.NetMessage), value.(gamenet.Handler))
		return true
	})
	c.handle(gamenet.MsgHandshake, func(conn gamenet.Conn, r gamenet.Reader) error {
		return c.serverHandshake(r, func() {
			if s.onConnect != nil {
				s.onConnect(c)
			}
		})
	})
	c.onDisconnect(func(c *Connection) {
		s.conns.Delete(c.ID())
		if c.handshaken.Load() && s.onDisconnect != nil {
			s.onDisconnect(c)
		}
	})

	c.attach(b)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		c.HardDisconnect()
		return
	}
	s.conns.Store(c.ID(), c)
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		c.Run(ctx)
	}()
}

// RegisterHandler registers a handler installed on every connection
// accepted afterwards.
func (s *Server) RegisterHandler(msg gamenet.NetMessage, handler gamenet.Handler) error {
	if msg.IsReserved() {
		return gamenet.ConfigurationError("server.RegisterHandler", errors.New(gamenet.ErrMsgReservedMessage))
	}
	s.handlers.Store(msg, handler)
	return nil
}

// Broadcast sends a message to every handshaken connection.
func (s *Server) Broadcast(msg gamenet.NetMessage, build func(w gamenet.Writer)) error {
	var errs []error
	s.conns.Range(func(key, value any) bool {
		c := value.(*Connection)
		if c.IsConnected() {
			if err := c.Send(msg, build); err != nil {
				errs = append(errs, err)
			}
		}
		return true
	})
	return errors.Join(errs...)
}

// Connection returns a connection by ID
func (s *Server) Connection(id string) (gamenet.Conn, bool) {
	if c, ok := s.conns.Load(id); ok {
		return c.(*Connection), true
	}
	return nil, false
}

// Connections returns every open connection.
func (s *Server) Connections() []gamenet.Conn {
	var out []gamenet.Conn
	s.conns.Range(func(key, value any) bool {
		out = append(out, value.(*Connection))
		return true
	})
	return out
}
