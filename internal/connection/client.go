package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
	"github.com/luciancaetano/gamenet/internal/metrics"
	"github.com/luciancaetano/gamenet/internal/transport"
)

// OnConnectResultFn receives the outcome of a connect attempt. It is called
// exactly once per Client.
type OnConnectResultFn = func(result gamenet.ConnectResult)

// OnDisconnectFn is called once when a connection is torn down.
type OnDisconnectFn = func(conn gamenet.Conn)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithOnConnectResult sets the connect result callback.
func WithOnConnectResult(fn OnConnectResultFn) ClientOption {
	return func(cl *Client) {
		cl.onResult = fn
	}
}

// WithClientOnDisconnect sets the callback run when the client connection
// is torn down.
func WithClientOnDisconnect(fn OnDisconnectFn) ClientOption {
	return func(cl *Client) {
		cl.onDisconnectFn = fn
	}
}

// WithClientMetrics records the client's traffic in m.
func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(cl *Client) {
		cl.recorder = m
	}
}

// Client is the connecting side of the protocol.
type Client struct {
	*Connection

	registry       *transport.Registry
	onResult       OnConnectResultFn
	onDisconnectFn OnDisconnectFn
	recorder       *metrics.Metrics
	resultOnce     sync.Once
	result         atomic.Int32
	connecting     atomic.Bool
}

// NewClient creates a client. The registry is only consulted for the
// interthread transport and may be nil.
func NewClient(settings *config.Settings, registry *transport.Registry, opts ...ClientOption) (*Client, error) {
	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	cl := &Client{registry: registry}
	cl.result.Store(-1)
	for _, opt := range opts {
		opt(cl)
	}

	c, err := newConnection(settings, sideClient, cl.recorder)
	if err != nil {
		return nil, err
	}
	cl.Connection = c
	c.onConnected = c.sendHandshake
	c.handle(gamenet.MsgHandshakeAnswer, cl.handleHandshakeAnswer)
	c.onDisconnect(func(*Connection) {
		cl.report(gamenet.ConnectFailed)
		if cl.onDisconnectFn != nil {
			cl.onDisconnectFn(cl)
		}
	})
	return cl, nil
}

// Connect picks a backend and starts connecting. Configuration problems are
// returned; every other outcome is reported through the connect result
// callback once Process or Run observes it.
func (cl *Client) Connect(ctx context.Context) error {
	if !cl.connecting.CompareAndSwap(false, true) {
		return gamenet.ConfigurationError("client.Connect", errors.New(gamenet.ErrMsgAlreadyConnecting))
	}

	b, err := cl.dial(ctx)
	if err != nil {
		if gamenet.IsKind(err, gamenet.KindConfiguration) {
			return err
		}
		cl.logger().WithFields(logrus.Fields{
			"function": "Client.Connect",
			"error":    err.Error(),
		}).Warn("Connect failed")
		cl.fail(err)
		return nil
	}

	cl.attach(b)
	return nil
}

func (cl *Client) dial(ctx context.Context) (transport.Backend, error) {
	s := cl.settings
	port := s.ServerPort

	switch s.Transport {
	case config.TransportInterthread:
		if cl.registry == nil {
			return nil, gamenet.TransportError("client.dial", errors.New(gamenet.ErrMsgNoListener))
		}
		return cl.registry.Dial(port)

	case config.TransportSockets:
		return transport.DialSockets(ctx, s)

	case config.TransportWebSockets:
		return transport.DialWebSockets(ctx, s)
	}

	if cl.registry != nil && cl.registry.Has(port) {
		return cl.registry.Dial(port)
	}
	if s.WantsWebSockets() {
		return transport.DialWebSockets(ctx, s)
	}
	return transport.DialSockets(ctx, s)
}

func (cl *Client) handleHandshakeAnswer(conn gamenet.Conn, r gamenet.Reader) error {
	result, err := cl.clientHandshakeAnswer(r)
	if err != nil {
		return err
	}
	cl.report(result)
	if result == gamenet.ConnectOutdated {
		cl.HardDisconnect()
	}
	return nil
}

func (cl *Client) report(result gamenet.ConnectResult) {
	cl.resultOnce.Do(func() {
		cl.result.Store(int32(result))
		cl.logger().WithFields(logrus.Fields{
			"function": "Client.report",
			"result":   result.String(),
		}).Debug("Connect result")
		if cl.onResult != nil {
			cl.onResult(result)
		}
	})
}

// Result returns the reported connect result, or false if none has been
// reported yet.
func (cl *Client) Result() (gamenet.ConnectResult, bool) {
	v := cl.result.Load()
	if v < 0 {
		return 0, false
	}
	return gamenet.ConnectResult(v), true
}
