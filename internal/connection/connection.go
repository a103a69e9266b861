// Package connection implements the connection protocol shared by clients
// and servers: the handshake, ping, graceful and hard disconnects, and the
// dispatch tick that moves bytes between a backend and the message buffers.
package connection

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/compress"
	"github.com/luciancaetano/gamenet/internal/config"
	"github.com/luciancaetano/gamenet/internal/metrics"
	"github.com/luciancaetano/gamenet/internal/netbuf"
	"github.com/luciancaetano/gamenet/internal/transport"
)

const (
	sideClient = "client"
	sideServer = "server"

	disconnectHard     = "hard"
	disconnectGraceful = "graceful"
	disconnectPeer     = "peer"
)

var (
	errClosed        = errors.New(gamenet.ErrMsgConnectionClosed)
	errNotHandshaken = errors.New(gamenet.ErrMsgNotHandshaken)
)

// Stats is a snapshot of a connection's counters.
type Stats struct {
	// WireBytesSent and WireBytesReceived count bytes as they cross the
	// backend, after compression.
	WireBytesSent     uint64
	WireBytesReceived uint64
	// PayloadBytesSent and PayloadBytesReceived count framed message bytes.
	PayloadBytesSent     uint64
	PayloadBytesReceived uint64
	MessagesSent         uint64
	MessagesReceived     uint64
	RTT                  time.Duration
}

// Connection is the protocol core driving one backend.
//
// Process may be called from one goroutine at a time. Send and the
// disconnect methods are safe to call from any goroutine, including from a
// handler running inside Process.
type Connection struct {
	id       string
	side     string
	settings *config.Settings
	metrics  *metrics.Metrics
	log      atomic.Pointer[logrus.Entry]

	ctx    context.Context
	cancel context.CancelFunc

	backendMu sync.RWMutex
	backend   transport.Backend

	inMu     sync.Mutex
	in       *netbuf.InBuffer
	decomp   *compress.Decompressor
	inflated []byte

	outMu   sync.Mutex
	out     *netbuf.OutBuffer
	comp    *compress.Compressor
	backlog []byte

	handlers sync.Map // map[gamenet.NetMessage]gamenet.Handler
	limiter  *rate.Limiter

	state        atomic.Int32
	handshaken   atomic.Bool
	graceful     atomic.Bool
	disconnected atomic.Bool
	wake         chan struct{}

	// Owned by Process.
	procMu      sync.Mutex
	linkedAt    time.Time
	lagUntil    time.Time
	onConnected func()
	linked      atomic.Bool

	pingMu       sync.Mutex
	pingInFlight bool
	pingSentAt   time.Time
	rtt          atomic.Int64

	wireSent, wireReceived       atomic.Uint64
	payloadSent, payloadReceived atomic.Uint64
	msgsSent, msgsReceived       atomic.Uint64

	hookMu sync.Mutex
	hooks  []func(*Connection)
}

var _ gamenet.Conn = (*Connection)(nil)

func newConnection(settings *config.Settings, side string, m *metrics.Metrics) (*Connection, error) {
	comp, err := compress.NewCompressor(!settings.DisableCompression)
	if err != nil {
		return nil, gamenet.ConfigurationError("connection.New", err)
	}
	hasher := netbuf.DebugHasher(settings.DebugHashes)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.New().String(),
		side:     side,
		settings: settings,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		in:       netbuf.NewInBuffer(settings.BufferSize, hasher),
		decomp:   compress.NewDecompressor(!settings.DisableCompression),
		out:      netbuf.NewOutBuffer(settings.BufferSize, hasher),
		comp:     comp,
		wake:     make(chan struct{}, 1),
	}
	c.log.Store(logrus.WithFields(logrus.Fields{
		"conn_id": c.id,
		"side":    side,
	}))

	c.handle(gamenet.MsgPing, c.handlePing)
	c.handle(gamenet.MsgDisconnect, c.handleDisconnect)
	return c, nil
}

func (c *Connection) logger() *logrus.Entry {
	return c.log.Load()
}

// attach hands the backend to the connection. It is called once.
func (c *Connection) attach(b transport.Backend) {
	c.backendMu.Lock()
	c.backend = b
	c.backendMu.Unlock()

	c.log.Store(c.logger().WithField("remote_addr", b.RemoteAddr()))
	c.setState(gamenet.StateConnecting)
	c.wakeUp()
}

func (c *Connection) getBackend() transport.Backend {
	c.backendMu.RLock()
	defer c.backendMu.RUnlock()
	return c.backend
}

func (c *Connection) setState(s gamenet.State) {
	c.state.Store(int32(s))
}

func (c *Connection) wakeUp() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) RemoteAddr() string {
	if b := c.getBackend(); b != nil {
		return b.RemoteAddr()
	}
	return ""
}

// Context returns the connection's lifecycle context
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) State() gamenet.State {
	return gamenet.State(c.state.Load())
}

func (c *Connection) IsConnected() bool {
	return c.State() == gamenet.StateConnected
}

func (c *Connection) RTT() time.Duration {
	return time.Duration(c.rtt.Load())
}

// Stats returns a snapshot of the connection counters.
func (c *Connection) Stats() Stats {
	return Stats{
		WireBytesSent:        c.wireSent.Load(),
		WireBytesReceived:    c.wireReceived.Load(),
		PayloadBytesSent:     c.payloadSent.Load(),
		PayloadBytesReceived: c.payloadReceived.Load(),
		MessagesSent:         c.msgsSent.Load(),
		MessagesReceived:     c.msgsReceived.Load(),
		RTT:                  c.RTT(),
	}
}

// RegisterHandler installs the handler for an application message type.
func (c *Connection) RegisterHandler(msg gamenet.NetMessage, handler gamenet.Handler) error {
	if msg.IsReserved() {
		return gamenet.ConfigurationError("connection.RegisterHandler", fmt.Errorf("%s: %s", gamenet.ErrMsgReservedMessage, msg))
	}
	c.handle(msg, handler)
	return nil
}

func (c *Connection) handle(msg gamenet.NetMessage, handler gamenet.Handler) {
	c.handlers.Store(msg, handler)
}

// onDisconnect registers a hook run once when the connection is torn down.
func (c *Connection) onDisconnect(fn func(*Connection)) {
	c.hookMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hookMu.Unlock()
}

// Send frames one application message and wakes the dispatch loop.
func (c *Connection) Send(msg gamenet.NetMessage, build func(w gamenet.Writer)) error {
	if msg.IsReserved() {
		return gamenet.ProtocolError("connection.Send", fmt.Errorf("%s: %s", gamenet.ErrMsgReservedMessage, msg))
	}
	if c.disconnected.Load() || c.graceful.Load() {
		return gamenet.TransportError("connection.Send", errClosed)
	}
	if !c.handshaken.Load() {
		return gamenet.ProtocolError("connection.Send", errNotHandshaken)
	}
	return c.frame(msg, build, 0)
}

// frame appends one message to the out buffer. A non-zero key becomes the
// out key right after the message, under the same lock.
func (c *Connection) frame(msg gamenet.NetMessage, build func(w gamenet.Writer), key uint32) error {
	if c.disconnected.Load() {
		return gamenet.TransportError("connection.Send", errClosed)
	}

	c.outMu.Lock()
	if err := c.out.StartMsg(msg); err != nil {
		c.outMu.Unlock()
		return err
	}
	if build != nil {
		build(c.out)
	}
	err := c.out.EndMsg()
	if err == nil && key != 0 {
		c.out.SetEncryptKey(key)
	}
	c.outMu.Unlock()

	if err != nil {
		return err
	}
	c.msgsSent.Add(1)
	c.metrics.IncMessages(metrics.DirectionOut)
	c.wakeUp()
	return nil
}

// setInKey switches the key used for messages read after the current one.
func (c *Connection) setInKey(key uint32) {
	c.inMu.Lock()
	c.in.SetEncryptKey(key)
	c.inMu.Unlock()
}

func (c *Connection) markHandshaken() {
	c.handshaken.Store(true)
	c.setState(gamenet.StateConnected)
	c.logger().WithField("function", "markHandshaken").Info("Connection established")
}

// Process runs one dispatch tick: receive, dispatch, ping, flush and
// disconnect bookkeeping. It never blocks on I/O.
func (c *Connection) Process() {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	if c.disconnected.Load() {
		return
	}
	b := c.getBackend()
	if b == nil {
		return
	}

	now := time.Now()
	if c.lagging(now) {
		return
	}

	if !c.linked.Load() && b.State() == gamenet.StateConnected {
		c.linked.Store(true)
		c.linkedAt = now
		c.setState(gamenet.StateHandshaking)
		c.metrics.Connected()
		if c.onConnected != nil {
			c.onConnected()
		}
	}

	if err := c.receive(b); err != nil {
		c.fail(err)
		return
	}
	if !c.dispatch() {
		return
	}

	if c.linked.Load() && !c.handshaken.Load() && c.settings.ConnectTimeout > 0 &&
		now.Sub(c.linkedAt) > c.settings.ConnectTimeout {
		c.fail(c.handshakeTimeout())
		return
	}

	c.maybePing(now)

	if err := c.flush(b); err != nil {
		c.fail(err)
		return
	}

	if c.graceful.Load() && c.drained() && b.CheckStatus(true) {
		c.teardown(disconnectGraceful, nil)
		return
	}
	if b.State() == gamenet.StateDisconnected && !b.CheckStatus(false) {
		_, err := b.ReceiveData()
		if err == nil {
			err = gamenet.TransportError("connection.Process", errClosed)
		}
		c.fail(err)
	}
}

func (c *Connection) handshakeTimeout() error {
	if c.side == sideServer {
		return gamenet.HandshakeError("connection.handshake", errors.New("no handshake from peer"))
	}
	return gamenet.TransportError("connection.handshake", errors.New("no handshake answer"))
}

// lagging reports whether the tick must be deferred to simulate latency.
func (c *Connection) lagging(now time.Time) bool {
	lo, hi := c.settings.ArtificialLagMin, c.settings.ArtificialLagMax
	if hi <= 0 {
		return false
	}
	if c.lagUntil.IsZero() {
		lag := lo
		if hi > lo {
			lag += rand.N(hi - lo + 1)
		}
		c.lagUntil = now.Add(lag)
	}
	if now.Before(c.lagUntil) {
		return true
	}
	c.lagUntil = time.Time{}
	return false
}

func (c *Connection) receive(b transport.Backend) error {
	data, err := b.ReceiveData()
	if len(data) > 0 {
		c.wireReceived.Add(uint64(len(data)))
		c.metrics.AddBytes(metrics.DirectionIn, metrics.LayerWire, len(data))

		flood := c.settings.FloodSize

		c.inMu.Lock()
		budget := 0
		if flood > 0 {
			budget = max(flood-c.in.Len(), 1)
		}
		inflated, derr := c.decomp.Decompress(data, c.inflated[:0], budget)
		c.inflated = inflated[:0]
		if derr == nil {
			c.in.AddData(inflated)
		}
		unread := c.in.Len()
		c.inMu.Unlock()

		c.payloadReceived.Add(uint64(len(inflated)))
		c.metrics.AddBytes(metrics.DirectionIn, metrics.LayerPayload, len(inflated))

		if errors.Is(derr, compress.ErrOutputLimit) {
			return gamenet.ProtocolError("connection.receive", fmt.Errorf("%s: more than %d bytes unread", gamenet.ErrMsgFlood, flood))
		}
		if derr != nil {
			return gamenet.ProtocolError("connection.receive", derr)
		}
		if flood > 0 && unread > flood {
			return gamenet.ProtocolError("connection.receive", fmt.Errorf("%s: %d bytes unread", gamenet.ErrMsgFlood, unread))
		}
	}
	return err
}

// dispatch runs the handler of every complete buffered message. It returns
// false once the connection has been torn down.
func (c *Connection) dispatch() bool {
	for !c.disconnected.Load() {
		c.inMu.Lock()
		if !c.in.NeedProcess() {
			c.inMu.Unlock()
			break
		}
		msg, err := c.in.ReadMsg()
		var r *netbuf.Reader
		if err == nil {
			r = c.in.Detach()
		}
		c.inMu.Unlock()

		if err == nil {
			err = c.dispatchOne(msg, r)
		}
		if err != nil {
			c.fail(err)
			return false
		}
	}
	return !c.disconnected.Load()
}

func (c *Connection) dispatchOne(msg gamenet.NetMessage, r *netbuf.Reader) error {
	if c.limiter != nil && !c.limiter.Allow() {
		return gamenet.ProtocolError("connection.dispatch", errors.New(gamenet.ErrMsgRateLimited))
	}
	if !msg.IsReserved() && !c.handshaken.Load() {
		return gamenet.ProtocolError("connection.dispatch", fmt.Errorf("%s: %s", gamenet.ErrMsgNotHandshaken, msg))
	}
	h, ok := c.handlers.Load(msg)
	if !ok {
		return gamenet.ProtocolError("connection.dispatch", fmt.Errorf("%s: %s", gamenet.ErrMsgUnknownMessage, msg))
	}

	c.msgsReceived.Add(1)
	c.metrics.IncMessages(metrics.DirectionIn)

	if err := h.(gamenet.Handler)(c, r); err != nil {
		if gamenet.KindOf(err) != 0 {
			return err
		}
		return gamenet.ProtocolError("connection.dispatch", fmt.Errorf("%s: %w", msg, err))
	}
	if c.disconnected.Load() {
		return nil
	}
	if r.Remaining() > 0 {
		return gamenet.ProtocolError("connection.dispatch", fmt.Errorf("%s: %w", msg, netbuf.ErrUnconsumedPayload))
	}
	return nil
}

// flush compresses pending frames into the wire backlog and hands as much
// of it as the backend accepts.
func (c *Connection) flush(b transport.Backend) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	if data := c.out.GetData(); len(data) > 0 {
		z, err := c.comp.Compress(data)
		if err != nil {
			return gamenet.ProtocolError("connection.flush", err)
		}
		c.backlog = append(c.backlog, z...)
		c.payloadSent.Add(uint64(len(data)))
		c.metrics.AddBytes(metrics.DirectionOut, metrics.LayerPayload, len(data))
		c.out.DiscardWriteBuf(len(data))
	}

	for len(c.backlog) > 0 {
		n, err := b.SendData(c.backlog)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		c.wireSent.Add(uint64(n))
		c.metrics.AddBytes(metrics.DirectionOut, metrics.LayerWire, n)
		c.backlog = append(c.backlog[:0], c.backlog[n:]...)
	}
	return nil
}

func (c *Connection) drained() bool {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.out.IsEmpty() && len(c.backlog) == 0
}

// Run drives Process until the connection is torn down or ctx is done. A
// cancelled ctx hard-disconnects the connection.
func (c *Connection) Run(ctx context.Context) error {
	interval := c.settings.TickInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.Process()
		if c.disconnected.Load() {
			return nil
		}

		var ready <-chan struct{}
		if b := c.getBackend(); b != nil {
			ready = b.Ready()
		}

		select {
		case <-ctx.Done():
			c.HardDisconnect()
			return ctx.Err()
		case <-c.ctx.Done():
			return nil
		case <-ready:
		case <-c.wake:
		case <-ticker.C:
		}
	}
}

// GracefulDisconnect notifies the peer and tears the connection down once
// the notification has been flushed. It is idempotent.
func (c *Connection) GracefulDisconnect() {
	if c.disconnected.Load() || !c.graceful.CompareAndSwap(false, true) {
		return
	}
	b := c.getBackend()
	if b == nil || b.State() != gamenet.StateConnected {
		c.teardown(disconnectGraceful, nil)
		return
	}

	c.logger().WithField("function", "GracefulDisconnect").Debug("Disconnecting")
	if err := c.frame(gamenet.MsgDisconnect, nil, 0); err != nil {
		c.fail(err)
	}
}

// HardDisconnect tears the connection down immediately. It is idempotent.
func (c *Connection) HardDisconnect() {
	c.teardown(disconnectHard, nil)
}

func (c *Connection) fail(err error) {
	c.teardown(disconnectHard, err)
}

func (c *Connection) teardown(kind string, reason error) {
	if !c.disconnected.CompareAndSwap(false, true) {
		return
	}

	entry := c.logger().WithFields(logrus.Fields{
		"function": "teardown",
		"kind":     kind,
	})
	if reason != nil {
		entry.WithField("error", reason.Error()).Warn("Connection dropped")
	} else {
		entry.Info("Connection closed")
	}

	if b := c.getBackend(); b != nil {
		b.Disconnect()
	}

	c.inMu.Lock()
	c.in.Reset()
	c.decomp.Close()
	c.inMu.Unlock()

	c.outMu.Lock()
	c.out.Reset()
	c.comp.Reset()
	c.backlog = nil
	c.outMu.Unlock()

	c.setState(gamenet.StateDisconnected)
	c.cancel()

	if c.linked.Load() {
		c.metrics.Disconnected(kind)
	}

	c.hookMu.Lock()
	hooks := c.hooks
	c.hooks = nil
	c.hookMu.Unlock()
	for _, fn := range hooks {
		fn(c)
	}
}

func (c *Connection) handleDisconnect(conn gamenet.Conn, r gamenet.Reader) error {
	c.logger().WithField("function", "handleDisconnect").Debug("Peer disconnected")
	c.teardown(disconnectPeer, nil)
	return nil
}
