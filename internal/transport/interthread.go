package transport

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/gamenet"
)

// SendFunc delivers bytes to the other end of an interthread pair. A
// zero-length payload announces that the sender has disconnected.
type SendFunc func(p []byte)

// Listener is registered by a server for a port. It is called once per
// dialing client with the function that reaches the client and returns the
// function that reaches the server side of the new pair.
type Listener func(toClient SendFunc) (toServer SendFunc)

// Registry maps ports to in-process listeners. A client and a server
// sharing a Registry can connect without touching the network.
type Registry struct {
	mu        sync.RWMutex
	listeners map[uint16]Listener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[uint16]Listener)}
}

// Register installs l on port. A port holds at most one listener.
func (r *Registry) Register(port uint16, l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[port]; ok {
		return gamenet.ConfigurationError("interthread.Register", fmt.Errorf("%s %d", gamenet.ErrMsgListenerExists, port))
	}
	r.listeners[port] = l
	return nil
}

// Unregister removes the listener on port, if any.
func (r *Registry) Unregister(port uint16) {
	r.mu.Lock()
	delete(r.listeners, port)
	r.mu.Unlock()
}

// Has reports whether a listener is registered on port.
func (r *Registry) Has(port uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.listeners[port]
	return ok
}

// Dial connects to the listener on port. The returned backend is connected
// at once.
func (r *Registry) Dial(port uint16) (*Interthread, error) {
	r.mu.RLock()
	l, ok := r.listeners[port]
	r.mu.RUnlock()
	if !ok {
		return nil, gamenet.TransportError("interthread.Dial", fmt.Errorf("%s %d", gamenet.ErrMsgNoListener, port))
	}

	b := newInterthread(port)
	toServer := l(b.receive)
	b.setPeer(toServer)

	logrus.WithFields(logrus.Fields{
		"function": "Registry.Dial",
		"port":     port,
	}).Debug("Interthread backend connected")
	return b, nil
}

// AcceptListener returns a Listener that wraps the server end of every new
// pair in an Interthread backend and hands it to accept.
func AcceptListener(port uint16, accept AcceptFunc) Listener {
	return func(toClient SendFunc) SendFunc {
		b := newInterthread(port)
		b.setPeer(toClient)
		accept(b)
		return b.receive
	}
}

// Interthread is the in-process backend. Sends are synchronous calls into
// the peer's inbox.
type Interthread struct {
	inbox
	state  *stateBox
	remote string

	peerMu sync.Mutex
	peer   SendFunc
}

var _ Backend = (*Interthread)(nil)

func newInterthread(port uint16) *Interthread {
	return &Interthread{
		inbox:  newInbox(),
		state:  newStateBox(gamenet.StateConnected),
		remote: fmt.Sprintf("interthread:%d", port),
	}
}

func (b *Interthread) setPeer(fn SendFunc) {
	b.peerMu.Lock()
	b.peer = fn
	b.peerMu.Unlock()
}

// receive is the SendFunc the peer calls.
func (b *Interthread) receive(p []byte) {
	if len(p) == 0 {
		if b.state.terminate() {
			b.setErr(gamenet.TransportError("interthread.read", errClosed))
		}
		b.notify()
		return
	}
	if b.state.Load() == gamenet.StateDisconnected {
		return
	}
	b.deliver(p)
}

func (b *Interthread) CheckStatus(forWrite bool) bool {
	if forWrite {
		return b.state.Load() == gamenet.StateConnected
	}
	return b.pending()
}

func (b *Interthread) SendData(p []byte) (int, error) {
	if b.state.Load() != gamenet.StateConnected {
		return 0, gamenet.TransportError("interthread.SendData", errClosed)
	}
	if len(p) == 0 {
		return 0, nil
	}

	b.peerMu.Lock()
	peer := b.peer
	b.peerMu.Unlock()
	if peer == nil {
		return 0, nil
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	peer(chunk)
	return len(p), nil
}

func (b *Interthread) ReceiveData() ([]byte, error) {
	return b.take(b.state.Load() == gamenet.StateDisconnected)
}

func (b *Interthread) Disconnect() {
	if !b.state.terminate() {
		return
	}
	b.peerMu.Lock()
	peer := b.peer
	b.peer = nil
	b.peerMu.Unlock()
	if peer != nil {
		peer(nil)
	}
	b.notify()
}

func (b *Interthread) State() gamenet.State {
	return b.state.Load()
}

func (b *Interthread) RemoteAddr() string {
	return b.remote
}
