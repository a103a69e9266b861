// Package transport implements the physical backends a connection talks
// through: raw TCP sockets (optionally via a proxy), WebSockets and the
// in-process interthread channel.
//
// A backend never frames, compresses or ciphers anything. It moves opaque
// byte chunks, owns its I/O goroutines and reports its state.
package transport

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/luciancaetano/gamenet"
)

// DefaultSendQueueSize is the number of chunks a backend buffers before
// SendData starts returning 0.
const DefaultSendQueueSize = 256

// Backend is one physical transport. A connection owns exactly one.
type Backend interface {
	// CheckStatus reports readiness. For writes it is true only when the
	// backend is connected and every queued chunk has been written. For
	// reads it is true when received bytes are waiting.
	CheckStatus(forWrite bool) bool

	// SendData queues p for delivery and returns the number of bytes
	// accepted. Zero with a nil error means the queue is full or the
	// backend is still connecting.
	SendData(p []byte) (int, error)

	// ReceiveData returns every byte received since the last call. Once
	// the buffered bytes are drained, a disconnected backend returns a
	// transport error.
	ReceiveData() ([]byte, error)

	// Disconnect closes the backend. It is idempotent.
	Disconnect()

	// State returns Connecting, Connected or Disconnected.
	State() gamenet.State

	// Ready signals that the backend has something for its owner:
	// received bytes, a state change or a drained send queue.
	Ready() <-chan struct{}

	RemoteAddr() string
}

var errClosed = errors.New(gamenet.ErrMsgConnectionClosed)

// stateBox holds a backend state. Transitions are compare-and-swap and
// Disconnected is terminal.
type stateBox struct {
	v atomic.Int32
}

func newStateBox(s gamenet.State) *stateBox {
	b := &stateBox{}
	b.v.Store(int32(s))
	return b
}

func (b *stateBox) Load() gamenet.State {
	return gamenet.State(b.v.Load())
}

func (b *stateBox) transition(from, to gamenet.State) bool {
	return b.v.CompareAndSwap(int32(from), int32(to))
}

// terminate moves to Disconnected and reports whether this call did it.
func (b *stateBox) terminate() bool {
	return gamenet.State(b.v.Swap(int32(gamenet.StateDisconnected))) != gamenet.StateDisconnected
}

// inbox collects received bytes for the owning connection and wakes it
// through a capacity-1 channel.
type inbox struct {
	mu    sync.Mutex
	data  []byte
	err   error
	ready chan struct{}
}

func newInbox() inbox {
	return inbox{ready: make(chan struct{}, 1)}
}

func (in *inbox) deliver(p []byte) {
	if len(p) == 0 {
		return
	}
	in.mu.Lock()
	in.data = append(in.data, p...)
	in.mu.Unlock()
	in.notify()
}

func (in *inbox) notify() {
	select {
	case in.ready <- struct{}{}:
	default:
	}
}

// setErr records the first failure.
func (in *inbox) setErr(err error) {
	in.mu.Lock()
	if in.err == nil {
		in.err = err
	}
	in.mu.Unlock()
}

func (in *inbox) pending() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.data) > 0
}

// take drains the inbox. The error is only reported once no bytes remain
// and the backend is gone.
func (in *inbox) take(disconnected bool) ([]byte, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.data) > 0 {
		data := in.data
		in.data = nil
		return data, nil
	}
	if !disconnected {
		return nil, nil
	}
	if in.err != nil {
		return nil, in.err
	}
	return nil, gamenet.TransportError("transport.ReceiveData", errClosed)
}

func (in *inbox) Ready() <-chan struct{} {
	return in.ready
}
