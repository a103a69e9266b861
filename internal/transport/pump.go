package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/gamenet"
)

// conduit is the physical link under a pump: a TCP socket or a websocket.
type conduit interface {
	// readLoop delivers received bytes until the link fails or is closed.
	readLoop(deliver func([]byte)) error
	write(p []byte) error
	close() error
	remoteAddr() string
}

// keepalive is implemented by conduits that need periodic control frames.
type keepalive interface {
	keepaliveInterval() time.Duration
	ping() error
}

// pump is a Backend over a conduit. A read goroutine fills the inbox and a
// write goroutine drains the bounded send queue, so the owning connection
// never blocks on I/O.
type pump struct {
	inbox
	state *stateBox
	log   *logrus.Entry

	link   conduit // guarded by inbox.mu until attached
	remote string
	sendCh chan []byte
	queued atomic.Int64
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
	kind   string
}

func newPump(kind string, queueSize int, remote string) *pump {
	if queueSize <= 0 {
		queueSize = DefaultSendQueueSize
	}
	return &pump{
		inbox:  newInbox(),
		state:  newStateBox(gamenet.StateConnecting),
		remote: remote,
		sendCh: make(chan []byte, queueSize),
		done:   make(chan struct{}),
		kind:   kind,
		log: logrus.WithFields(logrus.Fields{
			"backend":     kind,
			"remote_addr": remote,
		}),
	}
}

// attach starts the I/O goroutines on c. It returns false, closing c, when
// the pump was disconnected while c was being established.
func (p *pump) attach(c conduit) bool {
	p.mu.Lock()
	if !p.state.transition(gamenet.StateConnecting, gamenet.StateConnected) {
		p.mu.Unlock()
		c.close()
		return false
	}
	p.link = c
	p.remote = c.remoteAddr()
	p.wg.Add(2)
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"function": "pump.attach",
		"peer":     c.remoteAddr(),
	}).Debug("Backend connected")

	go p.readPump()
	go p.writePump(c)
	p.notify()
	return true
}

func (p *pump) readPump() {
	defer p.wg.Done()
	err := p.link.readLoop(p.deliver)
	p.shutdown(gamenet.TransportError(p.kind+".read", err))
}

// writePump pumps chunks from the send queue to the link
func (p *pump) writePump(c conduit) {
	defer p.wg.Done()

	var tick <-chan time.Time
	ka, hasKeepalive := c.(keepalive)
	if hasKeepalive {
		ticker := time.NewTicker(ka.keepaliveInterval())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data := <-p.sendCh:
			err := c.write(data)
			left := p.queued.Add(-1)
			if err != nil {
				p.shutdown(gamenet.TransportError(p.kind+".write", err))
				return
			}
			if left == 0 {
				p.notify()
			}

		case <-tick:
			if err := ka.ping(); err != nil {
				p.shutdown(gamenet.TransportError(p.kind+".ping", err))
				return
			}

		case <-p.done:
			return
		}
	}
}

// fail aborts a pump that never got a link.
func (p *pump) fail(err error) {
	p.shutdown(err)
}

func (p *pump) shutdown(err error) {
	p.once.Do(func() {
		if err != nil {
			p.setErr(err)
			p.log.WithFields(logrus.Fields{
				"function": "pump.shutdown",
				"error":    err.Error(),
			}).Info("Backend disconnected")
		}

		p.mu.Lock()
		p.state.terminate()
		link := p.link
		p.mu.Unlock()

		if p.cancel != nil {
			p.cancel()
		}
		close(p.done)
		if link != nil {
			link.close()
		}
		p.notify()
	})
}

func (p *pump) CheckStatus(forWrite bool) bool {
	if forWrite {
		return p.state.Load() == gamenet.StateConnected && p.queued.Load() == 0
	}
	return p.inbox.pending()
}

func (p *pump) SendData(b []byte) (int, error) {
	switch p.state.Load() {
	case gamenet.StateConnecting:
		return 0, nil
	case gamenet.StateDisconnected:
		p.mu.Lock()
		err := p.err
		p.mu.Unlock()
		if err == nil {
			err = gamenet.TransportError(p.kind+".SendData", errClosed)
		}
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}

	chunk := make([]byte, len(b))
	copy(chunk, b)

	p.queued.Add(1)
	select {
	case p.sendCh <- chunk:
		return len(b), nil
	default:
		p.queued.Add(-1)
		return 0, nil
	}
}

func (p *pump) ReceiveData() ([]byte, error) {
	return p.take(p.state.Load() == gamenet.StateDisconnected)
}

// Disconnect closes the link and waits for the I/O goroutines to exit.
func (p *pump) Disconnect() {
	p.shutdown(nil)
	p.wg.Wait()
}

func (p *pump) State() gamenet.State {
	return p.state.Load()
}

func (p *pump) RemoteAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}
